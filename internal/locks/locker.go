package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when the lock is held by someone else
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held critical section
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out per-request critical sections
type Locker interface {
	Obtain(ctx context.Context, requestID uuid.UUID) (Lock, error)
}

// RequestLockKey returns the lock key of an approval request
func RequestLockKey(requestID uuid.UUID) string {
	return fmt.Sprintf("approval:request:%s", requestID)
}

// RedisLocker serializes work on a request across service instances
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewRedisLocker creates a RedisLocker. A held lock expires after ttl; a
// waiter retries up to retries times, backoff apart.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, retries int, backoff time.Duration) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		retries: retries,
		backoff: backoff,
	}
}

// Obtain acquires the request lock, waiting briefly for a concurrent holder
func (l *RedisLocker) Obtain(ctx context.Context, requestID uuid.UUID) (Lock, error) {
	lock, err := l.client.Obtain(ctx, RequestLockKey(requestID), l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// LocalLocker serializes work on a request inside one process. Used when no
// Redis is configured and in tests.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[uuid.UUID]*localEntry)}
}

// Obtain blocks until the request lock is free or ctx is done
func (l *LocalLocker) Obtain(ctx context.Context, requestID uuid.UUID) (Lock, error) {
	l.mu.Lock()
	entry, ok := l.locks[requestID]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[requestID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return &localLock{locker: l, id: requestID, entry: entry}, nil
	case <-ctx.Done():
		l.unref(requestID, entry)
		return nil, ErrNotObtained
	}
}

func (l *LocalLocker) unref(id uuid.UUID, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
}

type localLock struct {
	locker *LocalLocker
	id     uuid.UUID
	entry  *localEntry
	once   sync.Once
}

func (k *localLock) Release(ctx context.Context) error {
	k.once.Do(func() {
		<-k.entry.ch
		k.locker.unref(k.id, k.entry)
	})
	return nil
}

// Size returns the number of requests currently locked or waited on
func (l *LocalLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
