package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"
	"approval-workflow-service/internal/seeders"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testTenant                     = "tenant-a"
	testRequester models.UserID    = 30
	testUnit      models.OrgUnitID = 100
	testHead      models.UserID    = 7
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newTestDB opens an isolated in-memory sqlite database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.ApprovalLevelPolicy{},
		&models.ApprovalRequest{},
		&models.ApprovalStep{},
		&models.ApprovalHistoryEntry{},
		&models.ApprovalAuditLog{},
		&models.DirectoryUser{},
		&models.OrgUnit{},
	))
	return db
}

type sentNotification struct {
	UserID  models.UserID
	Event   models.NotificationEvent
	Payload models.NotificationPayload
}

// recordingNotifier records every notification handed to it
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentNotification
	err     error
	explode bool
}

func (n *recordingNotifier) Notify(ctx context.Context, userID models.UserID, event models.NotificationEvent, payload models.NotificationPayload) error {
	n.mu.Lock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Event: event, Payload: payload})
	n.mu.Unlock()
	if n.explode {
		panic("notification backend exploded")
	}
	return n.err
}

func (n *recordingNotifier) last() sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentNotification{}
	}
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type engineFixture struct {
	db        *gorm.DB
	policies  *repository.PolicyRepository
	requests  *repository.RequestRepository
	directory *repository.DirectoryRepository
	notifier  *recordingNotifier
	service   *ApprovalService
}

// newEngineFixture builds an engine over sqlite with the default global
// chain and this directory:
//
//	unit 100 head: 7
//	finance_officer: 12, procurement_manager: 15, finance_director: 20,
//	general_manager: 22 and 23, requester 30
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)
	log := testLogger()

	f := &engineFixture{
		db:        db,
		policies:  repository.NewPolicyRepository(db),
		requests:  repository.NewRequestRepository(db),
		directory: repository.NewDirectoryRepository(db),
		notifier:  &recordingNotifier{},
	}

	require.NoError(t, f.policies.CreateBatch(ctx, seeders.DefaultGlobalPolicies()))

	f.saveUser(t, testHead, "department_head", true)
	f.saveUser(t, 12, "finance_officer", true)
	f.saveUser(t, 15, "procurement_manager", true)
	f.saveUser(t, 20, "finance_director", true)
	f.saveUser(t, 23, "general_manager", true)
	f.saveUser(t, 22, "general_manager", true)
	f.saveUser(t, testRequester, "staff", true)
	require.NoError(t, f.directory.SaveOrgUnit(ctx, &models.OrgUnit{ID: testUnit, TenantID: testTenant, Name: "Operations", HeadUserID: testHead.Ptr()}))

	f.service = NewApprovalService(
		f.requests,
		NewPolicyResolver(f.policies, log),
		NewApproverResolver(f.directory, log),
		nil,
		f.notifier,
		log,
	)
	return f
}

func (f *engineFixture) saveUser(t *testing.T, id models.UserID, role models.RoleID, active bool) {
	t.Helper()
	require.NoError(t, f.directory.SaveUser(context.Background(), &models.DirectoryUser{
		UserID:   id,
		TenantID: testTenant,
		Name:     fmt.Sprintf("user-%d", id),
		Role:     role,
		Active:   active,
	}))
}

func (f *engineFixture) draft(t *testing.T, amount string) *models.ApprovalRequest {
	t.Helper()
	request, err := f.service.CreateDraft(context.Background(), testTenant, testRequester, CreateDraftInput{
		ReferenceType: "purchase_requisition",
		ReferenceID:   "PR-" + uuid.NewString()[:8],
		Amount:        decimal.RequireFromString(amount),
		OrgUnitID:     testUnit,
	})
	require.NoError(t, err)
	return request
}

func (f *engineFixture) submitted(t *testing.T, amount string) *models.ApprovalRequest {
	t.Helper()
	request := f.draft(t, amount)
	result, err := f.service.Submit(context.Background(), testTenant, request.ID, testRequester)
	require.NoError(t, err)
	return result.Request
}

func (f *engineFixture) reload(t *testing.T, id uuid.UUID) *models.ApprovalRequest {
	t.Helper()
	request, err := f.service.GetRequest(context.Background(), testTenant, id)
	require.NoError(t, err)
	return request
}

func pending(level int) models.OverallStatus {
	return models.OverallStatus{Status: models.StatusPending, Level: level}
}
