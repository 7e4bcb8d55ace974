package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"
	"approval-workflow-service/internal/services"

	"github.com/sirupsen/logrus"
)

const reminderBatchSize = 100

// ReminderJob re-notifies the current approver of requests that have been
// waiting on the same level for longer than the configured age. It never
// changes the state of a request.
type ReminderJob struct {
	requests repository.RequestRepositoryInterface
	notifier services.Notifier
	logger   *logrus.Entry
	interval time.Duration
	after    time.Duration
	stopCh   chan struct{}
}

// NewReminderJob creates a new reminder job
func NewReminderJob(requests repository.RequestRepositoryInterface, notifier services.Notifier, interval, after time.Duration, logger *logrus.Logger) *ReminderJob {
	return &ReminderJob{
		requests: requests,
		notifier: notifier,
		logger:   logger.WithField("component", "reminder_job"),
		interval: interval,
		after:    after,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the reminder check on every tick until Stop is called or ctx is done
func (j *ReminderJob) Start(ctx context.Context) {
	j.logger.WithFields(logrus.Fields{"interval": j.interval, "after": j.after}).Info("Reminder job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunOnce(ctx, time.Now())

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx, time.Now())
		case <-j.stopCh:
			j.logger.Info("Reminder job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Reminder job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *ReminderJob) Stop() {
	close(j.stopCh)
}

// RunOnce sends one round of reminders and returns how many were sent
func (j *ReminderJob) RunOnce(ctx context.Context, now time.Time) int {
	requests, err := j.requests.ListStalePending(ctx, now.Add(-j.after), reminderBatchSize)
	if err != nil {
		j.logger.WithError(err).Error("Failed to find stale pending requests")
		return 0
	}
	if len(requests) == 0 {
		j.logger.Debug("No stale pending requests")
		return 0
	}

	sent := 0
	for i := range requests {
		reminded, err := j.remind(ctx, &requests[i], now)
		if err != nil {
			j.logger.WithError(err).WithField("requestID", requests[i].ID).Error("Failed to send reminder")
			continue
		}
		if reminded {
			sent++
		}
	}

	j.logger.WithFields(logrus.Fields{"found": len(requests), "sent": sent}).Info("Approval reminders sent")
	return sent
}

func (j *ReminderJob) remind(ctx context.Context, request *models.ApprovalRequest, now time.Time) (bool, error) {
	step := request.CurrentStep()
	if step == nil || step.ApproverID == nil {
		return false, nil
	}

	// Stamp first so a second instance running the same tick skips the step
	if err := j.requests.MarkStepReminded(ctx, step.ID, now.Add(-j.after), now); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return false, nil
		}
		return false, err
	}

	metadata, _ := json.Marshal(map[string]interface{}{
		"approver_id":   step.ApproverID.String(),
		"waiting_since": request.UpdatedAt.UTC().Format(time.RFC3339),
	})
	status := request.OverallStatus().String()
	if err := j.requests.CreateAuditLog(ctx, &models.ApprovalAuditLog{
		RequestID:      request.ID,
		TenantID:       request.TenantID,
		EventType:      models.AuditEventReminded,
		Level:          request.CurrentLevel,
		PreviousStatus: status,
		NewStatus:      status,
		Metadata:       metadata,
	}); err != nil {
		j.logger.WithError(err).WithField("requestID", request.ID).Error("Failed to create reminder audit log")
	}

	if j.notifier == nil {
		return true, nil
	}
	if err := j.notifier.Notify(ctx, *step.ApproverID, models.NotifyReminder, models.NewNotificationPayload(request, nil, "")); err != nil {
		return false, err
	}
	return true, nil
}
