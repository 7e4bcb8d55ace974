package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"approval-workflow-service/internal/models"

	sharedevents "github.com/Tesseract-Nexus/go-shared/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrPublisherUnavailable is returned when no event publisher is configured
var ErrPublisherUnavailable = errors.New("approval event publisher is not configured")

// ApprovalActionType is the action type stamped on every approval event
const ApprovalActionType = "monetary_request.approval"

// ApprovalPublisher is the part of the go-shared publisher the notifier uses
type ApprovalPublisher interface {
	PublishApproval(ctx context.Context, event *sharedevents.ApprovalEvent) error
}

// Notifier turns approval notifications into approval events on NATS.
// Publishing happens in the background; Notify never blocks on the broker.
type Notifier struct {
	publisher ApprovalPublisher
	logger    *logrus.Entry
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewNotifier creates a new Notifier
func NewNotifier(publisher ApprovalPublisher, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Notifier{
		publisher: publisher,
		logger:    logger.WithField("component", "approval-events"),
		timeout:   10 * time.Second,
	}
}

// Notify queues an event addressed to userID
func (n *Notifier) Notify(ctx context.Context, userID models.UserID, event models.NotificationEvent, payload models.NotificationPayload) error {
	if n.publisher == nil {
		return ErrPublisherUnavailable
	}

	approvalEvent, err := buildApprovalEvent(userID, event, payload)
	if err != nil {
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		fields := logrus.Fields{
			"eventType":         approvalEvent.EventType,
			"approvalRequestID": approvalEvent.ApprovalRequestID,
			"tenantID":          approvalEvent.TenantID,
			"recipient":         userID,
		}
		if err := n.publisher.PublishApproval(pubCtx, approvalEvent); err != nil {
			n.logger.WithFields(fields).WithError(err).Error("Failed to publish approval event")
			return
		}
		n.logger.WithFields(fields).Info("Approval event published successfully")
	}()

	return nil
}

// Wait blocks until every queued event has been handed to the broker
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// eventTypes maps notifications onto the shared approval event types
var eventTypes = map[models.NotificationEvent]string{
	models.NotifyApprovalNeeded: sharedevents.ApprovalRequested,
	models.NotifyApproved:       sharedevents.ApprovalGranted,
	models.NotifyRejected:       sharedevents.ApprovalRejected,
	models.NotifyCancelled:      sharedevents.ApprovalCancelled,
	models.NotifyReminder:       sharedevents.ApprovalRequested,
}

func buildApprovalEvent(userID models.UserID, event models.NotificationEvent, payload models.NotificationPayload) (*sharedevents.ApprovalEvent, error) {
	eventType, ok := eventTypes[event]
	if !ok {
		return nil, errors.New("unknown notification event: " + string(event))
	}

	ev := sharedevents.NewApprovalEvent(eventType, payload.TenantID)
	ev.SourceID = uuid.New().String()
	ev.ApprovalRequestID = payload.RequestID.String()
	ev.RequesterID = payload.RequesterID.String()
	ev.ActionType = ApprovalActionType
	ev.ResourceType = payload.ReferenceType
	ev.ResourceID = payload.ReferenceID
	ev.Status = string(payload.Status)
	ev.ActionData = map[string]interface{}{
		"notification": string(event),
		"recipient_id": userID.String(),
		"amount":       payload.Amount,
		"level":        payload.Level,
	}

	switch event {
	case models.NotifyApprovalNeeded, models.NotifyReminder:
		ev.ApproverID = userID.String()
	default:
		if payload.ActorID != nil {
			ev.ApproverID = payload.ActorID.String()
		}
		ev.DecisionNotes = payload.Comment
		ev.DecisionAt = time.Now().UTC().Format(time.RFC3339)
	}

	return ev, nil
}
