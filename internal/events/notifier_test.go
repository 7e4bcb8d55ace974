package events

import (
	"context"
	"errors"
	"io"
	"testing"

	"approval-workflow-service/internal/models"

	sharedevents "github.com/Tesseract-Nexus/go-shared/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPublisher is a mock implementation of ApprovalPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishApproval(ctx context.Context, event *sharedevents.ApprovalEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func samplePayload() models.NotificationPayload {
	return models.NotificationPayload{
		RequestID:     uuid.New(),
		TenantID:      "tenant-a",
		RequesterID:   30,
		ReferenceType: "purchase_requisition",
		ReferenceID:   "PR-0042",
		Amount:        "10000.00",
		Status:        models.StatusPending,
		Level:         2,
		ActorID:       models.UserID(7).Ptr(),
		Comment:       "looks fine",
	}
}

func TestNotifyPublishesApprovalEvent(t *testing.T) {
	publisher := new(MockPublisher)
	payload := samplePayload()

	var published *sharedevents.ApprovalEvent
	publisher.On("PublishApproval", mock.Anything, mock.AnythingOfType("*events.ApprovalEvent")).
		Run(func(args mock.Arguments) {
			published = args.Get(1).(*sharedevents.ApprovalEvent)
		}).
		Return(nil).Once()

	notifier := NewNotifier(publisher, quietLogger())
	require.NoError(t, notifier.Notify(context.Background(), 12, models.NotifyApprovalNeeded, payload))
	notifier.Wait()

	publisher.AssertExpectations(t)
	require.NotNil(t, published)
	assert.Equal(t, payload.RequestID.String(), published.ApprovalRequestID)
	assert.Equal(t, "12", published.ApproverID)
	assert.Equal(t, "30", published.RequesterID)
	assert.Equal(t, ApprovalActionType, published.ActionType)
	assert.Equal(t, "PR-0042", published.ResourceID)
	assert.Equal(t, "12", published.ActionData["recipient_id"])
}

func TestNotifyDecisionCarriesActor(t *testing.T) {
	payload := samplePayload()
	payload.Status = models.StatusRejected

	event, err := buildApprovalEvent(30, models.NotifyRejected, payload)
	require.NoError(t, err)
	assert.Equal(t, "7", event.ApproverID)
	assert.Equal(t, "looks fine", event.DecisionNotes)
	assert.NotEmpty(t, event.DecisionAt)
	assert.Equal(t, "rejected", event.Status)

	_, err = buildApprovalEvent(30, models.NotificationEvent("escalated"), payload)
	assert.Error(t, err)
}

func TestNotifyReminderAddressesApprover(t *testing.T) {
	payload := samplePayload()
	payload.ActorID = nil

	event, err := buildApprovalEvent(12, models.NotifyReminder, payload)
	require.NoError(t, err)
	assert.Equal(t, sharedevents.ApprovalRequested, event.EventType)
	assert.Equal(t, "12", event.ApproverID)
	assert.Equal(t, "reminder", event.ActionData["notification"])
	assert.Empty(t, event.DecisionAt)
}

func TestNotifyPublishFailureIsNotReturned(t *testing.T) {
	publisher := new(MockPublisher)
	publisher.On("PublishApproval", mock.Anything, mock.Anything).Return(errors.New("nats: timeout")).Once()

	notifier := NewNotifier(publisher, quietLogger())
	err := notifier.Notify(context.Background(), 12, models.NotifyApproved, samplePayload())
	assert.NoError(t, err)
	notifier.Wait()
	publisher.AssertExpectations(t)
}

func TestNotifyWithoutPublisher(t *testing.T) {
	notifier := NewNotifier(nil, quietLogger())
	err := notifier.Notify(context.Background(), 12, models.NotifyApproved, samplePayload())
	assert.ErrorIs(t, err, ErrPublisherUnavailable)
}
