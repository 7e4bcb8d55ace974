package models

import "github.com/google/uuid"

// NotificationEvent is the kind of message sent to a user about a request
type NotificationEvent string

// NotificationEvent constants
const (
	NotifyApprovalNeeded NotificationEvent = "approval_needed"
	NotifyApproved       NotificationEvent = "approved"
	NotifyRejected       NotificationEvent = "rejected"
	NotifyCancelled      NotificationEvent = "cancelled"
	NotifyReminder       NotificationEvent = "reminder"
)

// NotificationPayload carries the request snapshot attached to a notification
type NotificationPayload struct {
	RequestID     uuid.UUID     `json:"requestId"`
	TenantID      string        `json:"tenantId"`
	RequesterID   UserID        `json:"requesterId"`
	ReferenceType string        `json:"referenceType,omitempty"`
	ReferenceID   string        `json:"referenceId,omitempty"`
	Amount        string        `json:"amount"`
	Status        RequestStatus `json:"status"`
	Level         int           `json:"level,omitempty"`
	ActorID       *UserID       `json:"actorId,omitempty"`
	Comment       string        `json:"comment,omitempty"`
}

// NewNotificationPayload builds a payload from the request state
func NewNotificationPayload(r *ApprovalRequest, actorID *UserID, comment string) NotificationPayload {
	return NotificationPayload{
		RequestID:     r.ID,
		TenantID:      r.TenantID,
		RequesterID:   r.RequesterID,
		ReferenceType: r.ReferenceType,
		ReferenceID:   r.ReferenceID,
		Amount:        r.Amount.StringFixed(2),
		Status:        r.Status,
		Level:         r.CurrentLevel,
		ActorID:       actorID,
		Comment:       comment,
	}
}
