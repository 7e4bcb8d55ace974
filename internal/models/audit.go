package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApprovalAuditLog represents an audit trail entry. Unlike the request
// history it records every lifecycle event, including failed resolutions.
type ApprovalAuditLog struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"requestId"`
	TenantID       string         `gorm:"type:varchar(255);not null;index" json:"tenantId"`
	EventType      AuditEventType `gorm:"type:varchar(50);not null;index" json:"eventType"`
	ActorID        *UserID        `json:"actorId,omitempty"`
	Level          int            `json:"level,omitempty"`
	PreviousStatus string         `gorm:"type:varchar(30)" json:"previousStatus,omitempty"`
	NewStatus      string         `gorm:"type:varchar(30)" json:"newStatus,omitempty"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName returns the table name for ApprovalAuditLog
func (ApprovalAuditLog) TableName() string {
	return "approval_audit_log"
}

// BeforeCreate assigns an id when none is set
func (a *ApprovalAuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// AuditEventType names a lifecycle event
type AuditEventType string

// AuditEventType constants
const (
	AuditEventCreated          AuditEventType = "created"
	AuditEventSubmitted        AuditEventType = "submitted"
	AuditEventApproved         AuditEventType = "approved"
	AuditEventRejected         AuditEventType = "rejected"
	AuditEventCancelled        AuditEventType = "cancelled"
	AuditEventClosed           AuditEventType = "closed"
	AuditEventResolutionFailed AuditEventType = "resolution_failed"
	AuditEventReminded         AuditEventType = "reminded"
)
