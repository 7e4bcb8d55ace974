package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StepStatus is the decision state of one level of a request
type StepStatus string

// StepStatus constants
const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// ApprovalStep is one level of a submitted request. Name, Roles and
// OrgUnitHead are a snapshot of the chain level at submit time.
type ApprovalStep struct {
	ID          uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID   uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex:idx_step_request_level" json:"requestId"`
	Level       int                         `gorm:"not null;uniqueIndex:idx_step_request_level" json:"level"`
	Name        string                      `gorm:"type:varchar(255)" json:"name"`
	Roles       datatypes.JSONSlice[RoleID] `json:"roles"`
	OrgUnitHead bool                        `gorm:"not null" json:"orgUnitHead"`
	ApproverID  *UserID                     `gorm:"index" json:"approverId"`
	Status      StepStatus                  `gorm:"type:varchar(20);not null" json:"status"`
	DecidedAt   *time.Time                  `json:"decidedAt,omitempty"`
	Comments    string                      `gorm:"type:text" json:"comments,omitempty"`
	RemindedAt  *time.Time                  `json:"remindedAt,omitempty"`
}

// TableName returns the table name for ApprovalStep
func (ApprovalStep) TableName() string {
	return "approval_steps"
}

// BeforeCreate assigns an id when none is set
func (s *ApprovalStep) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// HistoryAction is the decision recorded in the request history
type HistoryAction string

// HistoryAction constants
const (
	ActionApproved HistoryAction = "approved"
	ActionRejected HistoryAction = "rejected"
)

// ApprovalHistoryEntry records one approve or reject action. Entries are
// append-only.
type ApprovalHistoryEntry struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID     `gorm:"type:uuid;not null;index" json:"requestId"`
	Level     int           `gorm:"not null" json:"level"`
	Action    HistoryAction `gorm:"type:varchar(20);not null" json:"action"`
	ActorID   UserID        `gorm:"not null" json:"actorId"`
	ActorName string        `gorm:"type:varchar(255)" json:"actorName,omitempty"`
	Comment   string        `gorm:"type:text" json:"comment,omitempty"`
	Timestamp time.Time     `gorm:"not null;index" json:"timestamp"`
}

// TableName returns the table name for ApprovalHistoryEntry
func (ApprovalHistoryEntry) TableName() string {
	return "approval_history"
}

// BeforeCreate assigns an id when none is set
func (h *ApprovalHistoryEntry) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
