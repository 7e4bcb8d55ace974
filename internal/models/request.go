package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RequestStatus is the lifecycle state of an approval request
type RequestStatus string

// RequestStatus constants
const (
	StatusDraft     RequestStatus = "draft"
	StatusSubmitted RequestStatus = "submitted"
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
	StatusClosed    RequestStatus = "closed"
)

// IsTerminal returns true if no further transition is permitted from s
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

// ApprovalRequest is the approval projection of a monetary request (for
// example a purchase requisition). The owning business entity is linked via
// ReferenceType/ReferenceID; this service only writes the approval fields.
type ApprovalRequest struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      string          `gorm:"type:varchar(255);not null;index" json:"tenantId"`
	ReferenceType string          `gorm:"type:varchar(100)" json:"referenceType,omitempty"`
	ReferenceID   string          `gorm:"type:varchar(255);index" json:"referenceId,omitempty"`
	RequesterID   UserID          `gorm:"not null;index" json:"requesterId"`
	OrgUnitID     OrgUnitID       `gorm:"not null" json:"orgUnitId"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status        RequestStatus   `gorm:"type:varchar(30);not null;index" json:"status"`
	Version       int             `gorm:"not null" json:"version"` // Optimistic locking

	// Chain tracking
	CurrentLevel    int    `gorm:"not null" json:"currentLevel"`
	RequiredLevels  int    `gorm:"not null" json:"requiredLevels"`
	ResolutionError string `gorm:"type:text" json:"resolutionError,omitempty"`

	// Outcome
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
	FinalApprovedAt *time.Time `json:"finalApprovedAt,omitempty"`
	FinalApprovedBy *UserID    `json:"finalApprovedBy,omitempty"`
	RejectionReason string     `gorm:"type:text" json:"rejectionReason,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectedBy      *UserID    `json:"rejectedBy,omitempty"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy     *UserID    `json:"cancelledBy,omitempty"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
	ClosedBy        *UserID    `json:"closedBy,omitempty"`
	CloseReason     string     `gorm:"type:text" json:"closeReason,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	// Relations
	Steps   []ApprovalStep         `gorm:"foreignKey:RequestID" json:"steps"`
	History []ApprovalHistoryEntry `gorm:"foreignKey:RequestID" json:"history"`
}

// TableName returns the table name for ApprovalRequest
func (ApprovalRequest) TableName() string {
	return "approval_requests"
}

// BeforeCreate assigns an id when none is set
func (r *ApprovalRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsTerminal returns true if the request is in a terminal state
func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// IsInFlight reports whether the request is waiting on an approver
func (r *ApprovalRequest) IsInFlight() bool {
	return r.Status == StatusPending && r.CurrentLevel >= 1 && r.CurrentLevel <= r.RequiredLevels
}

// StepAt returns the step for a level, or nil
func (r *ApprovalRequest) StepAt(level int) *ApprovalStep {
	for i := range r.Steps {
		if r.Steps[i].Level == level {
			return &r.Steps[i]
		}
	}
	return nil
}

// CurrentStep returns the step for CurrentLevel while the request is in flight
func (r *ApprovalRequest) CurrentStep() *ApprovalStep {
	if !r.IsInFlight() {
		return nil
	}
	return r.StepAt(r.CurrentLevel)
}

// CanBeActedOnBy reports whether userID is the assigned approver of the
// current, still pending step.
func (r *ApprovalRequest) CanBeActedOnBy(userID UserID) bool {
	step := r.CurrentStep()
	if step == nil || step.Status != StepPending {
		return false
	}
	return step.ApproverID != nil && *step.ApproverID == userID
}

// OverallStatus returns the status including the pending level
func (r *ApprovalRequest) OverallStatus() OverallStatus {
	if r.Status == StatusPending {
		return OverallStatus{Status: r.Status, Level: r.CurrentLevel}
	}
	return OverallStatus{Status: r.Status}
}

// OverallStatus pairs a RequestStatus with the level it is pending on.
// Level is only meaningful for StatusPending.
type OverallStatus struct {
	Status RequestStatus
	Level  int
}

func (s OverallStatus) String() string {
	if s.Status == StatusPending {
		return fmt.Sprintf("pending_level_%d", s.Level)
	}
	return string(s.Status)
}

// MarshalText encodes the status as its String form
func (s OverallStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
