package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApprovalLevelPolicy defines one level of an approval chain for a scope.
// Scope is either a tenant id or GlobalScope.
type ApprovalLevelPolicy struct {
	ID        uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Scope     string                      `gorm:"type:varchar(255);not null;index:idx_policy_scope_level;uniqueIndex:uq_policy_active_scope_level,where:active = true" json:"scope"`
	Level     int                         `gorm:"not null;index:idx_policy_scope_level;uniqueIndex:uq_policy_active_scope_level,where:active = true" json:"level"`
	Name      string                      `gorm:"type:varchar(255);not null" json:"name"`
	MinAmount decimal.Decimal             `gorm:"type:decimal(20,2);not null" json:"minAmount"`
	MaxAmount decimal.NullDecimal         `gorm:"type:decimal(20,2)" json:"maxAmount"`
	Roles     datatypes.JSONSlice[RoleID] `gorm:"not null" json:"roles"`
	Active    bool                        `gorm:"not null" json:"active"`
	SortOrder int                         `gorm:"not null" json:"sortOrder"`
	CreatedAt time.Time                   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for ApprovalLevelPolicy
func (ApprovalLevelPolicy) TableName() string {
	return "approval_level_policies"
}

// BeforeCreate assigns an id when none is set
func (p *ApprovalLevelPolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsGlobal reports whether the policy belongs to the global fallback set
func (p *ApprovalLevelPolicy) IsGlobal() bool {
	return p.Scope == GlobalScope
}

// Matches reports whether amount falls inside [MinAmount, MaxAmount].
// A null MaxAmount is unbounded.
func (p *ApprovalLevelPolicy) Matches(amount decimal.Decimal) bool {
	if amount.LessThan(p.MinAmount) {
		return false
	}
	if p.MaxAmount.Valid && amount.GreaterThan(p.MaxAmount.Decimal) {
		return false
	}
	return true
}

// CopyTo returns a detached copy of the policy in another scope
func (p *ApprovalLevelPolicy) CopyTo(scope string) ApprovalLevelPolicy {
	roles := make(datatypes.JSONSlice[RoleID], len(p.Roles))
	copy(roles, p.Roles)
	return ApprovalLevelPolicy{
		Scope:     scope,
		Level:     p.Level,
		Name:      p.Name,
		MinAmount: p.MinAmount,
		MaxAmount: p.MaxAmount,
		Roles:     roles,
		Active:    p.Active,
		SortOrder: p.SortOrder,
	}
}
