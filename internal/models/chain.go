package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChainLevel is one entry of an effective approval chain
type ChainLevel struct {
	Level       int              `json:"level"`
	Name        string           `json:"name"`
	PolicyID    uuid.UUID        `json:"policyId"`
	Roles       []RoleID         `json:"roles,omitempty"`
	OrgUnitHead bool             `json:"orgUnitHead"`
	MinAmount   decimal.Decimal  `json:"minAmount"`
	MaxAmount   *decimal.Decimal `json:"maxAmount,omitempty"`
}

// EffectiveChain is the ordered, amount-filtered set of levels that applies
// to one (tenant, amount) pair. It is derived and never persisted.
type EffectiveChain struct {
	TenantID string          `json:"tenantId"`
	Scope    string          `json:"scope"`
	Amount   decimal.Decimal `json:"amount"`
	Levels   []ChainLevel    `json:"levels"`
}

// Len returns the number of levels in the chain
func (c *EffectiveChain) Len() int {
	return len(c.Levels)
}

// UsesGlobalPolicies reports whether the chain came from the global fallback set
func (c *EffectiveChain) UsesGlobalPolicies() bool {
	return c.Scope == GlobalScope
}
