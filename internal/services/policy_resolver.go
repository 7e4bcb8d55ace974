package services

import (
	"context"
	"fmt"
	"sort"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PolicyResolver turns a tenant's policy set into the effective chain for an
// amount
type PolicyResolver struct {
	policies repository.PolicyRepositoryInterface
	logger   *logrus.Entry
}

// NewPolicyResolver creates a new PolicyResolver
func NewPolicyResolver(policies repository.PolicyRepositoryInterface, logger *logrus.Logger) *PolicyResolver {
	return &PolicyResolver{
		policies: policies,
		logger:   logger.WithField("component", "policy_resolver"),
	}
}

// ResolveChain returns the effective chain for tenantID and amount. Only the
// tenant's active policies are used when it has any; otherwise only the
// global ones. The two sets are never mixed.
func (r *PolicyResolver) ResolveChain(ctx context.Context, tenantID string, amount decimal.Decimal) (*models.EffectiveChain, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if tenantID == "" || tenantID == models.GlobalScope {
		return nil, ErrInvalidScope
	}

	scope, policies, err := r.activePolicySet(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	chain, err := BuildChain(tenantID, scope, amount, policies)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"tenantID": tenantID,
			"scope":    scope,
			"amount":   amount.StringFixed(2),
		}).WithError(err).Warn("approval chain resolution failed")
		return nil, err
	}
	return chain, nil
}

// EffectiveScope returns the scope whose policies currently apply to tenantID
func (r *PolicyResolver) EffectiveScope(ctx context.Context, tenantID string) (string, error) {
	count, err := r.policies.CountActiveByScope(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to count tenant policies: %w", err)
	}
	if count > 0 {
		return tenantID, nil
	}
	return models.GlobalScope, nil
}

func (r *PolicyResolver) activePolicySet(ctx context.Context, tenantID string) (string, []models.ApprovalLevelPolicy, error) {
	tenantPolicies, err := r.policies.ListActiveByScope(ctx, tenantID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load tenant policies: %w", err)
	}
	if len(tenantPolicies) > 0 {
		return tenantID, tenantPolicies, nil
	}

	globalPolicies, err := r.policies.ListActiveByScope(ctx, models.GlobalScope)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load global policies: %w", err)
	}
	return models.GlobalScope, globalPolicies, nil
}

// BuildChain filters policies of one scope by amount, orders them by level
// and checks that the levels run 1..n without gaps or duplicates.
func BuildChain(tenantID, scope string, amount decimal.Decimal, policies []models.ApprovalLevelPolicy) (*models.EffectiveChain, error) {
	matched := make([]models.ApprovalLevelPolicy, 0, len(policies))
	for _, p := range policies {
		if p.Active && p.Scope == scope && p.Matches(amount) {
			matched = append(matched, p)
		}
	}

	if len(matched) == 0 {
		return nil, &ResolutionError{Kind: ErrNoMatchingPolicies, Scope: scope, TenantID: tenantID, Amount: amount}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Level != matched[j].Level {
			return matched[i].Level < matched[j].Level
		}
		return matched[i].SortOrder < matched[j].SortOrder
	})

	levels := make([]int, len(matched))
	contiguous := true
	for i, p := range matched {
		levels[i] = p.Level
		if p.Level != i+1 {
			contiguous = false
		}
	}
	if !contiguous {
		return nil, &ResolutionError{Kind: ErrNonContiguousLevels, Scope: scope, TenantID: tenantID, Amount: amount, Levels: levels}
	}

	chain := &models.EffectiveChain{
		TenantID: tenantID,
		Scope:    scope,
		Amount:   amount,
		Levels:   make([]models.ChainLevel, 0, len(matched)),
	}
	for _, p := range matched {
		chain.Levels = append(chain.Levels, toChainLevel(p))
	}
	return chain, nil
}

// toChainLevel converts a policy into a chain level. Level 1 is always
// approved by the head of the requester's org unit, whatever roles the
// policy lists; any other level can opt into the same rule by listing
// models.RoleOrgUnitHead among its roles.
func toChainLevel(p models.ApprovalLevelPolicy) models.ChainLevel {
	level := models.ChainLevel{
		Level:     p.Level,
		Name:      p.Name,
		PolicyID:  p.ID,
		MinAmount: p.MinAmount,
	}
	if p.MaxAmount.Valid {
		upper := p.MaxAmount.Decimal
		level.MaxAmount = &upper
	}

	if p.Level == 1 || hasRole(p.Roles, models.RoleOrgUnitHead) {
		level.OrgUnitHead = true
		level.Roles = []models.RoleID{models.RoleOrgUnitHead}
		return level
	}

	level.Roles = make([]models.RoleID, len(p.Roles))
	copy(level.Roles, p.Roles)
	return level
}

func hasRole(roles []models.RoleID, role models.RoleID) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
