package seeders

import (
	"context"
	"fmt"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// DefaultGlobalPolicies returns the default five level chain used by tenants
// without their own policies. Every level applies to every amount.
func DefaultGlobalPolicies() []models.ApprovalLevelPolicy {
	level := func(n int, name string, role models.RoleID) models.ApprovalLevelPolicy {
		return models.ApprovalLevelPolicy{
			Scope:     models.GlobalScope,
			Level:     n,
			Name:      name,
			MinAmount: decimal.Zero,
			Roles:     datatypes.JSONSlice[models.RoleID]{role},
			Active:    true,
			SortOrder: n,
		}
	}

	return []models.ApprovalLevelPolicy{
		level(1, "Department Head", models.RoleOrgUnitHead),
		level(2, "Finance Officer", "finance_officer"),
		level(3, "Procurement Manager", "procurement_manager"),
		level(4, "Finance Director", "finance_director"),
		level(5, "General Manager", "general_manager"),
	}
}

// SeedGlobalPolicies inserts the default global policies when the global
// scope has none. An existing global set is never touched.
func SeedGlobalPolicies(ctx context.Context, repo repository.PolicyRepositoryInterface, log *logrus.Logger) error {
	count, err := repo.CountByScope(ctx, models.GlobalScope)
	if err != nil {
		return fmt.Errorf("failed to count global policies: %w", err)
	}
	if count > 0 {
		log.WithField("policies", count).Info("Global approval policies already present, skipping seed")
		return nil
	}

	policies := DefaultGlobalPolicies()
	if err := repo.CreateBatch(ctx, policies); err != nil {
		return fmt.Errorf("failed to seed global policies: %w", err)
	}

	log.WithField("policies", len(policies)).Info("Seeded global approval policies")
	return nil
}
