package repository

import (
	"context"
	"errors"

	"approval-workflow-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PolicyRepository handles database operations for approval level policies
type PolicyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository creates a new PolicyRepository
func NewPolicyRepository(db *gorm.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// WithTransaction runs fn against a repository bound to a single transaction
func (r *PolicyRepository) WithTransaction(ctx context.Context, fn func(txRepo PolicyRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PolicyRepository{db: tx})
	})
}

// ListByScope retrieves every policy of a scope, active or not
func (r *PolicyRepository) ListByScope(ctx context.Context, scope string) ([]models.ApprovalLevelPolicy, error) {
	var policies []models.ApprovalLevelPolicy
	err := r.db.WithContext(ctx).
		Where("scope = ?", scope).
		Order("level ASC, sort_order ASC, created_at ASC").
		Find(&policies).Error
	return policies, err
}

// ListActiveByScope retrieves the active policies of a scope
func (r *PolicyRepository) ListActiveByScope(ctx context.Context, scope string) ([]models.ApprovalLevelPolicy, error) {
	var policies []models.ApprovalLevelPolicy
	err := r.db.WithContext(ctx).
		Where("scope = ? AND active = ?", scope, true).
		Order("level ASC, sort_order ASC").
		Find(&policies).Error
	return policies, err
}

// CountByScope counts all policies of a scope
func (r *PolicyRepository) CountByScope(ctx context.Context, scope string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ApprovalLevelPolicy{}).
		Where("scope = ?", scope).
		Count(&count).Error
	return count, err
}

// CountActiveByScope counts the active policies of a scope
func (r *PolicyRepository) CountActiveByScope(ctx context.Context, scope string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ApprovalLevelPolicy{}).
		Where("scope = ? AND active = ?", scope, true).
		Count(&count).Error
	return count, err
}

// ExistsActiveLevel reports whether another active policy already occupies
// level in scope. excludeID may be uuid.Nil.
func (r *PolicyRepository) ExistsActiveLevel(ctx context.Context, scope string, level int, excludeID uuid.UUID) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.ApprovalLevelPolicy{}).
		Where("scope = ? AND level = ? AND active = ?", scope, level, true)
	if excludeID != uuid.Nil {
		query = query.Where("id <> ?", excludeID)
	}
	err := query.Count(&count).Error
	return count > 0, err
}

// GetByID retrieves a policy by ID within a scope
func (r *PolicyRepository) GetByID(ctx context.Context, scope string, id uuid.UUID) (*models.ApprovalLevelPolicy, error) {
	var policy models.ApprovalLevelPolicy
	err := r.db.WithContext(ctx).
		Where("id = ? AND scope = ?", id, scope).
		First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &policy, nil
}

// Create creates a new policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.ApprovalLevelPolicy) error {
	return translateDuplicate(r.db.WithContext(ctx).Create(policy).Error)
}

// CreateBatch creates several policies at once
func (r *PolicyRepository) CreateBatch(ctx context.Context, policies []models.ApprovalLevelPolicy) error {
	if len(policies) == 0 {
		return nil
	}
	return translateDuplicate(r.db.WithContext(ctx).Create(&policies).Error)
}

// Update writes every editable column of a policy, zero values included
func (r *PolicyRepository) Update(ctx context.Context, policy *models.ApprovalLevelPolicy) error {
	result := r.db.WithContext(ctx).
		Model(policy).
		Where("scope = ?", policy.Scope).
		Select("level", "name", "min_amount", "max_amount", "roles", "active", "sort_order", "updated_at").
		Updates(policy)
	if result.Error != nil {
		return translateDuplicate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a policy from a scope
func (r *PolicyRepository) Delete(ctx context.Context, scope string, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND scope = ?", id, scope).
		Delete(&models.ApprovalLevelPolicy{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByScope removes every policy of a scope and returns how many were removed
func (r *PolicyRepository) DeleteByScope(ctx context.Context, scope string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("scope = ?", scope).
		Delete(&models.ApprovalLevelPolicy{})
	return result.RowsAffected, result.Error
}

// translateDuplicate maps a unique violation, surfaced by gorm when the
// connection runs with TranslateError, to ErrDuplicate
func translateDuplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}
