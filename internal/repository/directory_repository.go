package repository

import (
	"context"
	"errors"

	"approval-workflow-service/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DirectoryRepository serves approver lookups from the local directory
// replica tables
type DirectoryRepository struct {
	db *gorm.DB
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// ListActiveUsersByRole returns the distinct active users of a tenant holding
// any of roles, ordered by ascending user id
func (r *DirectoryRepository) ListActiveUsersByRole(ctx context.Context, tenantID string, roles []models.RoleID) ([]models.UserID, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var ids []models.UserID
	err := r.db.WithContext(ctx).Model(&models.DirectoryUser{}).
		Distinct("user_id").
		Where("tenant_id = ? AND role IN ? AND active = ?", tenantID, roles, true).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// GetOrgUnitHead returns the configured head of an org unit, or nil when the
// unit is unknown or has no head
func (r *DirectoryRepository) GetOrgUnitHead(ctx context.Context, tenantID string, unitID models.OrgUnitID) (*models.UserID, error) {
	var unit models.OrgUnit
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", unitID, tenantID).
		First(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return unit.HeadUserID, nil
}

// IsUserActive reports whether the user has at least one active assignment
// in the tenant
func (r *DirectoryRepository) IsUserActive(ctx context.Context, tenantID string, userID models.UserID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DirectoryUser{}).
		Where("tenant_id = ? AND user_id = ? AND active = ?", tenantID, userID, true).
		Count(&count).Error
	return count > 0, err
}

// SaveUser inserts or updates a (user, role) assignment
func (r *DirectoryRepository) SaveUser(ctx context.Context, user *models.DirectoryUser) error {
	var existing models.DirectoryUser
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND role = ?", user.TenantID, user.UserID, user.Role).
		First(&existing).Error
	switch {
	case err == nil:
		user.ID = existing.ID
		return r.db.WithContext(ctx).Model(&existing).
			Updates(map[string]interface{}{"name": user.Name, "active": user.Active}).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return r.db.WithContext(ctx).Create(user).Error
	default:
		return err
	}
}

// SaveOrgUnit inserts or updates an org unit
func (r *DirectoryRepository) SaveOrgUnit(ctx context.Context, unit *models.OrgUnit) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "name", "head_user_id"}),
	}).Create(unit).Error
}
