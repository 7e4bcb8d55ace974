package repository

import (
	"context"
	"errors"
	"time"

	"approval-workflow-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict - record was modified by another request")
	ErrDuplicate       = errors.New("duplicate record")
)

// RequestRepository handles database operations for approval requests
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new RequestRepository
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// WithTransaction runs fn against a repository bound to a single transaction
func (r *RequestRepository) WithTransaction(ctx context.Context, fn func(txRepo RequestRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&RequestRepository{db: tx})
	})
}

// --- Request Methods ---

// CreateRequest creates a new approval request
func (r *RequestRepository) CreateRequest(ctx context.Context, request *models.ApprovalRequest) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(request).Error
}

// GetRequestByID retrieves a request with its steps and history
func (r *RequestRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	var request models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("level ASC")
		}).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC")
		}).
		Where("id = ?", id).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

// GetRequestForUpdate locks the request row (postgres only) and then loads
// it. Must be called inside WithTransaction.
func (r *RequestRepository) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	if r.db.Dialector.Name() == "postgres" {
		var locked struct{ ID uuid.UUID }
		err := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", id).
			Take(&locked).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
	}
	return r.GetRequestByID(ctx, id)
}

// UpdateRequestWithLock applies fields to the request with optimistic
// locking. The version is bumped; ErrVersionConflict is returned when
// another writer got there first.
func (r *RequestRepository) UpdateRequestWithLock(ctx context.Context, request *models.ApprovalRequest, fields map[string]interface{}) error {
	oldVersion := request.Version

	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = oldVersion + 1
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("id = ? AND version = ?", request.ID, oldVersion).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	request.Version = oldVersion + 1
	return nil
}

// SetResolutionError records (or clears, with "") the last resolution
// failure of a request. It does not count as a transition.
func (r *RequestRepository) SetResolutionError(ctx context.Context, id uuid.UUID, message string) error {
	result := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("id = ?", id).
		Update("resolution_error", message)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingForApprover retrieves in-flight requests whose current step is
// assigned to approverID
func (r *RequestRepository) ListPendingForApprover(ctx context.Context, tenantID string, approverID models.UserID, limit, offset int) ([]models.ApprovalRequest, int64, error) {
	var requests []models.ApprovalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Joins("JOIN approval_steps ON approval_steps.request_id = approval_requests.id AND approval_steps.level = approval_requests.current_level").
		Where("approval_requests.tenant_id = ? AND approval_requests.status = ?", tenantID, models.StatusPending).
		Where("approval_steps.approver_id = ? AND approval_steps.status = ?", approverID, models.StepPending)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("level ASC")
		}).
		Order("approval_requests.submitted_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&requests).Error

	return requests, total, err
}

// ListRequestsByRequester retrieves requests raised by a specific user
func (r *RequestRepository) ListRequestsByRequester(ctx context.Context, tenantID string, requesterID models.UserID, limit, offset int) ([]models.ApprovalRequest, int64, error) {
	var requests []models.ApprovalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("tenant_id = ? AND requester_id = ?", tenantID, requesterID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("level ASC")
		}).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&requests).Error

	return requests, total, err
}

// --- Step Methods ---

// CreateSteps creates the chain steps of a request
func (r *RequestRepository) CreateSteps(ctx context.Context, steps []models.ApprovalStep) error {
	if len(steps) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&steps).Error
}

// UpdateStep records the decision on a step. Only a pending step can be
// decided.
func (r *RequestRepository) UpdateStep(ctx context.Context, step *models.ApprovalStep) error {
	result := r.db.WithContext(ctx).Model(&models.ApprovalStep{}).
		Where("id = ? AND status = ?", step.ID, models.StepPending).
		Updates(map[string]interface{}{
			"status":     step.Status,
			"decided_at": step.DecidedAt,
			"comments":   step.Comments,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// AssignStepApprover fills in the approver of a step that was persisted
// without one. An already assigned approver is never replaced.
func (r *RequestRepository) AssignStepApprover(ctx context.Context, stepID uuid.UUID, approverID models.UserID) error {
	result := r.db.WithContext(ctx).Model(&models.ApprovalStep{}).
		Where("id = ? AND approver_id IS NULL", stepID).
		Update("approver_id", approverID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListStalePending retrieves in-flight requests across tenants whose current
// step has an approver and has not moved, or been reminded, since cutoff
func (r *RequestRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.ApprovalRequest, error) {
	var requests []models.ApprovalRequest
	err := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Joins("JOIN approval_steps ON approval_steps.request_id = approval_requests.id AND approval_steps.level = approval_requests.current_level").
		Where("approval_requests.status = ?", models.StatusPending).
		Where("approval_steps.status = ? AND approval_steps.approver_id IS NOT NULL", models.StepPending).
		Where("COALESCE(approval_steps.reminded_at, approval_requests.updated_at) < ?", cutoff).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("level ASC")
		}).
		Order("approval_requests.updated_at ASC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

// MarkStepReminded stamps the last reminder time of a still pending step.
// A step already reminded at or after cutoff is left alone and reported as
// ErrVersionConflict, so only one caller wins a given reminder.
func (r *RequestRepository) MarkStepReminded(ctx context.Context, stepID uuid.UUID, cutoff, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ApprovalStep{}).
		Where("id = ? AND status = ?", stepID, models.StepPending).
		Where("reminded_at IS NULL OR reminded_at < ?", cutoff).
		Update("reminded_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// --- History Methods ---

// CreateHistoryEntry appends an approve/reject entry to the request history
func (r *RequestRepository) CreateHistoryEntry(ctx context.Context, entry *models.ApprovalHistoryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// GetHistory retrieves the approve/reject history of a request
func (r *RequestRepository) GetHistory(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalHistoryEntry, error) {
	var entries []models.ApprovalHistoryEntry
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("timestamp ASC").
		Find(&entries).Error
	return entries, err
}

// --- Audit Methods ---

// CreateAuditLog creates an audit log entry
func (r *RequestRepository) CreateAuditLog(ctx context.Context, log *models.ApprovalAuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// GetAuditTrail retrieves the audit trail for a request
func (r *RequestRepository) GetAuditTrail(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalAuditLog, error) {
	var logs []models.ApprovalAuditLog
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
