package repository

import (
	"context"
	"time"

	"approval-workflow-service/internal/models"

	"github.com/google/uuid"
)

// PolicyRepositoryInterface defines persistence for approval level policies
type PolicyRepositoryInterface interface {
	WithTransaction(ctx context.Context, fn func(txRepo PolicyRepositoryInterface) error) error

	ListByScope(ctx context.Context, scope string) ([]models.ApprovalLevelPolicy, error)
	ListActiveByScope(ctx context.Context, scope string) ([]models.ApprovalLevelPolicy, error)
	CountByScope(ctx context.Context, scope string) (int64, error)
	CountActiveByScope(ctx context.Context, scope string) (int64, error)
	ExistsActiveLevel(ctx context.Context, scope string, level int, excludeID uuid.UUID) (bool, error)
	GetByID(ctx context.Context, scope string, id uuid.UUID) (*models.ApprovalLevelPolicy, error)
	Create(ctx context.Context, policy *models.ApprovalLevelPolicy) error
	CreateBatch(ctx context.Context, policies []models.ApprovalLevelPolicy) error
	Update(ctx context.Context, policy *models.ApprovalLevelPolicy) error
	Delete(ctx context.Context, scope string, id uuid.UUID) error
	DeleteByScope(ctx context.Context, scope string) (int64, error)
}

// RequestRepositoryInterface defines persistence for approval requests and
// everything hanging off them (steps, history, audit log)
type RequestRepositoryInterface interface {
	WithTransaction(ctx context.Context, fn func(txRepo RequestRepositoryInterface) error) error

	CreateRequest(ctx context.Context, request *models.ApprovalRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	UpdateRequestWithLock(ctx context.Context, request *models.ApprovalRequest, fields map[string]interface{}) error
	SetResolutionError(ctx context.Context, id uuid.UUID, message string) error

	CreateSteps(ctx context.Context, steps []models.ApprovalStep) error
	UpdateStep(ctx context.Context, step *models.ApprovalStep) error
	AssignStepApprover(ctx context.Context, stepID uuid.UUID, approverID models.UserID) error
	CreateHistoryEntry(ctx context.Context, entry *models.ApprovalHistoryEntry) error
	GetHistory(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalHistoryEntry, error)

	CreateAuditLog(ctx context.Context, log *models.ApprovalAuditLog) error
	GetAuditTrail(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalAuditLog, error)

	ListPendingForApprover(ctx context.Context, tenantID string, approverID models.UserID, limit, offset int) ([]models.ApprovalRequest, int64, error)
	ListRequestsByRequester(ctx context.Context, tenantID string, requesterID models.UserID, limit, offset int) ([]models.ApprovalRequest, int64, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.ApprovalRequest, error)
	MarkStepReminded(ctx context.Context, stepID uuid.UUID, cutoff, at time.Time) error
}
