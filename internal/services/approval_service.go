package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"approval-workflow-service/internal/locks"
	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

// Notifier delivers a notification to one user. Implementations must return
// quickly; delivery itself may happen asynchronously.
type Notifier interface {
	Notify(ctx context.Context, userID models.UserID, event models.NotificationEvent, payload models.NotificationPayload) error
}

// ApprovalService is the approval state machine. Every mutating call runs
// under the request's lock and commits with a version compare-and-swap.
type ApprovalService struct {
	requests  repository.RequestRepositoryInterface
	chains    *PolicyResolver
	approvers *ApproverResolver
	locker    locks.Locker
	notifier  Notifier
	logger    *logrus.Entry
	tracer    trace.Tracer
}

// NewApprovalService creates a new ApprovalService. A nil locker falls back
// to an in-process one; a nil notifier disables notifications.
func NewApprovalService(
	requests repository.RequestRepositoryInterface,
	chains *PolicyResolver,
	approvers *ApproverResolver,
	locker locks.Locker,
	notifier Notifier,
	logger *logrus.Logger,
) *ApprovalService {
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	return &ApprovalService{
		requests:  requests,
		chains:    chains,
		approvers: approvers,
		locker:    locker,
		notifier:  notifier,
		logger:    logger.WithField("component", "approval_service"),
		tracer:    otel.Tracer("approval-workflow-service/services"),
	}
}

// CreateDraftInput represents input for creating a draft request
type CreateDraftInput struct {
	ReferenceType string           `json:"referenceType"`
	ReferenceID   string           `json:"referenceId"`
	Amount        decimal.Decimal  `json:"amount"`
	OrgUnitID     models.OrgUnitID `json:"orgUnitId"`
}

// DecisionInput carries the optional parts of an approve or reject call.
// When Level is set it must equal the request's current level.
type DecisionInput struct {
	Comment   string `json:"comment"`
	Level     *int   `json:"level,omitempty"`
	ActorName string `json:"-"`
}

// TransitionResult is returned by every successful state change
type TransitionResult struct {
	Request        *models.ApprovalRequest `json:"request"`
	PreviousStatus models.OverallStatus    `json:"previousStatus"`
	Status         models.OverallStatus    `json:"status"`
	Chain          *models.EffectiveChain  `json:"chain,omitempty"`
}

// CreateDraft creates a request in the draft state
func (s *ApprovalService) CreateDraft(ctx context.Context, tenantID string, requesterID models.UserID, input CreateDraftInput) (req *models.ApprovalRequest, err error) {
	ctx, span := s.startSpan(ctx, "ApprovalService.CreateDraft", uuid.Nil)
	defer func() { endSpan(span, err) }()

	if input.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	request := &models.ApprovalRequest{
		TenantID:      tenantID,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		RequesterID:   requesterID,
		OrgUnitID:     input.OrgUnitID,
		Amount:        input.Amount.Round(2),
		Status:        models.StatusDraft,
		Version:       1,
	}

	err = s.requests.WithTransaction(ctx, func(txRepo repository.RequestRepositoryInterface) error {
		if err := txRepo.CreateRequest(ctx, request); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		return s.createAuditLog(ctx, txRepo, request, models.AuditEventCreated, &requesterID, models.OverallStatus{}, map[string]interface{}{
			"amount":        request.Amount.StringFixed(2),
			"orgUnitId":     request.OrgUnitID,
			"referenceType": request.ReferenceType,
			"referenceId":   request.ReferenceID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(request, models.AuditEventCreated, requesterID)
	return request, nil
}

// Submit resolves the effective chain and every approver, persists the steps
// and moves the request to pending level 1. Nothing but the resolution error
// is persisted when resolution fails.
func (s *ApprovalService) Submit(ctx context.Context, tenantID string, requestID uuid.UUID, actorID models.UserID) (result *TransitionResult, err error) {
	ctx, span := s.startSpan(ctx, "ApprovalService.Submit", requestID)
	defer func() { endSpan(span, err) }()

	err = s.withRequestLock(ctx, requestID, func() error {
		request, err := s.loadRequest(ctx, tenantID, requestID)
		if err != nil {
			return err
		}
		if request.Status != models.StatusDraft {
			return invalidTransition("cannot submit a request in status %s", request.OverallStatus())
		}
		if request.RequesterID != actorID {
			return ErrUnauthorized
		}

		chain, err := s.chains.ResolveChain(ctx, request.TenantID, request.Amount)
		if err != nil {
			if IsResolutionFailure(err) {
				s.recordResolutionFailure(ctx, request, actorID, 0, err)
			}
			return err
		}

		approvers, err := s.approvers.ResolveChain(ctx, chain, request.RequesterID, request.OrgUnitID)
		if err != nil {
			if IsResolutionFailure(err) {
				s.recordResolutionFailure(ctx, request, actorID, failedLevel(err), err)
			}
			return err
		}

		steps := make([]models.ApprovalStep, len(chain.Levels))
		for i, level := range chain.Levels {
			steps[i] = models.ApprovalStep{
				RequestID:   request.ID,
				Level:       level.Level,
				Name:        level.Name,
				Roles:       datatypes.JSONSlice[models.RoleID](level.Roles),
				OrgUnitHead: level.OrgUnitHead,
				ApproverID:  approvers[i].Ptr(),
				Status:      models.StepPending,
			}
		}

		var updated *models.ApprovalRequest
		var previous models.OverallStatus
		err = s.requests.WithTransaction(ctx, func(txRepo repository.RequestRepositoryInterface) error {
			txRequest, err := s.refetch(ctx, txRepo, request)
			if err != nil {
				return err
			}
			if txRequest.Status != models.StatusDraft {
				return invalidTransition("cannot submit a request in status %s", txRequest.OverallStatus())
			}
			previous = txRequest.OverallStatus()

			if err := txRepo.CreateSteps(ctx, steps); err != nil {
				return fmt.Errorf("failed to create steps: %w", err)
			}

			now := time.Now().UTC()
			txRequest.Status = models.StatusPending
			txRequest.CurrentLevel = 1
			txRequest.RequiredLevels = len(steps)
			txRequest.SubmittedAt = &now
			txRequest.ResolutionError = ""
			txRequest.Steps = steps

			if err := s.saveTransition(ctx, txRepo, txRequest, map[string]interface{}{
				"status":           txRequest.Status,
				"current_level":    txRequest.CurrentLevel,
				"required_levels":  txRequest.RequiredLevels,
				"submitted_at":     txRequest.SubmittedAt,
				"resolution_error": "",
			}); err != nil {
				return err
			}

			approverIDs := make([]string, len(approvers))
			for i, a := range approvers {
				approverIDs[i] = a.String()
			}
			if err := s.createAuditLog(ctx, txRepo, txRequest, models.AuditEventSubmitted, &actorID, previous, map[string]interface{}{
				"scope":          chain.Scope,
				"requiredLevels": chain.Len(),
				"approvers":      approverIDs,
			}); err != nil {
				return err
			}

			updated = txRequest
			return nil
		})
		if err != nil {
			return err
		}

		s.logTransition(updated, models.AuditEventSubmitted, actorID)
		s.notify(updated.CurrentStep().ApproverID, models.NotifyApprovalNeeded, models.NewNotificationPayload(updated, &actorID, ""))

		result = &TransitionResult{
			Request:        updated,
			PreviousStatus: previous,
			Status:         updated.OverallStatus(),
			Chain:          chain,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Approve records the assigned approver's approval of the current level and
// either advances to the next level or finalizes the request.
func (s *ApprovalService) Approve(ctx context.Context, tenantID string, requestID uuid.UUID, actorID models.UserID, input DecisionInput) (result *TransitionResult, err error) {
	ctx, span := s.startSpan(ctx, "ApprovalService.Approve", requestID)
	defer func() { endSpan(span, err) }()

	if input.Level, err = s.observedLevel(ctx, tenantID, requestID, input.Level); err != nil {
		return nil, err
	}

	err = s.withRequestLock(ctx, requestID, func() error {
		request, err := s.loadRequest(ctx, tenantID, requestID)
		if err != nil {
			return err
		}
		if err := checkActionable(request, actorID, input.Level); err != nil {
			return err
		}

		last := request.CurrentLevel == request.RequiredLevels

		// The next approver is normally fixed at submit time. Steps persisted
		// without one are resolved here, outside the transaction.
		var assign *models.UserID
		if !last {
			next := request.StepAt(request.CurrentLevel + 1)
			if next == nil {
				return invalidTransition("request has no step for level %d", request.CurrentLevel+1)
			}
			if next.ApproverID == nil {
				approver, err := s.resolveStep(ctx, request, next)
				if err != nil {
					if IsResolutionFailure(err) {
						s.recordResolutionFailure(ctx, request, actorID, next.Level, err)
					}
					return err
				}
				assign = approver
			}
		}

		var updated *models.ApprovalRequest
		var previous models.OverallStatus
		err = s.requests.WithTransaction(ctx, func(txRepo repository.RequestRepositoryInterface) error {
			txRequest, err := s.refetch(ctx, txRepo, request)
			if err != nil {
				return err
			}
			if err := checkActionable(txRequest, actorID, input.Level); err != nil {
				return err
			}
			previous = txRequest.OverallStatus()
			level := txRequest.CurrentLevel
			now := time.Now().UTC()

			step := txRequest.CurrentStep()
			step.Status = models.StepApproved
			step.DecidedAt = &now
			step.Comments = input.Comment
			if err := txRepo.UpdateStep(ctx, step); err != nil {
				return s.mapConflict(err)
			}

			if err := s.appendHistory(ctx, txRepo, txRequest, models.ActionApproved, actorID, input, now); err != nil {
				return err
			}

			var fields map[string]interface{}
			if last {
				txRequest.Status = models.StatusApproved
				txRequest.CurrentLevel = 0
				txRequest.FinalApprovedAt = &now
				txRequest.FinalApprovedBy = actorID.Ptr()
				fields = map[string]interface{}{
					"status":            txRequest.Status,
					"current_level":     0,
					"final_approved_at": txRequest.FinalApprovedAt,
					"final_approved_by": txRequest.FinalApprovedBy,
					"resolution_error":  "",
				}
			} else {
				if assign != nil {
					next := txRequest.StepAt(level + 1)
					if err := txRepo.AssignStepApprover(ctx, next.ID, *assign); err != nil {
						return s.mapConflict(err)
					}
					next.ApproverID = assign
				}
				txRequest.CurrentLevel = level + 1
				fields = map[string]interface{}{
					"current_level":    txRequest.CurrentLevel,
					"resolution_error": "",
				}
			}
			txRequest.ResolutionError = ""

			if err := s.saveTransition(ctx, txRepo, txRequest, fields); err != nil {
				return err
			}
			if err := s.createAuditLog(ctx, txRepo, txRequest, models.AuditEventApproved, &actorID, previous, map[string]interface{}{
				"level":   level,
				"comment": input.Comment,
			}); err != nil {
				return err
			}

			updated = txRequest
			return nil
		})
		if err != nil {
			return err
		}

		s.logTransition(updated, models.AuditEventApproved, actorID)
		payload := models.NewNotificationPayload(updated, &actorID, input.Comment)
		if updated.Status == models.StatusApproved {
			s.notify(updated.RequesterID.Ptr(), models.NotifyApproved, payload)
		} else {
			s.notify(updated.CurrentStep().ApproverID, models.NotifyApprovalNeeded, payload)
		}

		result = &TransitionResult{Request: updated, PreviousStatus: previous, Status: updated.OverallStatus()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reject records the assigned approver's rejection of the current level. The
// request becomes terminally rejected.
func (s *ApprovalService) Reject(ctx context.Context, tenantID string, requestID uuid.UUID, actorID models.UserID, reason string, input DecisionInput) (result *TransitionResult, err error) {
	ctx, span := s.startSpan(ctx, "ApprovalService.Reject", requestID)
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if input.Level, err = s.observedLevel(ctx, tenantID, requestID, input.Level); err != nil {
		return nil, err
	}

	err = s.withRequestLock(ctx, requestID, func() error {
		request, err := s.loadRequest(ctx, tenantID, requestID)
		if err != nil {
			return err
		}
		if err := checkActionable(request, actorID, input.Level); err != nil {
			return err
		}

		var updated *models.ApprovalRequest
		var previous models.OverallStatus
		err = s.requests.WithTransaction(ctx, func(txRepo repository.RequestRepositoryInterface) error {
			txRequest, err := s.refetch(ctx, txRepo, request)
			if err != nil {
				return err
			}
			if err := checkActionable(txRequest, actorID, input.Level); err != nil {
				return err
			}
			previous = txRequest.OverallStatus()
			level := txRequest.CurrentLevel
			now := time.Now().UTC()

			step := txRequest.CurrentStep()
			step.Status = models.StepRejected
			step.DecidedAt = &now
			step.Comments = reason
			if err := txRepo.UpdateStep(ctx, step); err != nil {
				return s.mapConflict(err)
			}

			input.Comment = reason
			if err := s.appendHistory(ctx, txRepo, txRequest, models.ActionRejected, actorID, input, now); err != nil {
				return err
			}

			txRequest.Status = models.StatusRejected
			txRequest.CurrentLevel = 0
			txRequest.RejectionReason = reason
			txRequest.RejectedAt = &now
			txRequest.RejectedBy = actorID.Ptr()
			if err := s.saveTransition(ctx, txRepo, txRequest, map[string]interface{}{
				"status":           txRequest.Status,
				"current_level":    0,
				"rejection_reason": txRequest.RejectionReason,
				"rejected_at":      txRequest.RejectedAt,
				"rejected_by":      txRequest.RejectedBy,
			}); err != nil {
				return err
			}
			if err := s.createAuditLog(ctx, txRepo, txRequest, models.AuditEventRejected, &actorID, previous, map[string]interface{}{
				"level":  level,
				"reason": reason,
			}); err != nil {
				return err
			}

			updated = txRequest
			return nil
		})
		if err != nil {
			return err
		}

		s.logTransition(updated, models.AuditEventRejected, actorID)
		s.notify(updated.RequesterID.Ptr(), models.NotifyRejected, models.NewNotificationPayload(updated, &actorID, reason))

		result = &TransitionResult{Request: updated, PreviousStatus: previous, Status: updated.OverallStatus()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel withdraws a draft or pending request. Only the requester may cancel.
func (s *ApprovalService) Cancel(ctx context.Context, tenantID string, requestID uuid.UUID, actorID models.UserID, reason string) (result *TransitionResult, err error) {
	ctx, span := s.startSpan(ctx, "ApprovalService.Cancel", requestID)
	defer func() { endSpan(span, err) }()

	result, err = s.terminate(ctx, tenantID, requestID, actorID, models.StatusCancelled, reason)
	return result, err
}

// Close administratively ends a non-terminal request
func (s *ApprovalService) Close(ctx context.Context, tenantID string, requestID uuid.UUID, actorID models.UserID, reason string) (result *TransitionResult, err error) {
	ctx, span := s.startSpan(ctx, "ApprovalService.Close", requestID)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	result, err = s.terminate(ctx, tenantID, requestID, actorID, models.StatusClosed, strings.TrimSpace(reason))
	return result, err
}

// terminate moves a request into StatusCancelled or StatusClosed
func (s *ApprovalService) terminate(ctx context.Context, tenantID string, requestID uuid.UUID, actorID models.UserID, status models.RequestStatus, reason string) (*TransitionResult, error) {
	cancel := status == models.StatusCancelled
	allowed := func(r *models.ApprovalRequest) error {
		if r.IsTerminal() || r.Status == models.StatusSubmitted {
			return invalidTransition("cannot move a request in status %s to %s", r.OverallStatus(), status)
		}
		if cancel && r.RequesterID != actorID {
			return ErrUnauthorized
		}
		return nil
	}

	var result *TransitionResult
	err := s.withRequestLock(ctx, requestID, func() error {
		request, err := s.loadRequest(ctx, tenantID, requestID)
		if err != nil {
			return err
		}
		if err := allowed(request); err != nil {
			return err
		}

		var updated *models.ApprovalRequest
		var previous models.OverallStatus
		var pendingApprover *models.UserID
		err = s.requests.WithTransaction(ctx, func(txRepo repository.RequestRepositoryInterface) error {
			txRequest, err := s.refetch(ctx, txRepo, request)
			if err != nil {
				return err
			}
			if err := allowed(txRequest); err != nil {
				return err
			}
			previous = txRequest.OverallStatus()
			if step := txRequest.CurrentStep(); step != nil {
				pendingApprover = step.ApproverID
			}

			now := time.Now().UTC()
			txRequest.Status = status
			txRequest.CurrentLevel = 0
			fields := map[string]interface{}{
				"status":        status,
				"current_level": 0,
			}
			event := models.AuditEventClosed
			if cancel {
				event = models.AuditEventCancelled
				txRequest.CancelledAt = &now
				txRequest.CancelledBy = actorID.Ptr()
				fields["cancelled_at"] = txRequest.CancelledAt
				fields["cancelled_by"] = txRequest.CancelledBy
			} else {
				txRequest.ClosedAt = &now
				txRequest.ClosedBy = actorID.Ptr()
				txRequest.CloseReason = reason
				fields["closed_at"] = txRequest.ClosedAt
				fields["closed_by"] = txRequest.ClosedBy
				fields["close_reason"] = reason
			}

			if err := s.saveTransition(ctx, txRepo, txRequest, fields); err != nil {
				return err
			}
			if err := s.createAuditLog(ctx, txRepo, txRequest, event, &actorID, previous, map[string]interface{}{
				"reason": reason,
			}); err != nil {
				return err
			}

			updated = txRequest
			return nil
		})
		if err != nil {
			return err
		}

		if cancel {
			s.logTransition(updated, models.AuditEventCancelled, actorID)
			s.notify(pendingApprover, models.NotifyCancelled, models.NewNotificationPayload(updated, &actorID, reason))
		} else {
			s.logTransition(updated, models.AuditEventClosed, actorID)
		}

		result = &TransitionResult{Request: updated, PreviousStatus: previous, Status: updated.OverallStatus()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CanApprove reports whether userID may approve or reject the request now
func (s *ApprovalService) CanApprove(ctx context.Context, tenantID string, requestID uuid.UUID, userID models.UserID) (bool, error) {
	request, err := s.loadRequest(ctx, tenantID, requestID)
	if err != nil {
		return false, err
	}
	return request.CanBeActedOnBy(userID), nil
}

// PreviewChain returns the chain a request of amount would follow, without
// creating anything
func (s *ApprovalService) PreviewChain(ctx context.Context, tenantID string, amount decimal.Decimal) (chain *models.EffectiveChain, err error) {
	ctx, span := s.startSpan(ctx, "ApprovalService.PreviewChain", uuid.Nil)
	defer func() { endSpan(span, err) }()

	return s.chains.ResolveChain(ctx, tenantID, amount)
}

// GetRequest retrieves a request by ID
func (s *ApprovalService) GetRequest(ctx context.Context, tenantID string, requestID uuid.UUID) (*models.ApprovalRequest, error) {
	return s.loadRequest(ctx, tenantID, requestID)
}

// GetHistory retrieves the approve/reject history of a request
func (s *ApprovalService) GetHistory(ctx context.Context, tenantID string, requestID uuid.UUID) ([]models.ApprovalHistoryEntry, error) {
	if _, err := s.loadRequest(ctx, tenantID, requestID); err != nil {
		return nil, err
	}
	return s.requests.GetHistory(ctx, requestID)
}

// GetAuditTrail retrieves every lifecycle event of a request
func (s *ApprovalService) GetAuditTrail(ctx context.Context, tenantID string, requestID uuid.UUID) ([]models.ApprovalAuditLog, error) {
	if _, err := s.loadRequest(ctx, tenantID, requestID); err != nil {
		return nil, err
	}
	return s.requests.GetAuditTrail(ctx, requestID)
}

// ListPendingForApprover lists requests waiting on approverID
func (s *ApprovalService) ListPendingForApprover(ctx context.Context, tenantID string, approverID models.UserID, limit, offset int) ([]models.ApprovalRequest, int64, error) {
	return s.requests.ListPendingForApprover(ctx, tenantID, approverID, limit, offset)
}

// ListMyRequests lists requests raised by requesterID
func (s *ApprovalService) ListMyRequests(ctx context.Context, tenantID string, requesterID models.UserID, limit, offset int) ([]models.ApprovalRequest, int64, error) {
	return s.requests.ListRequestsByRequester(ctx, tenantID, requesterID, limit, offset)
}

// --- Helper Methods ---

// checkActionable validates an approve/reject attempt. State problems are
// reported before authorization so a lost race reads as InvalidTransition.
func checkActionable(request *models.ApprovalRequest, actorID models.UserID, level *int) error {
	if request.Status != models.StatusPending {
		return invalidTransition("request is %s", request.OverallStatus())
	}
	if !request.IsInFlight() {
		return invalidTransition("request level %d is outside 1..%d", request.CurrentLevel, request.RequiredLevels)
	}
	if level != nil && *level != request.CurrentLevel {
		return invalidTransition("level %d is not the current level %d", *level, request.CurrentLevel)
	}
	step := request.CurrentStep()
	if step == nil || step.Status != models.StepPending {
		return invalidTransition("level %d is already decided", request.CurrentLevel)
	}
	if !request.CanBeActedOnBy(actorID) {
		return ErrUnauthorized
	}
	return nil
}

// observedLevel pins an approve/reject call to the level the caller saw
// before waiting for the request lock, so a call that lost a race fails
// instead of acting on the level that follows.
func (s *ApprovalService) observedLevel(ctx context.Context, tenantID string, requestID uuid.UUID, level *int) (*int, error) {
	if level != nil {
		return level, nil
	}
	request, err := s.loadRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.StatusPending {
		return nil, nil
	}
	current := request.CurrentLevel
	return &current, nil
}

func (s *ApprovalService) withRequestLock(ctx context.Context, requestID uuid.UUID, fn func() error) error {
	lock, err := s.locker.Obtain(ctx, requestID)
	if err != nil {
		if errors.Is(err, locks.ErrNotObtained) {
			return ErrRequestBusy
		}
		return fmt.Errorf("failed to obtain request lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithField("requestID", requestID).WithError(err).Warn("failed to release request lock")
		}
	}()
	return fn()
}

func (s *ApprovalService) loadRequest(ctx context.Context, tenantID string, requestID uuid.UUID) (*models.ApprovalRequest, error) {
	request, err := s.requests.GetRequestByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if request.TenantID != tenantID {
		return nil, ErrRequestNotFound
	}
	return request, nil
}

// refetch re-reads the request inside the transaction and makes sure nobody
// changed it since it was validated
func (s *ApprovalService) refetch(ctx context.Context, txRepo repository.RequestRepositoryInterface, request *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	txRequest, err := txRepo.GetRequestForUpdate(ctx, request.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if txRequest.Version != request.Version {
		return nil, invalidTransition("request was modified concurrently")
	}
	return txRequest, nil
}

func (s *ApprovalService) saveTransition(ctx context.Context, txRepo repository.RequestRepositoryInterface, request *models.ApprovalRequest, fields map[string]interface{}) error {
	if err := txRepo.UpdateRequestWithLock(ctx, request, fields); err != nil {
		return s.mapConflict(err)
	}
	return nil
}

func (s *ApprovalService) mapConflict(err error) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return invalidTransition("request was modified concurrently")
	}
	return err
}

func (s *ApprovalService) appendHistory(ctx context.Context, txRepo repository.RequestRepositoryInterface, request *models.ApprovalRequest, action models.HistoryAction, actorID models.UserID, input DecisionInput, now time.Time) error {
	entry := models.ApprovalHistoryEntry{
		RequestID: request.ID,
		Level:     request.CurrentLevel,
		Action:    action,
		ActorID:   actorID,
		ActorName: input.ActorName,
		Comment:   input.Comment,
		Timestamp: now,
	}
	if err := txRepo.CreateHistoryEntry(ctx, &entry); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	request.History = append(request.History, entry)
	return nil
}

// resolveStep resolves the approver of a step persisted without one, using
// the chain level snapshot stored on the step
func (s *ApprovalService) resolveStep(ctx context.Context, request *models.ApprovalRequest, step *models.ApprovalStep) (*models.UserID, error) {
	level := models.ChainLevel{
		Level:       step.Level,
		Name:        step.Name,
		Roles:       step.Roles,
		OrgUnitHead: step.OrgUnitHead,
	}
	approver, err := s.approvers.ResolveApprover(ctx, level, request.TenantID, request.RequesterID, request.OrgUnitID)
	if err != nil {
		return nil, err
	}
	if approver == nil {
		return nil, unresolved(level)
	}
	return approver, nil
}

// recordResolutionFailure makes a stuck request visible: the message is kept
// on the request and an audit entry is written. The request state itself is
// left untouched.
func (s *ApprovalService) recordResolutionFailure(ctx context.Context, request *models.ApprovalRequest, actorID models.UserID, level int, cause error) {
	logger := s.logger.WithFields(logrus.Fields{
		"requestID": request.ID,
		"tenantID":  request.TenantID,
		"level":     level,
	})
	logger.WithError(cause).Warn("approval resolution failed")

	err := s.requests.WithTransaction(ctx, func(txRepo repository.RequestRepositoryInterface) error {
		if err := txRepo.SetResolutionError(ctx, request.ID, cause.Error()); err != nil {
			return err
		}
		log := &models.ApprovalAuditLog{
			RequestID:      request.ID,
			TenantID:       request.TenantID,
			EventType:      models.AuditEventResolutionFailed,
			ActorID:        actorID.Ptr(),
			Level:          level,
			PreviousStatus: request.OverallStatus().String(),
			NewStatus:      request.OverallStatus().String(),
			Metadata:       marshalMetadata(map[string]interface{}{"error": cause.Error()}),
		}
		return txRepo.CreateAuditLog(ctx, log)
	})
	if err != nil {
		logger.WithError(err).Error("failed to record resolution failure")
		return
	}
	request.ResolutionError = cause.Error()
}

func failedLevel(err error) int {
	var unresolvedErr *ApproverUnresolvedError
	if errors.As(err, &unresolvedErr) {
		return unresolvedErr.Level
	}
	return 0
}

func (s *ApprovalService) createAuditLog(ctx context.Context, txRepo repository.RequestRepositoryInterface, request *models.ApprovalRequest, eventType models.AuditEventType, actorID *models.UserID, previous models.OverallStatus, metadata map[string]interface{}) error {
	log := &models.ApprovalAuditLog{
		RequestID: request.ID,
		TenantID:  request.TenantID,
		EventType: eventType,
		ActorID:   actorID,
		Level:     request.CurrentLevel,
		NewStatus: request.OverallStatus().String(),
		Metadata:  marshalMetadata(metadata),
	}
	if previous.Status != "" {
		log.PreviousStatus = previous.String()
	}
	if err := txRepo.CreateAuditLog(ctx, log); err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func marshalMetadata(metadata map[string]interface{}) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return datatypes.JSON(metadataJSON)
}

// notify hands a notification to the notifier after the transition has
// committed. Failures and panics are logged and swallowed.
func (s *ApprovalService) notify(userID *models.UserID, event models.NotificationEvent, payload models.NotificationPayload) {
	if s.notifier == nil || userID == nil {
		return
	}
	logger := s.logger.WithFields(logrus.Fields{
		"requestID": payload.RequestID,
		"tenantID":  payload.TenantID,
		"event":     event,
		"recipient": *userID,
	})
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("notification delivery panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.Notify(ctx, *userID, event, payload); err != nil {
		logger.WithError(err).Error("notification delivery failed")
	}
}

func (s *ApprovalService) logTransition(request *models.ApprovalRequest, event models.AuditEventType, actorID models.UserID) {
	s.logger.WithFields(logrus.Fields{
		"requestID": request.ID,
		"tenantID":  request.TenantID,
		"level":     request.CurrentLevel,
		"action":    event,
		"actorID":   actorID,
		"status":    request.OverallStatus().String(),
	}).Info("approval request transition committed")
}

func (s *ApprovalService) startSpan(ctx context.Context, name string, requestID uuid.UUID) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	if requestID != uuid.Nil {
		attrs = append(attrs, attribute.String("approval.request_id", requestID.String()))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
