package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"approval-workflow-service/internal/models"

	"github.com/sirupsen/logrus"
)

// Directory is the read-only view of the identity service used to find
// approvers
type Directory interface {
	// ListActiveUsersByRole returns the active users of tenantID holding any
	// of roles
	ListActiveUsersByRole(ctx context.Context, tenantID string, roles []models.RoleID) ([]models.UserID, error)
	// GetOrgUnitHead returns the head of unitID, or nil when none is configured
	GetOrgUnitHead(ctx context.Context, tenantID string, unitID models.OrgUnitID) (*models.UserID, error)
	IsUserActive(ctx context.Context, tenantID string, userID models.UserID) (bool, error)
}

// ApproverResolver finds the concrete approver for a chain level
type ApproverResolver struct {
	directory Directory
	logger    *logrus.Entry
}

// NewApproverResolver creates a new ApproverResolver
func NewApproverResolver(directory Directory, logger *logrus.Logger) *ApproverResolver {
	return &ApproverResolver{
		directory: directory,
		logger:    logger.WithField("component", "approver_resolver"),
	}
}

// ResolveApprover returns the approver for one level, or nil when nobody
// qualifies. A nil approver must be treated as a failure by the caller.
func (r *ApproverResolver) ResolveApprover(ctx context.Context, level models.ChainLevel, tenantID string, requesterID models.UserID, unitID models.OrgUnitID) (*models.UserID, error) {
	return r.session(tenantID, requesterID, unitID).resolve(ctx, level)
}

// ResolveChain resolves every level of chain. Directory lookups are shared
// between levels of this call only. It fails with an ApproverUnresolvedError
// for the first level nobody qualifies for.
func (r *ApproverResolver) ResolveChain(ctx context.Context, chain *models.EffectiveChain, requesterID models.UserID, unitID models.OrgUnitID) ([]models.UserID, error) {
	s := r.session(chain.TenantID, requesterID, unitID)
	approvers := make([]models.UserID, 0, len(chain.Levels))
	for _, level := range chain.Levels {
		approver, err := s.resolve(ctx, level)
		if err != nil {
			return nil, err
		}
		if approver == nil {
			return nil, unresolved(level)
		}
		approvers = append(approvers, *approver)
	}
	return approvers, nil
}

func unresolved(level models.ChainLevel) *ApproverUnresolvedError {
	return &ApproverUnresolvedError{Level: level.Level, Roles: level.Roles, OrgUnitHead: level.OrgUnitHead}
}

func (r *ApproverResolver) session(tenantID string, requesterID models.UserID, unitID models.OrgUnitID) *resolution {
	return &resolution{
		directory:   r.directory,
		logger:      r.logger,
		tenantID:    tenantID,
		requesterID: requesterID,
		unitID:      unitID,
		byRoles:     make(map[string][]models.UserID),
		active:      make(map[models.UserID]bool),
	}
}

// resolution memoizes directory answers for a single resolve call
type resolution struct {
	directory   Directory
	logger      *logrus.Entry
	tenantID    string
	requesterID models.UserID
	unitID      models.OrgUnitID

	headLoaded bool
	head       *models.UserID
	byRoles    map[string][]models.UserID
	active     map[models.UserID]bool
}

func (s *resolution) resolve(ctx context.Context, level models.ChainLevel) (*models.UserID, error) {
	if level.OrgUnitHead {
		return s.orgUnitHead(ctx)
	}
	return s.roleHolder(ctx, level.Roles)
}

// orgUnitHead returns the active head of the requester's unit, falling back
// to the requester when the unit has no (active) head
func (s *resolution) orgUnitHead(ctx context.Context) (*models.UserID, error) {
	if !s.headLoaded {
		head, err := s.directory.GetOrgUnitHead(ctx, s.tenantID, s.unitID)
		if err != nil {
			return nil, fmt.Errorf("failed to load org unit head: %w", err)
		}
		s.head = head
		s.headLoaded = true
	}

	if s.head != nil {
		ok, err := s.isActive(ctx, *s.head)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.head.Ptr(), nil
		}
		s.logger.WithFields(logrus.Fields{
			"tenantID":  s.tenantID,
			"orgUnitID": s.unitID,
			"headID":    *s.head,
		}).Warn("org unit head is not active, falling back to requester")
	}

	ok, err := s.isActive(ctx, s.requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s.requesterID.Ptr(), nil
}

// roleHolder returns the lowest user id among the active holders of roles
func (s *resolution) roleHolder(ctx context.Context, roles []models.RoleID) (*models.UserID, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	key := rolesKey(roles)
	ids, ok := s.byRoles[key]
	if !ok {
		var err error
		ids, err = s.directory.ListActiveUsersByRole(ctx, s.tenantID, roles)
		if err != nil {
			return nil, fmt.Errorf("failed to list users by role: %w", err)
		}
		s.byRoles[key] = ids
	}
	if len(ids) == 0 {
		return nil, nil
	}

	lowest := ids[0]
	for _, id := range ids[1:] {
		if id < lowest {
			lowest = id
		}
	}
	return lowest.Ptr(), nil
}

func (s *resolution) isActive(ctx context.Context, id models.UserID) (bool, error) {
	if ok, cached := s.active[id]; cached {
		return ok, nil
	}
	ok, err := s.directory.IsUserActive(ctx, s.tenantID, id)
	if err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", id, err)
	}
	s.active[id] = ok
	return ok, nil
}

func rolesKey(roles []models.RoleID) string {
	sorted := make([]string, len(roles))
	for i, r := range roles {
		sorted[i] = string(r)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
