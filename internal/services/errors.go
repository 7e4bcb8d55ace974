package services

import (
	"errors"
	"fmt"
	"strings"

	"approval-workflow-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrRequestNotFound      = errors.New("approval request not found")
	ErrUnauthorized         = errors.New("user is not the assigned approver for the current level")
	ErrInvalidTransition    = errors.New("invalid transition for the current request state")
	ErrRequestBusy          = errors.New("approval request is being modified by another operation")
	ErrInvalidAmount        = errors.New("amount must be a non-negative value")
	ErrReasonRequired       = errors.New("a reason is required")
	ErrNoMatchingPolicies   = errors.New("no approval policy matches the request amount")
	ErrNonContiguousLevels  = errors.New("approval levels are not contiguous from level 1")
	ErrApproverUnresolved   = errors.New("approver could not be resolved")
	ErrAlreadyCustomized    = errors.New("tenant already has its own approval policies")
	ErrPolicyNotFound       = errors.New("approval policy not found")
	ErrDuplicateActiveLevel = errors.New("an active policy already exists for this level")
	ErrInvalidPolicy        = errors.New("invalid approval policy")
	ErrInvalidScope         = errors.New("invalid policy scope")
)

// ResolutionError reports why no usable chain could be built. It unwraps to
// ErrNoMatchingPolicies or ErrNonContiguousLevels.
type ResolutionError struct {
	Kind     error
	Scope    string
	TenantID string
	Amount   decimal.Decimal
	Levels   []int
}

func (e *ResolutionError) Error() string {
	if len(e.Levels) == 0 {
		return fmt.Sprintf("%v (tenant %s, scope %s, amount %s)", e.Kind, e.TenantID, e.Scope, e.Amount.StringFixed(2))
	}
	return fmt.Sprintf("%v (tenant %s, scope %s, amount %s, levels %v)", e.Kind, e.TenantID, e.Scope, e.Amount.StringFixed(2), e.Levels)
}

func (e *ResolutionError) Unwrap() error {
	return e.Kind
}

// ApproverUnresolvedError names the chain level that has no approver
type ApproverUnresolvedError struct {
	Level       int
	Roles       []models.RoleID
	OrgUnitHead bool
}

func (e *ApproverUnresolvedError) Error() string {
	if e.OrgUnitHead {
		return fmt.Sprintf("%v: level %d has no org unit head and the requester is not active", ErrApproverUnresolved, e.Level)
	}
	roles := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		roles[i] = string(r)
	}
	return fmt.Sprintf("%v: level %d has no active user with role %s", ErrApproverUnresolved, e.Level, strings.Join(roles, "|"))
}

func (e *ApproverUnresolvedError) Unwrap() error {
	return ErrApproverUnresolved
}

// IsResolutionFailure reports whether err is a chain or approver resolution
// failure, i.e. a configuration problem rather than a caller mistake
func IsResolutionFailure(err error) bool {
	return errors.Is(err, ErrNoMatchingPolicies) ||
		errors.Is(err, ErrNonContiguousLevels) ||
		errors.Is(err, ErrApproverUnresolved)
}

func invalidTransition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}
