package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// PolicyInput represents input for creating or replacing a policy
type PolicyInput struct {
	Level     int              `json:"level" validate:"required,min=1"`
	Name      string           `json:"name" validate:"required,max=255"`
	MinAmount decimal.Decimal  `json:"minAmount"`
	MaxAmount *decimal.Decimal `json:"maxAmount"`
	Roles     []models.RoleID  `json:"roles" validate:"required,min=1,dive,required,max=100"`
	Active    *bool            `json:"active"`
	SortOrder int              `json:"sortOrder" validate:"min=0"`
}

// PolicyValidationError lists the invalid fields of a PolicyInput
type PolicyValidationError struct {
	Fields map[string]string
}

func (e *PolicyValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return fmt.Sprintf("%v: %s", ErrInvalidPolicy, strings.Join(parts, ", "))
}

func (e *PolicyValidationError) Unwrap() error {
	return ErrInvalidPolicy
}

// PolicyOverview describes which policy set is in force for a tenant
type PolicyOverview struct {
	TenantID       string                       `json:"tenantId"`
	EffectiveScope string                       `json:"effectiveScope"`
	Customized     bool                         `json:"customized"`
	Policies       []models.ApprovalLevelPolicy `json:"policies"`
}

// PolicyService administers tenant and global policy sets
type PolicyService struct {
	policies repository.PolicyRepositoryInterface
	validate *validator.Validate
	logger   *logrus.Entry
}

// NewPolicyService creates a new PolicyService
func NewPolicyService(policies repository.PolicyRepositoryInterface, logger *logrus.Logger) *PolicyService {
	return &PolicyService{
		policies: policies,
		validate: validator.New(),
		logger:   logger.WithField("component", "policy_service"),
	}
}

// Overview returns the tenant's own policies and which scope currently applies
func (s *PolicyService) Overview(ctx context.Context, tenantID string) (*PolicyOverview, error) {
	if err := validateTenantScope(tenantID); err != nil {
		return nil, err
	}
	policies, err := s.policies.ListByScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	active, err := s.policies.CountActiveByScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	overview := &PolicyOverview{
		TenantID:       tenantID,
		EffectiveScope: models.GlobalScope,
		Customized:     len(policies) > 0,
		Policies:       policies,
	}
	if active > 0 {
		overview.EffectiveScope = tenantID
	}
	return overview, nil
}

// ListPolicies lists every policy of a scope
func (s *PolicyService) ListPolicies(ctx context.Context, scope string) ([]models.ApprovalLevelPolicy, error) {
	if scope == "" {
		return nil, ErrInvalidScope
	}
	return s.policies.ListByScope(ctx, scope)
}

// GetPolicy retrieves one policy of a scope
func (s *PolicyService) GetPolicy(ctx context.Context, scope string, id uuid.UUID) (*models.ApprovalLevelPolicy, error) {
	policy, err := s.policies.GetByID(ctx, scope, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return policy, nil
}

// CreatePolicy adds a policy to a scope
func (s *PolicyService) CreatePolicy(ctx context.Context, scope string, input PolicyInput) (*models.ApprovalLevelPolicy, error) {
	if scope == "" {
		return nil, ErrInvalidScope
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	policy := &models.ApprovalLevelPolicy{Scope: scope}
	applyInput(policy, input)

	err := s.policies.WithTransaction(ctx, func(txRepo repository.PolicyRepositoryInterface) error {
		if policy.Active {
			exists, err := txRepo.ExistsActiveLevel(ctx, scope, policy.Level, uuid.Nil)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateActiveLevel
			}
		}
		return txRepo.Create(ctx, policy)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrDuplicateActiveLevel
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"scope": scope, "policyID": policy.ID, "level": policy.Level}).Info("approval policy created")
	return policy, nil
}

// UpdatePolicy replaces the editable fields of a policy
func (s *PolicyService) UpdatePolicy(ctx context.Context, scope string, id uuid.UUID, input PolicyInput) (*models.ApprovalLevelPolicy, error) {
	if scope == "" {
		return nil, ErrInvalidScope
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	var policy *models.ApprovalLevelPolicy
	err := s.policies.WithTransaction(ctx, func(txRepo repository.PolicyRepositoryInterface) error {
		existing, err := txRepo.GetByID(ctx, scope, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPolicyNotFound
			}
			return err
		}
		applyInput(existing, input)

		if existing.Active {
			exists, err := txRepo.ExistsActiveLevel(ctx, scope, existing.Level, existing.ID)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateActiveLevel
			}
		}
		if err := txRepo.Update(ctx, existing); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPolicyNotFound
			}
			return err
		}
		policy = existing
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrDuplicateActiveLevel
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"scope": scope, "policyID": id, "level": policy.Level}).Info("approval policy updated")
	return policy, nil
}

// DeletePolicy removes a policy from a scope
func (s *PolicyService) DeletePolicy(ctx context.Context, scope string, id uuid.UUID) error {
	if err := s.policies.Delete(ctx, scope, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPolicyNotFound
		}
		return err
	}
	s.logger.WithFields(logrus.Fields{"scope": scope, "policyID": id}).Info("approval policy deleted")
	return nil
}

// CopyGlobalPoliciesToTenant snapshots the global set (inactive policies
// included) into the tenant scope. The copies are independent of the global
// set afterwards.
func (s *PolicyService) CopyGlobalPoliciesToTenant(ctx context.Context, tenantID string) ([]models.ApprovalLevelPolicy, error) {
	if err := validateTenantScope(tenantID); err != nil {
		return nil, err
	}

	var copies []models.ApprovalLevelPolicy
	err := s.policies.WithTransaction(ctx, func(txRepo repository.PolicyRepositoryInterface) error {
		count, err := txRepo.CountByScope(ctx, tenantID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyCustomized
		}

		globals, err := txRepo.ListByScope(ctx, models.GlobalScope)
		if err != nil {
			return err
		}
		copies = make([]models.ApprovalLevelPolicy, 0, len(globals))
		for i := range globals {
			copies = append(copies, globals[i].CopyTo(tenantID))
		}
		return txRepo.CreateBatch(ctx, copies)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrAlreadyCustomized
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"tenantID": tenantID, "copied": len(copies)}).Info("global approval policies copied to tenant")
	return copies, nil
}

// ResetTenantPolicies deletes every tenant policy so the global set applies
// again. It returns the number of deleted policies.
func (s *PolicyService) ResetTenantPolicies(ctx context.Context, tenantID string) (int64, error) {
	if err := validateTenantScope(tenantID); err != nil {
		return 0, err
	}
	deleted, err := s.policies.DeleteByScope(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{"tenantID": tenantID, "deleted": deleted}).Info("tenant approval policies reset")
	return deleted, nil
}

func (s *PolicyService) validateInput(input PolicyInput) error {
	fields := map[string]string{}
	if err := s.validate.Struct(input); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return err
		}
		for _, ve := range validationErrors {
			fields[ve.Field()] = ve.Tag()
		}
	}
	if input.MinAmount.IsNegative() {
		fields["MinAmount"] = "gte=0"
	}
	if input.MaxAmount != nil && input.MaxAmount.LessThan(input.MinAmount) {
		fields["MaxAmount"] = "gtefield=MinAmount"
	}
	if len(fields) > 0 {
		return &PolicyValidationError{Fields: fields}
	}
	return nil
}

func applyInput(policy *models.ApprovalLevelPolicy, input PolicyInput) {
	policy.Level = input.Level
	policy.Name = strings.TrimSpace(input.Name)
	policy.MinAmount = input.MinAmount.Round(2)
	policy.MaxAmount = decimal.NullDecimal{}
	if input.MaxAmount != nil {
		policy.MaxAmount = decimal.NewNullDecimal(input.MaxAmount.Round(2))
	}
	policy.Roles = datatypes.JSONSlice[models.RoleID](append([]models.RoleID(nil), input.Roles...))
	policy.Active = input.Active == nil || *input.Active
	policy.SortOrder = input.SortOrder
}

func validateTenantScope(tenantID string) error {
	if tenantID == "" || tenantID == models.GlobalScope {
		return ErrInvalidScope
	}
	return nil
}
