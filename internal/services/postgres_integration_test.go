//go:build integration

package services

import (
	"context"
	"os"
	"sync"
	"testing"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"
	"approval-workflow-service/internal/seeders"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresSuite runs the engine against a real postgres so row locks and the
// version compare-and-swap are exercised under contention.
type PostgresSuite struct {
	suite.Suite
	db        *gorm.DB
	policies  *repository.PolicyRepository
	directory *repository.DirectoryRepository
	service   *ApprovalService
	admin     *PolicyService
	tenantID  string
}

func (s *PostgresSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=approval_workflow_test port=5432 sslmode=disable"
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	if err != nil {
		s.T().Fatalf("Failed to connect to database: %v", err)
	}
	s.db = db

	s.Require().NoError(s.db.AutoMigrate(
		&models.ApprovalLevelPolicy{},
		&models.ApprovalRequest{},
		&models.ApprovalStep{},
		&models.ApprovalHistoryEntry{},
		&models.ApprovalAuditLog{},
		&models.DirectoryUser{},
		&models.OrgUnit{},
	))

	log := testLogger()
	s.policies = repository.NewPolicyRepository(db)
	s.directory = repository.NewDirectoryRepository(db)
	s.Require().NoError(seeders.SeedGlobalPolicies(context.Background(), s.policies, log))

	s.service = NewApprovalService(
		repository.NewRequestRepository(db),
		NewPolicyResolver(s.policies, log),
		NewApproverResolver(s.directory, log),
		nil,
		nil,
		log,
	)
	s.admin = NewPolicyService(s.policies, log)
}

// SetupTest gives every test its own tenant with a private copy of the
// global chain, so edits to the shared global set elsewhere cannot leak in
func (s *PostgresSuite) SetupTest() {
	ctx := context.Background()
	s.tenantID = "test-tenant-" + uuid.NewString()[:8]

	_, err := s.admin.CopyGlobalPoliciesToTenant(ctx, s.tenantID)
	s.Require().NoError(err)

	for id, role := range map[models.UserID]models.RoleID{
		7:  "department_head",
		12: "finance_officer",
		15: "procurement_manager",
		20: "finance_director",
		22: "general_manager",
		30: "staff",
	} {
		s.Require().NoError(s.directory.SaveUser(ctx, &models.DirectoryUser{UserID: id, TenantID: s.tenantID, Role: role, Active: true}))
	}
	s.Require().NoError(s.directory.SaveOrgUnit(ctx, &models.OrgUnit{
		ID:         models.OrgUnitID(uuid.New().ID()),
		TenantID:   s.tenantID,
		HeadUserID: models.UserID(7).Ptr(),
	}))
}

func (s *PostgresSuite) TearDownTest() {
	s.db.Exec("DELETE FROM approval_audit_log WHERE tenant_id = ?", s.tenantID)
	s.db.Exec("DELETE FROM approval_history WHERE request_id IN (SELECT id FROM approval_requests WHERE tenant_id = ?)", s.tenantID)
	s.db.Exec("DELETE FROM approval_steps WHERE request_id IN (SELECT id FROM approval_requests WHERE tenant_id = ?)", s.tenantID)
	s.db.Exec("DELETE FROM approval_requests WHERE tenant_id = ?", s.tenantID)
	s.db.Exec("DELETE FROM approval_level_policies WHERE scope = ?", s.tenantID)
	s.db.Exec("DELETE FROM directory_users WHERE tenant_id = ?", s.tenantID)
	s.db.Exec("DELETE FROM org_units WHERE tenant_id = ?", s.tenantID)
}

func (s *PostgresSuite) orgUnit() models.OrgUnitID {
	var unit models.OrgUnit
	s.Require().NoError(s.db.Where("tenant_id = ?", s.tenantID).First(&unit).Error)
	return unit.ID
}

func (s *PostgresSuite) submit(amount string) *models.ApprovalRequest {
	ctx := context.Background()
	request, err := s.service.CreateDraft(ctx, s.tenantID, 30, CreateDraftInput{
		ReferenceType: "purchase_requisition",
		ReferenceID:   "PR-" + uuid.NewString()[:8],
		Amount:        decimal.RequireFromString(amount),
		OrgUnitID:     s.orgUnit(),
	})
	s.Require().NoError(err)
	result, err := s.service.Submit(ctx, s.tenantID, request.ID, 30)
	s.Require().NoError(err)
	return result.Request
}

func (s *PostgresSuite) TestFullChainApproval() {
	ctx := context.Background()
	request := s.submit("10000.00")
	s.Equal(5, request.RequiredLevels)

	for _, approver := range []models.UserID{7, 12, 15, 20, 22} {
		_, err := s.service.Approve(ctx, s.tenantID, request.ID, approver, DecisionInput{Comment: "ok"})
		s.Require().NoError(err)
	}

	final, err := s.service.GetRequest(ctx, s.tenantID, request.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, final.Status)
	s.Equal(models.UserID(22), *final.FinalApprovedBy)
	s.Len(final.History, 5)
}

func (s *PostgresSuite) TestConcurrentApprovalsCommitOnce() {
	ctx := context.Background()
	request := s.submit("2500.00")

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.service.Approve(ctx, s.tenantID, request.ID, 7, DecisionInput{Level: intPtr(1)})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.ErrorIs(err, ErrInvalidTransition)
	}
	s.Equal(1, succeeded)

	advanced, err := s.service.GetRequest(ctx, s.tenantID, request.ID)
	s.Require().NoError(err)
	s.Equal(2, advanced.CurrentLevel)
	s.Len(advanced.History, 1)
}

func (s *PostgresSuite) TestTenantIsolation() {
	ctx := context.Background()
	request := s.submit("100.00")

	_, err := s.service.GetRequest(ctx, "other-tenant", request.ID)
	s.ErrorIs(err, ErrRequestNotFound)

	_, err = s.service.Approve(ctx, "other-tenant", request.ID, 7, DecisionInput{})
	s.ErrorIs(err, ErrRequestNotFound)
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) TestConcurrentPolicyCreatesKeepOneActiveLevel() {
	ctx := context.Background()
	const writers = 8

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.admin.CreatePolicy(ctx, s.tenantID, PolicyInput{
				Level: 6,
				Name:  "Board",
				Roles: []models.RoleID{"board_member"},
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		s.ErrorIs(err, ErrDuplicateActiveLevel)
	}
	s.Equal(1, created)

	var count int64
	s.Require().NoError(s.db.Model(&models.ApprovalLevelPolicy{}).
		Where("scope = ? AND level = ? AND active = ?", s.tenantID, 6, true).
		Count(&count).Error)
	s.Equal(int64(1), count)
}
