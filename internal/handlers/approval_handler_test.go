package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"approval-workflow-service/internal/middleware"
	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"
	"approval-workflow-service/internal/seeders"
	"approval-workflow-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testTenant = "tenant-a"

type testEnv struct {
	router    *gin.Engine
	policies  *repository.PolicyRepository
	directory *repository.DirectoryRepository
}

// setupTestRouter wires the handlers over sqlite-backed services. The
// directory has head 7 for unit 100 and one holder per global role:
// 12, 15, 20, 22. Requester 30.
func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.ApprovalLevelPolicy{},
		&models.ApprovalRequest{},
		&models.ApprovalStep{},
		&models.ApprovalHistoryEntry{},
		&models.ApprovalAuditLog{},
		&models.DirectoryUser{},
		&models.OrgUnit{},
	))

	log := logrus.New()
	log.SetOutput(io.Discard)

	env := &testEnv{
		policies:  repository.NewPolicyRepository(db),
		directory: repository.NewDirectoryRepository(db),
	}
	require.NoError(t, seeders.SeedGlobalPolicies(ctx, env.policies, log))
	for id, role := range map[models.UserID]models.RoleID{
		7:  "department_head",
		12: "finance_officer",
		15: "procurement_manager",
		20: "finance_director",
		22: "general_manager",
		30: "staff",
	} {
		require.NoError(t, env.directory.SaveUser(ctx, &models.DirectoryUser{UserID: id, TenantID: testTenant, Role: role, Active: true}))
	}
	require.NoError(t, env.directory.SaveOrgUnit(ctx, &models.OrgUnit{ID: 100, TenantID: testTenant, HeadUserID: models.UserID(7).Ptr()}))

	approvalService := services.NewApprovalService(
		repository.NewRequestRepository(db),
		services.NewPolicyResolver(env.policies, log),
		services.NewApproverResolver(env.directory, log),
		nil,
		nil,
		log,
	)
	policyService := services.NewPolicyService(env.policies, log)

	approvalHandler := NewApprovalHandler(approvalService)
	policyHandler := NewPolicyHandler(policyService)
	globalPolicyHandler := NewGlobalPolicyHandler(policyService)

	router := gin.New()
	router.GET("/health", HealthCheck)
	router.GET("/ready", ReadinessCheck(db))

	api := router.Group("/api/v1", middleware.TenantMiddleware(), middleware.ActorMiddleware())
	api.POST("/approvals", approvalHandler.CreateRequest)
	api.GET("/approvals/pending", approvalHandler.ListPendingRequests)
	api.GET("/approvals/my-requests", approvalHandler.ListMyRequests)
	api.GET("/approvals/:id", approvalHandler.GetRequest)
	api.POST("/approvals/:id/submit", approvalHandler.SubmitRequest)
	api.POST("/approvals/:id/approve", approvalHandler.ApproveRequest)
	api.POST("/approvals/:id/reject", approvalHandler.RejectRequest)
	api.POST("/approvals/:id/cancel", approvalHandler.CancelRequest)
	api.GET("/approvals/:id/can-approve", approvalHandler.CanApprove)
	api.GET("/approvals/:id/history", approvalHandler.GetHistory)
	api.GET("/approvals/:id/audit", approvalHandler.GetAuditTrail)
	api.GET("/approval-chain/preview", approvalHandler.PreviewChain)
	api.POST("/admin/approvals/:id/close", approvalHandler.CloseRequest)
	api.GET("/admin/approval-policies", policyHandler.ListPolicies)
	api.POST("/admin/approval-policies", policyHandler.CreatePolicy)
	api.POST("/admin/approval-policies/copy-global", policyHandler.CopyGlobalPolicies)
	api.POST("/admin/approval-policies/reset", policyHandler.ResetPolicies)
	api.GET("/admin/approval-policies/:id", policyHandler.GetPolicy)
	api.PUT("/admin/approval-policies/:id", policyHandler.UpdatePolicy)
	api.DELETE("/admin/approval-policies/:id", policyHandler.DeletePolicy)
	api.GET("/admin/global-approval-policies", globalPolicyHandler.ListPolicies)
	api.POST("/admin/global-approval-policies", middleware.PlatformOwnerMiddleware(), globalPolicyHandler.CreatePolicy)
	api.PUT("/admin/global-approval-policies/:id", middleware.PlatformOwnerMiddleware(), globalPolicyHandler.UpdatePolicy)
	api.DELETE("/admin/global-approval-policies/:id", middleware.PlatformOwnerMiddleware(), globalPolicyHandler.DeletePolicy)

	env.router = router
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithHeaders(t, method, path, userID, body, nil)
}

func (e *testEnv) doWithHeaders(t *testing.T, method, path string, userID string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", testTenant)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *testEnv) createSubmitted(t *testing.T, amount string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/approvals", "30", gin.H{
		"referenceType": "purchase_requisition",
		"referenceId":   "PR-0042",
		"amount":        amount,
		"orgUnitId":     100,
		"submit":        true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	request := decode(t, w)["request"].(map[string]interface{})
	return request["id"].(string)
}

func TestCreateRequest_Handler_Draft(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/approvals", "30", gin.H{"amount": "99.95", "orgUnitId": 100})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, "99.95", body["amount"])

	id := body["id"].(string)
	w = env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/submit", "30", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending_level_1", decode(t, w)["status"])
}

func TestCreateRequest_Handler_SubmitImmediately(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/approvals", "30", gin.H{"amount": "10000", "orgUnitId": 100, "submit": true})

	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "draft", body["previousStatus"])
	assert.Equal(t, "pending_level_1", body["status"])
	chain := body["chain"].(map[string]interface{})
	assert.Equal(t, models.GlobalScope, chain["scope"])
	assert.Len(t, chain["levels"], 5)
}

func TestCreateRequest_Handler_SubmitFailureKeepsDraft(t *testing.T) {
	env := setupTestRouter(t)
	require.NoError(t, env.directory.SaveUser(context.Background(), &models.DirectoryUser{UserID: 22, TenantID: testTenant, Role: "general_manager", Active: false}))

	w := env.do(t, http.MethodPost, "/api/v1/approvals", "30", gin.H{"amount": "10000", "orgUnitId": 100, "submit": true})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "approver_unresolved", body["code"])
	require.NotEmpty(t, body["requestId"])

	w = env.do(t, http.MethodGet, "/api/v1/approvals/"+body["requestId"].(string), "30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "draft", decode(t, w)["overallStatus"])
}

func TestCreateRequest_Handler_MissingUserID(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/approvals", "", gin.H{"amount": "10"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateRequest_Handler_InvalidJSON(t *testing.T) {
	env := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals", bytes.NewBufferString("{invalid"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", testTenant)
	req.Header.Set("X-User-ID", "30")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRequest_Handler_NegativeAmount(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/approvals", "30", gin.H{"amount": "-1", "orgUnitId": 100})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_amount", decode(t, w)["code"])
}

func TestApproveRequest_Handler_Flow(t *testing.T) {
	env := setupTestRouter(t)
	id := env.createSubmitted(t, "10000")

	w := env.do(t, http.MethodGet, "/api/v1/approvals/"+id+"/can-approve", "7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["canApprove"])

	w = env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/approve", "12", gin.H{"comment": "not mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized", decode(t, w)["code"])

	w = env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/approve", "7", gin.H{"comment": "fine", "level": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pending_level_2", decode(t, w)["status"])

	w = env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/approve", "7", gin.H{"level": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode(t, w)["code"])

	w = env.do(t, http.MethodGet, "/api/v1/approvals/pending", "12", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = env.do(t, http.MethodGet, "/api/v1/approvals/"+id+"/history", "12", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode(t, w)["data"].([]interface{})
	require.Len(t, history, 1)
	assert.Equal(t, "fine", history[0].(map[string]interface{})["comment"])
}

func TestRejectRequest_Handler(t *testing.T) {
	env := setupTestRouter(t)
	id := env.createSubmitted(t, "10000")

	w := env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/reject", "7", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "reason_required", decode(t, w)["code"])

	w = env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/reject", "7", gin.H{"reason": "insufficient budget"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", decode(t, w)["status"])

	w = env.do(t, http.MethodGet, "/api/v1/approvals/"+id, "30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "rejected", body["overallStatus"])
	assert.Equal(t, "insufficient budget", body["request"].(map[string]interface{})["rejectionReason"])

	w = env.do(t, http.MethodGet, "/api/v1/approvals/"+id+"/audit", "30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 3)
}

func TestCancelAndClose_Handler(t *testing.T) {
	env := setupTestRouter(t)
	id := env.createSubmitted(t, "500")

	w := env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/cancel", "7", gin.H{"reason": "nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/cancel", "30", gin.H{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode(t, w)["status"])

	other := env.createSubmitted(t, "500")
	w = env.do(t, http.MethodPost, "/api/v1/admin/approvals/"+other+"/close", "1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/admin/approvals/"+other+"/close", "1", gin.H{"reason": "vendor withdrawn"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", decode(t, w)["status"])

	w = env.do(t, http.MethodGet, "/api/v1/approvals/my-requests?limit=500", "30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(20), body["limit"])
}

func TestGetRequest_Handler_InvalidID(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/approvals/invalid-uuid", "30", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRequest_Handler_NotFound(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/approvals/"+uuid.NewString(), "30", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "request_not_found", decode(t, w)["code"])
}

func TestPreviewChain_Handler(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/approval-chain/preview?amount=2500", "30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	levels := decode(t, w)["levels"].([]interface{})
	require.Len(t, levels, 5)
	assert.Equal(t, true, levels[0].(map[string]interface{})["orgUnitHead"])

	w = env.do(t, http.MethodGet, "/api/v1/approval-chain/preview?amount=abc", "30", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth_Handler(t *testing.T) {
	env := setupTestRouter(t)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "approval-workflow-service", decode(t, w)["service"])
	}
}

func TestApproveRequest_Handler_MalformedBody(t *testing.T) {
	env := setupTestRouter(t)
	id := env.createSubmitted(t, "10000")

	w := env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/approve", "7", gin.H{"level": "2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/cancel", "30", gin.H{"reason": 42})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/approvals/"+id, "30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending_level_1", decode(t, w)["overallStatus"])

	// An empty body is still a valid approval
	w = env.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/approve", "7", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pending_level_2", decode(t, w)["status"])
}
