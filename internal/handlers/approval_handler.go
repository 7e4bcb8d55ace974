package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"approval-workflow-service/internal/middleware"
	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/services"

	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApprovalHandler handles HTTP requests for approvals
type ApprovalHandler struct {
	service *services.ApprovalService
}

// NewApprovalHandler creates a new ApprovalHandler
func NewApprovalHandler(service *services.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

// CreateRequestBody is the body of POST /approvals
type CreateRequestBody struct {
	services.CreateDraftInput
	Submit bool `json:"submit"`
}

// CreateRequest creates a draft approval request, optionally submitting it
// @Summary Create approval request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param request body CreateRequestBody true "Create Request"
// @Success 201 {object} models.ApprovalRequest
// @Router /api/v1/approvals [post]
func (h *ApprovalHandler) CreateRequest(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	actorID, ok := middleware.GetActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return
	}

	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	request, err := h.service.CreateDraft(c.Request.Context(), tenantID, actorID, body.CreateDraftInput)
	if err != nil {
		respondError(c, err)
		return
	}

	if !body.Submit {
		c.JSON(http.StatusCreated, request)
		return
	}

	result, err := h.service.Submit(c.Request.Context(), tenantID, request.ID, actorID)
	if err != nil {
		// The draft exists even though submission failed
		respondError(c, err, gin.H{"requestId": request.ID.String()})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// SubmitRequest submits a draft for approval
// @Summary Submit request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} services.TransitionResult
// @Router /api/v1/approvals/{id}/submit [post]
func (h *ApprovalHandler) SubmitRequest(c *gin.Context) {
	id, actorID, ok := requestAndActor(c)
	if !ok {
		return
	}

	result, err := h.service.Submit(c.Request.Context(), c.GetString("tenant_id"), id, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ApproveRequest approves the current level of a request
// @Summary Approve request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body map[string]interface{} false "Comment and optional level"
// @Success 200 {object} services.TransitionResult
// @Router /api/v1/approvals/{id}/approve [post]
func (h *ApprovalHandler) ApproveRequest(c *gin.Context) {
	id, actorID, ok := requestAndActor(c)
	if !ok {
		return
	}

	var body struct {
		Comment string `json:"comment"`
		Level   *int   `json:"level"`
	}
	if !bindOptionalJSON(c, &body) {
		return
	}

	actor := gosharedmw.GetActorInfo(c)
	result, err := h.service.Approve(c.Request.Context(), c.GetString("tenant_id"), id, actorID, services.DecisionInput{
		Comment:   body.Comment,
		Level:     body.Level,
		ActorName: actor.ActorName,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RejectRequest rejects the current level of a request
// @Summary Reject request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param request body map[string]interface{} true "Reason and optional level"
// @Success 200 {object} services.TransitionResult
// @Router /api/v1/approvals/{id}/reject [post]
func (h *ApprovalHandler) RejectRequest(c *gin.Context) {
	id, actorID, ok := requestAndActor(c)
	if !ok {
		return
	}

	var body struct {
		Reason  string `json:"reason"`
		Comment string `json:"comment"`
		Level   *int   `json:"level"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required for rejection"})
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = body.Comment
	}

	actor := gosharedmw.GetActorInfo(c)
	result, err := h.service.Reject(c.Request.Context(), c.GetString("tenant_id"), id, actorID, reason, services.DecisionInput{
		Level:     body.Level,
		ActorName: actor.ActorName,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CancelRequest cancels a request on behalf of its requester
// @Summary Cancel request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} services.TransitionResult
// @Router /api/v1/approvals/{id}/cancel [post]
func (h *ApprovalHandler) CancelRequest(c *gin.Context) {
	id, actorID, ok := requestAndActor(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if !bindOptionalJSON(c, &body) {
		return
	}

	result, err := h.service.Cancel(c.Request.Context(), c.GetString("tenant_id"), id, actorID, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CloseRequest administratively closes a request
// @Summary Close request
// @Tags Approvals Admin
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} services.TransitionResult
// @Router /api/v1/admin/approvals/{id}/close [post]
func (h *ApprovalHandler) CloseRequest(c *gin.Context) {
	id, actorID, ok := requestAndActor(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required to close a request"})
		return
	}

	result, err := h.service.Close(c.Request.Context(), c.GetString("tenant_id"), id, actorID, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetRequest retrieves an approval request with its steps and history
// @Summary Get approval request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} models.ApprovalRequest
// @Router /api/v1/approvals/{id} [get]
func (h *ApprovalHandler) GetRequest(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	request, err := h.service.GetRequest(c.Request.Context(), c.GetString("tenant_id"), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request":       request,
		"overallStatus": request.OverallStatus(),
	})
}

// CanApprove tells the caller whether they may act on the request now
// @Summary Check approval authority
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/approvals/{id}/can-approve [get]
func (h *ApprovalHandler) CanApprove(c *gin.Context) {
	id, actorID, ok := requestAndActor(c)
	if !ok {
		return
	}

	canApprove, err := h.service.CanApprove(c.Request.Context(), c.GetString("tenant_id"), id, actorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"canApprove": canApprove})
}

// GetHistory retrieves the approve/reject history of a request
// @Summary Get request history
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {array} models.ApprovalHistoryEntry
// @Router /api/v1/approvals/{id}/history [get]
func (h *ApprovalHandler) GetHistory(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	history, err := h.service.GetHistory(c.Request.Context(), c.GetString("tenant_id"), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

// GetAuditTrail retrieves every lifecycle event of a request
// @Summary Get request audit trail
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {array} models.ApprovalAuditLog
// @Router /api/v1/approvals/{id}/audit [get]
func (h *ApprovalHandler) GetAuditTrail(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	logs, err := h.service.GetAuditTrail(c.Request.Context(), c.GetString("tenant_id"), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// ListPendingRequests lists requests waiting on the caller
// @Summary List requests pending my approval
// @Tags Approvals
// @Produce json
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/approvals/pending [get]
func (h *ApprovalHandler) ListPendingRequests(c *gin.Context) {
	actorID, ok := middleware.GetActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return
	}
	limit, offset := pagination(c)

	requests, total, err := h.service.ListPendingForApprover(c.Request.Context(), c.GetString("tenant_id"), actorID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   requests,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ListMyRequests lists requests raised by the caller
// @Summary List my submitted requests
// @Tags Approvals
// @Produce json
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/approvals/my-requests [get]
func (h *ApprovalHandler) ListMyRequests(c *gin.Context) {
	actorID, ok := middleware.GetActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return
	}
	limit, offset := pagination(c)

	requests, total, err := h.service.ListMyRequests(c.Request.Context(), c.GetString("tenant_id"), actorID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   requests,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// PreviewChain shows the chain a request of the given amount would follow
// @Summary Preview approval chain
// @Tags Approvals
// @Produce json
// @Param amount query string true "Request amount"
// @Success 200 {object} models.EffectiveChain
// @Router /api/v1/approval-chain/preview [get]
func (h *ApprovalHandler) PreviewChain(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal number"})
		return
	}

	chain, err := h.service.PreviewChain(c.Request.Context(), c.GetString("tenant_id"), amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, chain)
}

func requestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return uuid.Nil, false
	}
	return id, true
}

func requestAndActor(c *gin.Context) (uuid.UUID, models.UserID, bool) {
	id, ok := requestID(c)
	if !ok {
		return uuid.Nil, 0, false
	}
	actorID, ok := middleware.GetActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return uuid.Nil, 0, false
	}
	return id, actorID, true
}

// bindOptionalJSON accepts an empty body but rejects one that does not decode
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
