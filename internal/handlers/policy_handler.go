package handlers

import (
	"net/http"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PolicyHandler handles HTTP requests for approval level policies. The same
// handler serves the tenant scope and the global scope.
type PolicyHandler struct {
	service *services.PolicyService
	global  bool
}

// NewPolicyHandler creates a handler for the caller's tenant scope
func NewPolicyHandler(service *services.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: service}
}

// NewGlobalPolicyHandler creates a handler for the global fallback scope
func NewGlobalPolicyHandler(service *services.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: service, global: true}
}

func (h *PolicyHandler) scope(c *gin.Context) string {
	if h.global {
		return models.GlobalScope
	}
	return c.GetString("tenant_id")
}

// ListPolicies lists the policies of the scope
// @Summary List approval policies
// @Tags Approval Policies
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/approval-policies [get]
func (h *PolicyHandler) ListPolicies(c *gin.Context) {
	if h.global {
		policies, err := h.service.ListPolicies(c.Request.Context(), models.GlobalScope)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"scope": models.GlobalScope, "data": policies})
		return
	}

	overview, err := h.service.Overview(c.Request.Context(), c.GetString("tenant_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// GetPolicy retrieves a policy of the scope
// @Summary Get approval policy
// @Tags Approval Policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 200 {object} models.ApprovalLevelPolicy
// @Router /api/v1/admin/approval-policies/{id} [get]
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}

	policy, err := h.service.GetPolicy(c.Request.Context(), h.scope(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// CreatePolicy adds a policy to the scope
// @Summary Create approval policy
// @Tags Approval Policies
// @Accept json
// @Produce json
// @Param request body services.PolicyInput true "Policy"
// @Success 201 {object} models.ApprovalLevelPolicy
// @Router /api/v1/admin/approval-policies [post]
func (h *PolicyHandler) CreatePolicy(c *gin.Context) {
	var input services.PolicyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.service.CreatePolicy(c.Request.Context(), h.scope(c), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, policy)
}

// UpdatePolicy replaces a policy of the scope
// @Summary Update approval policy
// @Tags Approval Policies
// @Accept json
// @Produce json
// @Param id path string true "Policy ID"
// @Param request body services.PolicyInput true "Policy"
// @Success 200 {object} models.ApprovalLevelPolicy
// @Router /api/v1/admin/approval-policies/{id} [put]
func (h *PolicyHandler) UpdatePolicy(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}

	var input services.PolicyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.service.UpdatePolicy(c.Request.Context(), h.scope(c), id, input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// DeletePolicy removes a policy from the scope
// @Summary Delete approval policy
// @Tags Approval Policies
// @Param id path string true "Policy ID"
// @Success 204
// @Router /api/v1/admin/approval-policies/{id} [delete]
func (h *PolicyHandler) DeletePolicy(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}

	if err := h.service.DeletePolicy(c.Request.Context(), h.scope(c), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CopyGlobalPolicies snapshots the global policies into the caller's tenant
// @Summary Copy global policies to tenant
// @Tags Approval Policies
// @Produce json
// @Success 201 {object} map[string]interface{}
// @Router /api/v1/admin/approval-policies/copy-global [post]
func (h *PolicyHandler) CopyGlobalPolicies(c *gin.Context) {
	policies, err := h.service.CopyGlobalPoliciesToTenant(c.Request.Context(), c.GetString("tenant_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": policies, "copied": len(policies)})
}

// ResetPolicies deletes the caller's tenant policies
// @Summary Reset tenant policies to the global defaults
// @Tags Approval Policies
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/approval-policies/reset [post]
func (h *PolicyHandler) ResetPolicies(c *gin.Context) {
	deleted, err := h.service.ResetTenantPolicies(c.Request.Context(), c.GetString("tenant_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "effectiveScope": models.GlobalScope})
}

func policyID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policy id"})
		return uuid.Nil, false
	}
	return id, true
}
