package handlers

import (
	"errors"
	"net/http"

	"approval-workflow-service/internal/services"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is
var errorMappings = []errorMapping{
	{services.ErrRequestNotFound, http.StatusNotFound, "request_not_found"},
	{services.ErrPolicyNotFound, http.StatusNotFound, "policy_not_found"},
	{services.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{services.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{services.ErrRequestBusy, http.StatusConflict, "request_busy"},
	{services.ErrAlreadyCustomized, http.StatusConflict, "already_customized"},
	{services.ErrDuplicateActiveLevel, http.StatusConflict, "duplicate_active_level"},
	{services.ErrNoMatchingPolicies, http.StatusUnprocessableEntity, "no_matching_policies"},
	{services.ErrNonContiguousLevels, http.StatusUnprocessableEntity, "non_contiguous_levels"},
	{services.ErrApproverUnresolved, http.StatusUnprocessableEntity, "approver_unresolved"},
	{services.ErrInvalidPolicy, http.StatusBadRequest, "invalid_policy"},
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{services.ErrReasonRequired, http.StatusBadRequest, "reason_required"},
	{services.ErrInvalidScope, http.StatusBadRequest, "invalid_scope"},
}

// respondError writes the HTTP response for a service error
func respondError(c *gin.Context, err error, extra ...gin.H) {
	body := gin.H{}
	for _, h := range extra {
		for k, v := range h {
			body[k] = v
		}
	}

	var validationErr *services.PolicyValidationError
	if errors.As(err, &validationErr) {
		body["error"] = err.Error()
		body["code"] = "invalid_policy"
		body["fields"] = validationErr.Fields
		c.JSON(http.StatusBadRequest, body)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			body["error"] = err.Error()
			body["code"] = m.code
			c.JSON(m.status, body)
			return
		}
	}

	_ = c.Error(err)
	body["error"] = "An internal error occurred"
	c.JSON(http.StatusInternalServerError, body)
}
