package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"approval-workflow-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(preset map[string]string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		for k, v := range preset {
			c.Set(k, v)
		}
		c.Next()
	})
	router.Use(TenantMiddleware(), ActorMiddleware())
	router.GET("/whoami", func(c *gin.Context) {
		actor, ok := GetActorID(c)
		c.JSON(http.StatusOK, gin.H{"tenant": c.GetString("tenant_id"), "actor": actor, "ok": ok})
	})
	return router
}

func TestTenantAndActorMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		preset  map[string]string
		headers map[string]string
		code    int
		body    string
	}{
		{
			name:    "headers",
			headers: map[string]string{"X-Tenant-ID": "tenant-a", "X-User-ID": "12"},
			code:    http.StatusOK,
			body:    `{"tenant":"tenant-a","actor":12,"ok":true}`,
		},
		{
			name:    "auth context wins over headers",
			preset:  map[string]string{"tenant_id": "tenant-a", "user_id": "7"},
			headers: map[string]string{"X-Tenant-ID": "tenant-b", "X-User-ID": "12"},
			code:    http.StatusOK,
			body:    `{"tenant":"tenant-a","actor":7,"ok":true}`,
		},
		{
			name:    "missing tenant",
			headers: map[string]string{"X-User-ID": "12"},
			code:    http.StatusBadRequest,
		},
		{
			name:    "global is not a tenant",
			headers: map[string]string{"X-Tenant-ID": models.GlobalScope, "X-User-ID": "12"},
			code:    http.StatusBadRequest,
		},
		{
			name:    "missing user",
			headers: map[string]string{"X-Tenant-ID": "tenant-a"},
			code:    http.StatusUnauthorized,
		},
		{
			name:    "malformed user",
			headers: map[string]string{"X-Tenant-ID": "tenant-a", "X-User-ID": "12abc"},
			code:    http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			newRouter(tt.preset).ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestPlatformOwnerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.PUT("/global", PlatformOwnerMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name    string
		headers map[string]string
		code    int
	}{
		{name: "no claim", code: http.StatusForbidden},
		{name: "claim false", headers: map[string]string{"X-Jwt-Claim-Platform-Owner": "false"}, code: http.StatusForbidden},
		{name: "claim true", headers: map[string]string{"X-Jwt-Claim-Platform-Owner": "true"}, code: http.StatusNoContent},
		{name: "istio claim header", headers: map[string]string{"x-jwt-claim-platform_owner": "1"}, code: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/global", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
		})
	}
}
