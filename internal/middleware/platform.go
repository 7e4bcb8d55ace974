package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PlatformOwnerKey is the gin context key set for platform owners
const PlatformOwnerKey = "platform_owner"

// PlatformOwnerMiddleware admits only callers whose token carries the
// platform_owner claim. Tenant-level permissions are not enough to change
// state shared by every tenant.
func PlatformOwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsPlatformOwner(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "platform owner access required"})
			c.Abort()
			return
		}
		c.Set(PlatformOwnerKey, true)
		c.Next()
	}
}

// IsPlatformOwner reads the platform_owner claim injected by Istio
func IsPlatformOwner(c *gin.Context) bool {
	claim := c.GetHeader("x-jwt-claim-platform_owner")
	if claim == "" {
		claim = c.GetHeader("X-Jwt-Claim-Platform-Owner")
	}
	return claim == "true" || claim == "1"
}
