package middleware

import (
	"net/http"

	"approval-workflow-service/internal/models"

	"github.com/gin-gonic/gin"
)

// ActorIDKey is the gin context key holding the acting user's models.UserID
const ActorIDKey = "actor_id"

// ActorMiddleware parses the acting user once into the canonical UserID.
// The id set by IstioAuth (user_id) wins over the X-User-ID header.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetString("user_id")
		if raw == "" {
			raw = c.GetHeader("X-User-ID")
		}

		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
			c.Abort()
			return
		}

		actorID, err := models.ParseUserID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			c.Abort()
			return
		}

		c.Set(ActorIDKey, actorID)
		c.Next()
	}
}

// GetActorID returns the acting user set by ActorMiddleware
func GetActorID(c *gin.Context) (models.UserID, bool) {
	v, ok := c.Get(ActorIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(models.UserID)
	return id, ok
}
