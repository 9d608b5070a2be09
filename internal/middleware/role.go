package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/univote/backend/internal/models"
	"github.com/univote/backend/pkg/response"
)

// RequireRole lets through callers whose role is one of roles. It must run after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := c.Value(ContextUserRole).(models.Role)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "insufficient permissions")
		c.Abort()
	}
}

// RequireAdmin guards the election management routes.
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin)
}

// RequireVoter guards ballot routes; admins manage the election but do not vote in it.
func RequireVoter() gin.HandlerFunc {
	return RequireRole(models.RoleVoter)
}
