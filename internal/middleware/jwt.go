package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/univote/backend/internal/models"
	"github.com/univote/backend/pkg/response"
)

const (
	// ContextUserID is the key for the caller's uuid.UUID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for the caller's models.Role in gin context.
	ContextUserRole = "user_role"
)

// TokenResolver turns a bearer token into the caller's identity. *auth.JWTService implements it.
type TokenResolver interface {
	Resolve(token string) (uuid.UUID, models.Role, error)
}

// JWT authenticates the Authorization bearer token and stores the caller in context.
func JWT(tokens TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Unauthorized(c, "missing or malformed authorization header")
			c.Abort()
			return
		}
		id, role, err := tokens.Resolve(raw)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, id)
		c.Set(ContextUserRole, role)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserID returns the authenticated caller, writing a 401 when there is none.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	if v, ok := c.Get(ContextUserID); ok {
		if id, ok := v.(uuid.UUID); ok && id != uuid.Nil {
			return id, true
		}
	}
	response.Unauthorized(c, "authentication required")
	return uuid.Nil, false
}
