package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/univote/backend/internal/models"
	"github.com/univote/backend/pkg/response"
	"github.com/univote/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	FullName   string `json:"full_name" binding:"required"`
	Role       string `json:"role"` // optional, defaults to voter
	InviteCode string `json:"invite_code"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// UserStore is the user persistence the handler needs. *Repository implements it.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, email, passwordHash, fullName string, role models.Role) (*models.User, error)
	List(ctx context.Context) ([]models.UserPublic, error)
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	users      UserStore
	jwt        *JWTService
	inviteCode string
	logger     *zap.Logger
}

// NewHandler creates an auth handler. adminInviteCode gates admin self-registration; empty disables it.
func NewHandler(users UserStore, jwt *JWTService, adminInviteCode string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, jwt: jwt, inviteCode: adminInviteCode, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	role := models.RoleVoter
	switch strings.ToLower(strings.TrimSpace(req.Role)) {
	case "", string(models.RoleVoter):
	case string(models.RoleAdmin):
		if h.inviteCode == "" || subtle.ConstantTimeCompare([]byte(req.InviteCode), []byte(h.inviteCode)) != 1 {
			response.Forbidden(c, "admin registration requires a valid invite code")
			return
		}
		role = models.RoleAdmin
	default:
		response.BadRequest(c, "invalid role")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.users.Create(c.Request.Context(), email, hash, strings.TrimSpace(req.FullName), role)
	if errors.Is(err, ErrEmailTaken) {
		response.Conflict(c, "email already registered")
		return
	}
	if err != nil {
		h.logger.Error("create user", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	h.logger.Info("user registered", zap.String("user_id", user.ID.String()), zap.String("role", string(user.Role)))
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("lookup user", zap.Error(err))
		}
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// List handles GET /users (admin only).
func (h *Handler) List(c *gin.Context) {
	list, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	if list == nil {
		list = []models.UserPublic{}
	}
	response.OK(c, list)
}
