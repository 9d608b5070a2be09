package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/univote/backend/internal/models"
	"github.com/univote/backend/pkg/utils"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUsers() *memUsers { return &memUsers{users: make(map[string]*models.User)} }

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) Create(_ context.Context, email, hash, name string, role models.Role) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, ErrEmailTaken
	}
	u := &models.User{ID: uuid.New(), Email: email, Password: hash, FullName: name, Role: role, CreatedAt: time.Now()}
	m.users[email] = u
	return u, nil
}

func (m *memUsers) List(context.Context) ([]models.UserPublic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UserPublic
	for _, u := range m.users {
		out = append(out, u.ToPublic())
	}
	return out, nil
}

func setup(t *testing.T, invite string) (*gin.Engine, *memUsers, *JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.PasswordCost = bcrypt.MinCost
	users := newMemUsers()
	jwtSvc := NewJWTService("test-secret", 1)
	h := NewHandler(users, jwtSvc, invite, nil)
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/users", h.List)
	return r, users, jwtSvc
}

func post(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type tokenEnvelope struct {
	Success bool          `json:"success"`
	Data    TokenResponse `json:"data"`
	Error   string        `json:"error"`
}

func TestRegisterDefaultsToVoter(t *testing.T) {
	r, users, jwtSvc := setup(t, "")
	w := post(r, "/auth/register", gin.H{"email": "Ada@Uni.edu", "password": "secret1", "full_name": "Ada"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var env tokenEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, models.RoleVoter, env.Data.User.Role)
	assert.Equal(t, "ada@uni.edu", env.Data.User.Email)

	id, role, err := jwtSvc.Resolve(env.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, env.Data.User.ID, id)
	assert.Equal(t, models.RoleVoter, role)

	stored, err := users.GetByEmail(context.Background(), "ada@uni.edu")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.Password)
}

func TestRegisterAdminNeedsInviteCode(t *testing.T) {
	r, _, _ := setup(t, "let-me-in")
	w := post(r, "/auth/register", gin.H{"email": "a@uni.edu", "password": "secret1", "full_name": "A", "role": "admin"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = post(r, "/auth/register", gin.H{"email": "a@uni.edu", "password": "secret1", "full_name": "A", "role": "admin", "invite_code": "let-me-in"})
	require.Equal(t, http.StatusCreated, w.Code)
	var env tokenEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, models.RoleAdmin, env.Data.User.Role)
}

func TestRegisterAdminDisabledWithoutCode(t *testing.T) {
	r, _, _ := setup(t, "")
	w := post(r, "/auth/register", gin.H{"email": "a@uni.edu", "password": "secret1", "full_name": "A", "role": "admin", "invite_code": ""})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegisterRejectsUnknownRoleAndDuplicates(t *testing.T) {
	r, _, _ := setup(t, "")
	w := post(r, "/auth/register", gin.H{"email": "a@uni.edu", "password": "secret1", "full_name": "A", "role": "speaker"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := gin.H{"email": "a@uni.edu", "password": "secret1", "full_name": "A"}
	require.Equal(t, http.StatusCreated, post(r, "/auth/register", body).Code)
	assert.Equal(t, http.StatusConflict, post(r, "/auth/register", body).Code)
}

func TestLogin(t *testing.T) {
	r, _, _ := setup(t, "")
	require.Equal(t, http.StatusCreated,
		post(r, "/auth/register", gin.H{"email": "a@uni.edu", "password": "secret1", "full_name": "A"}).Code)

	assert.Equal(t, http.StatusUnauthorized, post(r, "/auth/login", gin.H{"email": "a@uni.edu", "password": "nope"}).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/auth/login", gin.H{"email": "b@uni.edu", "password": "secret1"}).Code)

	w := post(r, "/auth/login", gin.H{"email": "a@uni.edu", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	var env tokenEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.NotEmpty(t, env.Data.Token)
}

func TestJWTValidate(t *testing.T) {
	svc := NewJWTService("s3cret", 1)
	id := uuid.New()
	tok, err := svc.Generate(id, "a@b.c", models.RoleAdmin)
	require.NoError(t, err)

	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, id.String(), claims.Subject)

	_, err = NewJWTService("other", 1).Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTRejectsExpiredAndForeignAlgorithms(t *testing.T) {
	svc := NewJWTService("s3cret", 1)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: uuid.New(),
		Role:   "voter",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	tok, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, ErrExpiredToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: uuid.New(),
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok, err = foreign.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NotErrorIs(t, err, ErrExpiredToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: uuid.New(), Role: "admin"})
	tok, err = none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, _, err = svc.Resolve(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
