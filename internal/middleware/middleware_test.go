package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univote/backend/internal/auth"
	"github.com/univote/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(jwtSvc *auth.JWTService, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(jwtSvc)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.MustGet(ContextUserID).(uuid.UUID),
			"role":    c.MustGet(ContextUserRole).(models.Role),
		})
	})
	r.GET("/x", handlers...)
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "garbage").Code)

	other := auth.NewJWTService("other-secret", 1)
	tok, err := other.Generate(uuid.New(), "a@b.c", "voter")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, tok).Code)
}

func TestJWTNormalizesRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)

	tok, err := svc.Generate(uuid.New(), "a@b.c", " Admin ")
	require.NoError(t, err)
	w := get(r, tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"admin"`)

	tok, err = svc.Generate(uuid.New(), "a@b.c", "superuser")
	require.NoError(t, err)
	w = get(r, tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"voter"`)
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc, RequireRole(models.RoleAdmin))

	voter, _ := svc.Generate(uuid.New(), "v@x.y", "voter")
	admin, _ := svc.Generate(uuid.New(), "a@x.y", "admin")

	assert.Equal(t, http.StatusForbidden, get(r, voter).Code)
	assert.Equal(t, http.StatusOK, get(r, admin).Code)
}

func TestRequireVoterRejectsAdmin(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc, RequireVoter())

	voter, _ := svc.Generate(uuid.New(), "v@x.y", "voter")
	admin, _ := svc.Generate(uuid.New(), "a@x.y", "admin")

	assert.Equal(t, http.StatusOK, get(r, voter).Code)
	assert.Equal(t, http.StatusForbidden, get(r, admin).Code)
}

func TestRateLimitPerUser(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	rl := NewRateLimiter(60, 2)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	r := newRouter(svc, RateLimit(rl))

	alice, _ := svc.Generate(uuid.New(), "a@x.y", "voter")
	bob, _ := svc.Generate(uuid.New(), "b@x.y", "voter")

	assert.Equal(t, http.StatusOK, get(r, alice).Code)
	assert.Equal(t, http.StatusOK, get(r, alice).Code)
	w := get(r, alice)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(r, bob).Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, get(r, alice).Code)
}

func TestRateLimitNilDisables(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc, RateLimit(nil))
	tok, _ := svc.Generate(uuid.New(), "a@x.y", "voter")
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(r, tok).Code)
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	for i := 0; i < 1025; i++ {
		rl.Allow(uuid.NewString())
	}
	now = now.Add(limiterIdle + time.Minute)
	rl.Allow("fresh")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.visitors, 1)
}

func TestRateLimiterSweepsAtMostOncePerInterval(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	start := time.Unix(1_700_000_000, 0)
	now := start
	rl.now = func() time.Time { return now }
	for i := 0; i <= sweepMinCount; i++ {
		rl.Allow(uuid.NewString())
	}

	now = start.Add(limiterIdle - 30*time.Second)
	for i := 0; i <= sweepMinCount; i++ {
		rl.Allow(uuid.NewString())
	}
	rl.mu.Lock()
	lastSweep := rl.lastSweep
	rl.mu.Unlock()
	require.Equal(t, now, lastSweep)

	// The first batch is idle now, but the last scan was only 31s ago.
	now = start.Add(limiterIdle + time.Second)
	rl.Allow("steady")
	rl.mu.Lock()
	assert.Len(t, rl.visitors, 2*(sweepMinCount+1)+1)
	assert.Equal(t, lastSweep, rl.lastSweep)
	rl.mu.Unlock()

	now = now.Add(sweepEvery)
	rl.Allow("steady")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.visitors, sweepMinCount+2)
	assert.Equal(t, now, rl.lastSweep)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("http://localhost:5173"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
