package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/pkg/logger"
	"bookviz-api/pkg/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.SetDefault(logger.Discard())
}

func echoUser(c *gin.Context) {
	c.String(http.StatusOK, UserID(c))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	jwtManager := utils.NewJWTManager("secret", "bookviz")
	valid, err := jwtManager.GenerateToken("u1", "reader", time.Hour)
	require.NoError(t, err)
	expired, err := jwtManager.GenerateToken("u1", "reader", -time.Minute)
	require.NoError(t, err)
	foreign, err := utils.NewJWTManager("other", "bookviz").GenerateToken("u1", "reader", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Auth(AuthConfig{Secret: "secret", Issuer: "bookviz", SkipPaths: DefaultSkipPaths, Enabled: true}))
	r.GET("/v1/me", echoUser)
	r.GET("/health", echoUser)

	cases := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{name: "valid token", path: "/v1/me", header: "Bearer " + valid, status: http.StatusOK, body: "u1"},
		{name: "scheme is case insensitive", path: "/v1/me", header: "bearer " + valid, status: http.StatusOK, body: "u1"},
		{name: "missing header", path: "/v1/me", status: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/v1/me", header: "Basic " + valid, status: http.StatusUnauthorized},
		{name: "expired", path: "/v1/me", header: "Bearer " + expired, status: http.StatusUnauthorized, body: "token expired"},
		{name: "wrong secret", path: "/v1/me", header: "Bearer " + foreign, status: http.StatusUnauthorized},
		{name: "skipped path", path: "/health", status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := serve(r, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.body != "" {
				assert.Contains(t, w.Body.String(), tc.body)
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	r := gin.New()
	r.Use(Auth(AuthConfig{Enabled: false, DevUserID: "dev"}))
	r.GET("/v1/me", echoUser)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	assert.Equal(t, "dev", w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("X-User-ID", "u9")
	assert.Equal(t, "u9", serve(r, req).Body.String())
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func limitedEngine(cfg RateLimitConfig, limiter RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserID, "u1")
		c.Next()
	})
	r.POST("/jobs", RateLimit(cfg, limiter, func(userID, action string) string {
		return userID + "|" + action
	}), echoUser)
	return r
}

func TestRateLimit(t *testing.T) {
	cfg := RateLimitConfig{Enabled: true, Limit: 1, Window: time.Minute, Action: "create"}

	t.Run("allowed", func(t *testing.T) {
		limiter := &stubLimiter{allowed: true}
		w := serve(limitedEngine(cfg, limiter), httptest.NewRequest(http.MethodPost, "/jobs", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"u1|create"}, limiter.keys)
	})

	t.Run("rejected", func(t *testing.T) {
		w := serve(limitedEngine(cfg, &stubLimiter{}), httptest.NewRequest(http.MethodPost, "/jobs", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "1m0s", w.Header().Get("Retry-After"))
	})

	t.Run("limiter failure lets the request through", func(t *testing.T) {
		w := serve(limitedEngine(cfg, &stubLimiter{err: errors.New("redis down")}), httptest.NewRequest(http.MethodPost, "/jobs", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		limiter := &stubLimiter{}
		off := cfg
		off.Enabled = false
		w := serve(limitedEngine(off, limiter), httptest.NewRequest(http.MethodPost, "/jobs", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, limiter.keys)
	})
}

func TestRequestIDAndRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(), RequestID())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	assert.Equal(t, "req-42", serve(r, req).Header().Get(RequestIDHeader))
}

func TestCORSWildcard(t *testing.T) {
	r := gin.New()
	r.Use(CORS(CORSConfig{}))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	req.Header.Set("Origin", "https://reader.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
