package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/api/handlers"
	"github.com/BaSui01/storyflow/config"
	"github.com/BaSui01/storyflow/internal/ctxkeys"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	})
	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)

	// 客户端提供的 ID 保持不变
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.Header.Set("X-Request-ID", "client-1")
	handler.ServeHTTP(w, r)
	assert.Equal(t, "client-1", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-1", seen)
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := Chain(inner, RequestID(), Recovery(zap.NewNop()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.NotEmpty(t, resp.RequestID)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/v1/workflows", "/v1/workflows"},
		{"/v1/workflows/story-mapping-workflow", "/v1/workflows/:workflow"},
		{"/v1/workflows/project-workflow/runs", "/v1/workflows/:workflow/runs"},
		{"/v1/agents/Research Agent", "/v1/agents/:name"},
		{"/v1/runs/6f1c2d3e-4b5a-4c6d-8e9f-0a1b2c3d4e5f", "/v1/runs/:id"},
		{"/v1/runs/6f1c2d3e-4b5a-4c6d-8e9f-0a1b2c3d4e5f/resume", "/v1/runs/:id/resume"},
		{"/v1/runs/6f1c2d3e-4b5a-4c6d-8e9f-0a1b2c3d4e5f/events", "/v1/runs/:id/events"},
		{"/v1/events", "/v1/events"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "s3cret", Issuer: "storyflow-tests", Audience: "storyflow"}
	var subject string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = ctxkeys.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := JWTAuth(cfg, []string{"/health"}, zap.NewNop())(inner)

	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "storyflow-tests",
		Audience:  jwt.ClaimStrings{"storyflow"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{"valid token", "/v1/workflows", "Bearer " + signToken(t, "s3cret", valid), http.StatusNoContent},
		{"skip path", "/health", "", http.StatusNoContent},
		{"missing header", "/v1/workflows", "", http.StatusUnauthorized},
		{"not bearer", "/v1/workflows", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "/v1/workflows", "Bearer " + signToken(t, "other", valid), http.StatusUnauthorized},
		{"expired", "/v1/workflows", "Bearer " + signToken(t, "s3cret", expired), http.StatusUnauthorized},
		{"wrong issuer", "/v1/workflows", "Bearer " + signToken(t, "s3cret", wrongIssuer), http.StatusUnauthorized},
		{"no expiry", "/v1/workflows", "Bearer " + signToken(t, "s3cret", noExpiry), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
				var resp handlers.Response
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.NotNil(t, resp.Error)
				assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
			}
		})
	}

	// 校验通过后 sub 写入上下文
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/workflows", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", valid))
	handler.ServeHTTP(w, r)
	assert.Equal(t, "alice", subject)
}

func TestJWTAuth_WebsocketQueryToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "s3cret"}
	handler := JWTAuth(cfg, nil, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	token := signToken(t, "s3cret", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/events?access_token="+token, nil)
	r.Header.Set("Upgrade", "websocket")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// 普通请求不接受查询参数中的 token
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events?access_token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
