package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/api"
	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	var requestID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, _ = types.RequestID(r.Context())
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), requestID)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/peers", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrInternalError))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{api.PathHealth, api.PathHealth},
		{api.PathPeers, api.PathPeers},
		{"/api/v1/peers/node-7/quarantine", "/api/v1/peers/:id/quarantine"},
		{"/api/v1/delegations/task-42", "/api/v1/delegations/:id"},
		{"/api/v1/inbox/rfqs/rfq-a/bid", "/api/v1/inbox/rfqs/:id/bid"},
		{"/api/v1/swarm/delegate", "/api/v1/swarm/delegate"},
		{"/api/v1/unknown/12345", "/api/v1/unknown/:id"},
		{"/api/v1/unknown/550e8400-e29b-41d4-a716-446655440000", "/api/v1/unknown/:id"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestSwarmTokenAuth(t *testing.T) {
	handler := SwarmTokenAuth("secret", zap.NewNop())(okHandler())

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"peer path without token", mesh.PathDelegate, "", http.StatusUnauthorized},
		{"peer path with wrong token", mesh.PathDelegate, "guess", http.StatusUnauthorized},
		{"peer path with token", mesh.PathDelegate, "secret", http.StatusOK},
		{"operator path is not guarded", api.PathPeers, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.token != "" {
				r.Header.Set(mesh.TokenHeader, tt.token)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSwarmTokenAuth_EmptyTokenDisables(t *testing.T) {
	handler := SwarmTokenAuth("", zap.NewNop())(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, mesh.PathDelegate, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "swarm-ops"}
	var caller string
	handler := JWTAuth(cfg, []string{api.PathHealth}, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ = types.CallerNode(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	exp := time.Now().Add(time.Hour).Unix()

	serveWith := func(path, header string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	t.Run("skip path", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serveWith(api.PathHealth, ""))
	})

	t.Run("peer paths are exempt", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serveWith(mesh.PathHeartbeat, ""))
	})

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serveWith(api.PathPeers, ""))
	})

	t.Run("node_id claim wins over subject", func(t *testing.T) {
		caller = ""
		tok := signHS256(t, "s3cret", jwt.MapClaims{"sub": "ops", "node_id": "node-9", "iss": "swarm-ops", "exp": exp})
		assert.Equal(t, http.StatusOK, serveWith(api.PathPeers, "Bearer "+tok))
		assert.Equal(t, "node-9", caller)
	})

	t.Run("subject fallback", func(t *testing.T) {
		caller = ""
		tok := signHS256(t, "s3cret", jwt.MapClaims{"sub": "ops", "iss": "swarm-ops", "exp": exp})
		assert.Equal(t, http.StatusOK, serveWith(api.PathPeers, "Bearer "+tok))
		assert.Equal(t, "ops", caller)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		tok := signHS256(t, "s3cret", jwt.MapClaims{"sub": "ops", "iss": "elsewhere", "exp": exp})
		assert.Equal(t, http.StatusUnauthorized, serveWith(api.PathPeers, "Bearer "+tok))
	})

	t.Run("expired", func(t *testing.T) {
		tok := signHS256(t, "s3cret", jwt.MapClaims{"sub": "ops", "iss": "swarm-ops", "exp": time.Now().Add(-time.Minute).Unix()})
		assert.Equal(t, http.StatusUnauthorized, serveWith(api.PathPeers, "Bearer "+tok))
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok := signHS256(t, "other", jwt.MapClaims{"sub": "ops", "iss": "swarm-ops", "exp": exp})
		assert.Equal(t, http.StatusUnauthorized, serveWith(api.PathPeers, "Bearer "+tok))
	})
}

func TestJWTAuth_QueryTokenOnlyOnEvents(t *testing.T) {
	handler := JWTAuth(config.JWTConfig{Secret: "s3cret"}, nil, zap.NewNop())(okHandler())
	tok := signHS256(t, "s3cret", jwt.MapClaims{"sub": "dash", "exp": time.Now().Add(time.Hour).Unix()})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, api.PathEvents+"?access_token="+tok, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, api.PathPeers+"?access_token="+tok, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, api.PathPeers, nil)
		r.RemoteAddr = "10.0.0.1:5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	r := httptest.NewRequest(http.MethodGet, api.PathPeers, nil)
	r.RemoteAddr = "10.0.0.2:5000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_ZeroDisables(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, api.PathPeers, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://ops.example"})(okHandler())

	r := httptest.NewRequest(http.MethodOptions, api.PathPeers, nil)
	r.Header.Set("Origin", "https://ops.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ops.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), mesh.TokenHeader)

	r = httptest.NewRequest(http.MethodGet, api.PathPeers, nil)
	r.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
