package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readStreakAPI/internal/logger"
)

const testSigningKey = "test-signing-key-for-testing-only"

func signServiceToken(t *testing.T, key string, method jwt.SigningMethod, claims ServiceClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func validClaims() ServiceClaims {
	return ServiceClaims{
		Scope: ScopeViewsWrite,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "content-service",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func serviceAuthRecorder(t *testing.T, authHeader string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var service string
	h := ServiceAuth(testSigningKey, ScopeViewsWrite, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := GetService(r.Context())
		require.True(t, ok)
		service = name
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/views", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, service
}

func TestServiceAuth_Valid(t *testing.T) {
	token := signServiceToken(t, testSigningKey, jwt.SigningMethodHS256, validClaims())

	rr, service := serviceAuthRecorder(t, "Bearer "+token)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "content-service", service)
}

func TestServiceAuth_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	wrongScope := validClaims()
	wrongScope.Scope = "views:read"

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Token abc", http.StatusUnauthorized},
		{"wrong key", "Bearer " + signServiceToken(t, "other-key", jwt.SigningMethodHS256, validClaims()), http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + signServiceToken(t, testSigningKey, jwt.SigningMethodHS512, validClaims()), http.StatusUnauthorized},
		{"expired", "Bearer " + signServiceToken(t, testSigningKey, jwt.SigningMethodHS256, expired), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signServiceToken(t, testSigningKey, jwt.SigningMethodHS256, noExpiry), http.StatusUnauthorized},
		{"wrong scope", "Bearer " + signServiceToken(t, testSigningKey, jwt.SigningMethodHS256, wrongScope), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, service := serviceAuthRecorder(t, tc.header)
			assert.Equal(t, tc.status, rr.Code)
			assert.Empty(t, service)
		})
	}
}

func TestClerkAuth_MissingHeader(t *testing.T) {
	called := false
	h := ClerkAuth(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/streak", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, called)
	assert.JSONEq(t, `{"error": "Authorization header required. Use 'Bearer <token>'"}`, rr.Body.String())
}

func TestBasicAuthMiddleware(t *testing.T) {
	h := BasicAuthMiddleware("prom", "secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req.SetBasicAuth("prom", "wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req.SetBasicAuth("prom", "secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBasicAuthMiddleware_UnconfiguredDeniesAll(t *testing.T) {
	h := BasicAuthMiddleware("", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("", "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	for _, v := range rl.visitors {
		v.lastSeen = time.Now().Add(-time.Hour)
	}
	rl.evict(3 * time.Minute)
	assert.Empty(t, rl.visitors)
}

func TestMonitorMiddleware_UsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(MonitorMiddleware(logger.NewNop()))
	var seen string
	r.HandleFunc("/api/v1/things/{id}", func(w http.ResponseWriter, req *http.Request) {
		seen = routeTemplate(req)
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/things/42", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "/api/v1/things/{id}", seen)
}
