package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/mutualaid/internal/httputil"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func generateTestToken(t *testing.T, secret, subject, role string, expired bool) string {
	t.Helper()
	claims := &Claims{
		Email: "test@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	logger := logging.NewDiscard()
	middleware := NewAuthMiddleware(testSecret, logger, []string{"/health", "/metrics"})

	if string(middleware.secret) != testSecret {
		t.Error("secret not set correctly")
	}
	if len(middleware.skipPaths) != 2 || !middleware.skipPaths["/health"] {
		t.Errorf("skipPaths = %v", middleware.skipPaths)
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), []string{"/health"}).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_Rejections(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil).Handler(okHandler())

	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{"missing header", "", "UNAUTHORIZED"},
		{"no bearer prefix", "token123", "UNAUTHORIZED"},
		{"wrong prefix", "Basic token123", "UNAUTHORIZED"},
		{"empty token", "Bearer ", "UNAUTHORIZED"},
		{"garbage token", "Bearer invalid.token.here", "INVALID_TOKEN"},
		{"expired token", "Bearer " + generateTestToken(t, testSecret, "user-123", "authenticated", true), "INVALID_TOKEN"},
		{"wrong secret", "Bearer " + generateTestToken(t, "another-secret", "user-123", "authenticated", false), "INVALID_TOKEN"},
		{"no subject", "Bearer " + generateTestToken(t, testSecret, "", "authenticated", false), "INVALID_TOKEN"},
		{"anon role", "Bearer " + generateTestToken(t, testSecret, "anon-1", "anon", false), "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/posts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			var body httputil.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	var capturedUserID, capturedRole string
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID = GetUserID(r.Context())
		capturedRole = GetUserRole(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/posts", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", "authenticated", false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("User ID = %v, want user-123", capturedUserID)
	}
	if capturedRole != "authenticated" {
		t.Errorf("Role = %v, want authenticated", capturedRole)
	}
}

func TestAuthMiddleware_RejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	m := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)
	if _, err := m.validateToken(tok); err == nil {
		t.Error("HS512 token accepted")
	}
}

func TestAuthMiddleware_PreflightPassesThrough(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil).Handler(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/posts", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}
