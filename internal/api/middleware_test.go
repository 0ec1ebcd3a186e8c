package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalAPIKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{"matching key passes", "secret-key", "secret-key", http.StatusOK},
		{"wrong key rejected", "secret-key", "other-key", http.StatusUnauthorized},
		{"missing key rejected", "secret-key", "", http.StatusUnauthorized},
		{"unconfigured key disables the route", "", "anything", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := InternalAPIKeyMiddleware(tt.configured)(next)
			req := httptest.NewRequest(http.MethodPost, "/internal/card-authorizations", nil)
			if tt.provided != "" {
				req.Header.Set("X-Internal-API-Key", tt.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	handler := AuthMiddleware("http://localhost/jwks")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached without a valid token")
	}))

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("non-bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}
