package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewarePassesWhenDisabled(t *testing.T) {
	s := NewService("", "")
	handler := s.Middleware("test")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through when auth disabled, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	s := NewService("secret", "")
	handler := s.Middleware("test")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	s := NewService("secret", "")
	handler := s.Middleware("test")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareAcceptsAPIKeyHeader(t *testing.T) {
	s := NewService("secret", "")
	handler := s.Middleware("test")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsWrongKey(t *testing.T) {
	s := NewService("secret", "")
	handler := s.Middleware("test")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("X-API-Key", "guess")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServiceReadsKeyFromEnv(t *testing.T) {
	t.Setenv("AGENTFI_TEST_KEY", "from-env")
	s := NewService("", "AGENTFI_TEST_KEY")
	if !s.Enabled() {
		t.Fatal("expected auth enabled from env")
	}
	handler := s.Middleware("test")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("X-API-Key", "from-env")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
