package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSPolicy_RestrictedOrigins(t *testing.T) {
	h := corsPolicy([]string{"https://widget.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/messages/alice", nil)
	req.Header.Set("Origin", "https://widget.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://widget.example" {
		t.Errorf("allowed origin should be echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/messages/alice", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin must not be allowed, got %q", got)
	}
}

func TestCORSPolicy_EmptyAllowsAny(t *testing.T) {
	h := corsPolicy(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}
