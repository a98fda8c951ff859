package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/fieldops-backend/pkg/redis/redistest"
)

func TestRateLimitBlocksCompanyAfterLimit(t *testing.T) {
	store := redistest.New()
	policy := NewRateLimitPolicy("writes", time.Minute, 2, 0)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/quotes", nil)
		req = req.WithContext(WithCompanyID(req.Context(), "c1"))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	blocked := httptest.NewRequest(http.MethodPut, "/api/v1/quotes", nil)
	blocked = blocked.WithContext(WithCompanyID(blocked.Context(), "c1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, blocked)
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}

	other := httptest.NewRequest(http.MethodPut, "/api/v1/quotes", nil)
	other = other.WithContext(WithCompanyID(other.Context(), "c2"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, other)
	if resp.Code != http.StatusOK {
		t.Fatalf("other company should not be throttled, got %d", resp.Code)
	}
}

func TestRateLimitIgnoresReads(t *testing.T) {
	policy := NewRateLimitPolicy("writes", time.Minute, 1, 1)
	handler := RateLimit(policy, redistest.New(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/product-templates", nil)
		req = req.WithContext(WithCompanyID(req.Context(), "c1"))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("reads must not be throttled, got %d", resp.Code)
		}
	}
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Forwarded-For", " 10.0.0.1 , 10.0.0.2")
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("unexpected ip %s", got)
	}
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.168.1.5:5555"
	if got := clientIP(req); got != "192.168.1.5" {
		t.Fatalf("unexpected ip %s", got)
	}
}
