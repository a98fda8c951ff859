package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/redis/redistest"
)

const acceptPath = "/api/v1/change-orders/7d0c2b7e-5a39-4c55-9f0e-3f5b1d1f6c11/accept"

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	return req.WithContext(WithCompanyID(ctx, "company-1"))
}

func acceptRequest(body string) *http.Request {
	return requestWithPattern(http.MethodPost, acceptPath, "/api/*", strings.NewReader(body))
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"accept change order", http.MethodPost, "/api/v1/change-orders/{changeOrderId}/accept", criticalIdempotencyTTL, true},
		{"accept concrete path", http.MethodPost, acceptPath, criticalIdempotencyTTL, true},
		{"create invoice", http.MethodPost, "/api/v1/quotes/{quoteId}/invoice", 0, false},
		{"upsert quote", http.MethodPut, "/api/v1/quotes", 0, false},
		{"get accept", http.MethodGet, acceptPath, 0, false},
		{"empty id segment", http.MethodPost, "/api/v1/change-orders//accept", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.pattern)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	mw := Idempotency(redistest.New(), nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, acceptRequest(`{"invoiceId":"x"}`))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareSkipsUnlistedRoutes(t *testing.T) {
	mw := Idempotency(redistest.New(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPut, "/api/v1/quotes", "/api/v1/quotes", strings.NewReader(`{}`))
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d", calls)
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	mw := Idempotency(redistest.New(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"status":"accepted"}}`))
	})

	req := acceptRequest(`{"invoiceId":"a"}`)
	req.Header.Set("Idempotency-Key", "abc")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := acceptRequest(`{"invoiceId":"a"}`)
	replay.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replay status 200 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"data":{"status":"accepted"}}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if rec.Header().Get(replayedHeader) != "true" {
		t.Fatalf("expected replay marker header")
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareRejectsInFlightDuplicate(t *testing.T) {
	store := redistest.New()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	req := acceptRequest(`{"invoiceId":"a"}`)
	req.Header.Set("Idempotency-Key", "busy")
	pending, err := json.Marshal(idempotencyRecord{State: statePending, RequestHash: hashBody([]byte(`{"invoiceId":"a"}`))})
	if err != nil {
		t.Fatalf("encode pending claim: %v", err)
	}
	key := store.IdempotencyKey(idempotencyScope(req), "busy")
	if err := store.Set(context.Background(), key, string(pending), time.Minute); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if calls != 0 {
		t.Fatalf("handler should not run while the key is claimed")
	}
}

func TestIdempotencyMiddlewareRejectsOversizedKey(t *testing.T) {
	mw := Idempotency(redistest.New(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	})

	req := acceptRequest(`{"invoiceId":"a"}`)
	req.Header.Set("Idempotency-Key", strings.Repeat("k", maxIdempotencyKeyLen+1))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestIdempotencyScopeSeparatesChangeOrders(t *testing.T) {
	first := acceptRequest(`{}`)
	second := requestWithPattern(http.MethodPost, "/api/v1/change-orders/other/accept", "/api/*", strings.NewReader(`{}`))
	if idempotencyScope(first) == idempotencyScope(second) {
		t.Fatalf("expected distinct scopes per change order")
	}
}

func TestIdempotencyMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	mw := Idempotency(redistest.New(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		req := acceptRequest(`{"invoiceId":"a"}`)
		req.Header.Set("Idempotency-Key", "retry")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach the handler, ran %d", calls)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(redistest.New(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := acceptRequest(`{"invoiceId":"a"}`)
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := acceptRequest(`{"invoiceId":"b"}`)
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestCompanyContextRequiresHeader(t *testing.T) {
	var seen string
	handler := CompanyContext(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CompanyIDFromContext(r.Context())
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/product-templates", nil))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	bad := httptest.NewRequest(http.MethodGet, "/api/v1/product-templates", nil)
	bad.Header.Set("X-Company-Id", "not-a-uuid")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, bad)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for malformed id got %d", resp.Code)
	}

	ok := httptest.NewRequest(http.MethodGet, "/api/v1/product-templates", nil)
	ok.Header.Set("X-Company-Id", "0b7a4f8e-8d6e-4c0f-9f53-2a4bbf1c9d10")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, ok)
	if resp.Code != http.StatusOK || seen != "0b7a4f8e-8d6e-4c0f-9f53-2a4bbf1c9d10" {
		t.Fatalf("expected company context, got status %d id %q", resp.Code, seen)
	}
}
