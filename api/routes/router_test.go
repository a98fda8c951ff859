package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/internal/changeorders"
	"github.com/angelmondragon/fieldops-backend/internal/invoices"
	"github.com/angelmondragon/fieldops-backend/internal/quotes"
	"github.com/angelmondragon/fieldops-backend/internal/templates"
	"github.com/angelmondragon/fieldops-backend/pkg/config"
	"github.com/angelmondragon/fieldops-backend/pkg/db"
	"github.com/angelmondragon/fieldops-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	"github.com/angelmondragon/fieldops-backend/pkg/metrics"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox"
	"github.com/angelmondragon/fieldops-backend/pkg/redis/redistest"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type harness struct {
	handler   http.Handler
	conn      *gorm.DB
	companyID uuid.UUID
	deal      models.Deal
}

func newHarness(t *testing.T, dbPing stubPinger) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	mem := redistest.New()
	tx := db.NewFromConn(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)

	quoteSvc, err := quotes.NewService(quotes.ServiceParams{
		Repo: quotes.NewRepository(conn), Tx: tx, Outbox: emitter, NumberPrefix: "Q",
	})
	require.NoError(t, err)
	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo: invoices.NewRepository(conn), Tx: tx, Outbox: emitter, Cache: mem, CacheTTL: time.Minute,
	})
	require.NoError(t, err)
	changeOrderSvc, err := changeorders.NewService(changeorders.ServiceParams{
		Repo: changeorders.NewRepository(conn), Tx: tx, Outbox: emitter, Invoices: invoiceSvc, Locker: mem,
	})
	require.NoError(t, err)
	templateSvc, err := templates.NewService(templates.NewRepository(conn), mem, time.Minute, nil)
	require.NoError(t, err)

	cfg := &config.Config{App: config.AppConfig{
		Env:                   "test",
		WriteRateWindow:       time.Minute,
		WriteRateCompanyLimit: 1000,
	}}
	reg := prometheus.NewRegistry()
	handler := NewRouter(cfg, nil, reg, metrics.NewHTTPMetrics(reg, "fieldops"), dbPing, mem,
		quoteSvc, invoiceSvc, changeOrderSvc, templateSvc)

	h := &harness{handler: handler, conn: conn, companyID: uuid.New()}
	h.deal = models.Deal{CompanyID: h.companyID, Title: "Roof"}
	require.NoError(t, conn.Create(&h.deal).Error)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Company-Id", h.companyID.String())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	return resp
}

func decodeData[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope), resp.Body.String())
	return envelope.Data
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope), resp.Body.String())
	return envelope.Error.Code
}

func (h *harness) saveQuote(t *testing.T, payload types.UpsertQuotePayload) types.QuoteRecord {
	t.Helper()
	resp := h.do(t, http.MethodPut, "/api/v1/quotes", payload, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	return decodeData[types.QuoteRecord](t, resp)
}

func TestQuoteToInvoiceFlow(t *testing.T) {
	h := newHarness(t, stubPinger{})

	quote := h.saveQuote(t, types.UpsertQuotePayload{
		Quote: types.QuoteInput{DealID: h.deal.ID.String(), Title: "Roof", TaxRate: decimal.NewFromInt(10)},
		LineItems: []types.LineItemInput{
			{Name: "Shingles", UnitPrice: decimal.NewFromInt(100)},
			{Position: 1, Name: "Promo", UnitPrice: decimal.NewFromInt(20), IsDiscount: true},
		},
	})
	assert.Equal(t, "Q100", quote.QuoteNumber)
	assert.True(t, quote.Total.Equal(decimal.NewFromInt(88)))

	for _, status := range []enums.QuoteStatus{enums.QuoteStatusSent, enums.QuoteStatusAccepted} {
		quote = h.saveQuote(t, types.UpsertQuotePayload{
			Quote: types.QuoteInput{ID: quote.ID, DealID: h.deal.ID.String(), Status: status, TaxRate: decimal.NewFromInt(10)},
			LineItems: []types.LineItemInput{
				{ID: quote.LineItems[0].ID, Name: "Shingles", UnitPrice: decimal.NewFromInt(100)},
				{ID: quote.LineItems[1].ID, Position: 1, Name: "Promo", UnitPrice: decimal.NewFromInt(20), IsDiscount: true},
			},
		})
	}
	assert.Equal(t, enums.QuoteStatusAccepted, quote.Status)

	resp := h.do(t, http.MethodGet, "/api/v1/quotes/"+quote.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decodeData[types.QuoteRecord](t, resp).LineItems, 2)

	invoicePath := "/api/v1/quotes/" + quote.ID + "/invoice"
	resp = h.do(t, http.MethodGet, invoicePath, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":null}`, resp.Body.String())

	resp = h.do(t, http.MethodPost, invoicePath, nil, nil)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	invoice := decodeData[types.InvoiceRecord](t, resp)
	assert.True(t, invoice.Total.Equal(decimal.NewFromInt(88)))

	resp = h.do(t, http.MethodPost, "/api/v1/change-orders", types.ChangeOrderPayload{
		DealID:            h.deal.ID.String(),
		QuoteID:           quote.ID,
		ChangeOrderNumber: "CO-Q100-001",
		Items:             []types.ChangeOrderItemInput{{ID: uuid.NewString(), Name: "Gutter", UnitPrice: decimal.NewFromInt(50)}},
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	order := decodeData[types.ChangeOrderRecord](t, resp)
	assert.Equal(t, enums.ChangeOrderStatusPending, order.Status)

	acceptPath := "/api/v1/change-orders/" + order.ID + "/accept"
	acceptBody := types.AcceptChangeOrderPayload{InvoiceID: invoice.ID}
	resp = h.do(t, http.MethodPost, acceptPath, acceptBody, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code, "idempotency key required")

	key := map[string]string{"Idempotency-Key": "accept-1"}
	first := h.do(t, http.MethodPost, acceptPath, acceptBody, key)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, enums.ChangeOrderStatusAccepted, decodeData[types.ChangeOrderRecord](t, first).Status)

	replay := h.do(t, http.MethodPost, acceptPath, acceptBody, key)
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.NotEmpty(t, replay.Header().Get("X-Request-Id"))

	resp = h.do(t, http.MethodGet, invoicePath, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	updated := decodeData[types.InvoiceRecord](t, resp)
	assert.True(t, updated.Total.Equal(decimal.NewFromInt(138)), "88 + 50 change order")
	assert.True(t, updated.BalanceDue.Equal(decimal.NewFromInt(138)))

	resp = h.do(t, http.MethodGet, "/api/v1/deals/"+h.deal.ID.String()+"/change-orders", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decodeData[[]types.ChangeOrderRecord](t, resp), 1)

	resp = h.do(t, http.MethodDelete, "/api/v1/change-orders/"+order.ID, nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code, "accepted orders cannot be discarded")
}

func TestErrorsUseEnvelope(t *testing.T) {
	h := newHarness(t, stubPinger{})

	resp := h.do(t, http.MethodGet, "/api/v1/quotes/not-a-uuid", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, resp))

	resp = h.do(t, http.MethodGet, "/api/v1/quotes/"+uuid.NewString(), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))

	resp = h.do(t, http.MethodPut, "/api/v1/quotes", map[string]any{"quote": map[string]any{"dealId": h.deal.ID}, "bogus": true}, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/product-templates", nil)
	noCompany := httptest.NewRecorder()
	h.handler.ServeHTTP(noCompany, req)
	require.Equal(t, http.StatusForbidden, noCompany.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, noCompany))
}

func TestProductTemplatesAreCompanyScoped(t *testing.T) {
	h := newHarness(t, stubPinger{})
	require.NoError(t, h.conn.Create(&[]models.ProductTemplate{
		{CompanyID: h.companyID, Name: "Gutter guard", UnitPrice: decimal.NewFromInt(45), IsActive: true},
		{CompanyID: uuid.New(), Name: "Other company", UnitPrice: decimal.NewFromInt(1), IsActive: true},
	}).Error)

	resp := h.do(t, http.MethodGet, "/api/v1/product-templates", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	list := decodeData[[]types.ProductTemplate](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "Gutter guard", list[0].Name)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, stubPinger{})
	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := httptest.NewRecorder()
		h.handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}

	down := newHarness(t, stubPinger{err: errors.New("connection refused")})
	resp := httptest.NewRecorder()
	down.handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "DEPENDENCY_ERROR", errorCode(t, resp))
}
