// Package storeclient talks to the quote store HTTP API on behalf of the draft engines.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

const (
	defaultTimeout             = 10 * time.Second
	errorBodyReadLimit   int64 = 4096
	companyHeader              = "X-Company-Id"
	idempotencyKeyHeader       = "Idempotency-Key"
)

var errBaseURLRequired = errors.New("quote store base url is required")

// errNoData reports a success envelope whose data is null.
var errNoData = pkgerrors.New(pkgerrors.CodeDependency, "response carried no data")

// Client implements the remote interfaces of the quote and change-order engines.
type Client struct {
	httpClient *http.Client
	baseURL    string
	companyID  string
	newKey     func() string

	group singleflight.Group
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithCompanyID scopes every request to a company.
func WithCompanyID(companyID string) Option {
	return func(c *Client) {
		c.companyID = strings.TrimSpace(companyID)
	}
}

// WithIdempotencyKeys overrides the key generator used for accept calls that
// carry no key of their own.
func WithIdempotencyKeys(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newKey = fn
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		newKey:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *Client) UpsertQuote(ctx context.Context, payload types.UpsertQuotePayload) (*types.QuoteRecord, error) {
	var out types.QuoteRecord
	if err := c.do(ctx, http.MethodPut, "/api/v1/quotes", payload, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetQuote(ctx context.Context, quoteID string) (*types.QuoteRecord, error) {
	if strings.TrimSpace(quoteID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote id is required")
	}
	var out types.QuoteRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/quotes/"+url.PathEscape(quoteID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateOrReplaceChangeOrder(ctx context.Context, payload types.ChangeOrderPayload) (*types.ChangeOrderRecord, error) {
	var out types.ChangeOrderRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/change-orders", payload, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DiscardChangeOrder(ctx context.Context, changeOrderID string) error {
	if strings.TrimSpace(changeOrderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "change order id is required")
	}
	return c.do(ctx, http.MethodDelete, "/api/v1/change-orders/"+url.PathEscape(changeOrderID), nil, nil, nil)
}

// AcceptChangeOrder sends payload.IdempotencyKey, or a fresh key when the caller
// left it empty.
func (c *Client) AcceptChangeOrder(ctx context.Context, changeOrderID string, payload types.AcceptChangeOrderPayload) (*types.ChangeOrderRecord, error) {
	if strings.TrimSpace(changeOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "change order id is required")
	}
	key := strings.TrimSpace(payload.IdempotencyKey)
	if key == "" {
		key = c.newKey()
	}
	headers := map[string]string{idempotencyKeyHeader: key}
	var out types.ChangeOrderRecord
	path := "/api/v1/change-orders/" + url.PathEscape(changeOrderID) + "/accept"
	if err := c.do(ctx, http.MethodPost, path, payload, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListChangeOrders(ctx context.Context, dealID string) ([]types.ChangeOrderRecord, error) {
	if strings.TrimSpace(dealID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deal id is required")
	}
	var out []types.ChangeOrderRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/deals/"+url.PathEscape(dealID)+"/change-orders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInvoiceByQuoteID returns nil, nil when the quote has no invoice yet. Concurrent
// lookups for the same quote share one request.
func (c *Client) GetInvoiceByQuoteID(ctx context.Context, quoteID string) (*types.InvoiceRecord, error) {
	if strings.TrimSpace(quoteID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote id is required")
	}
	v, err := c.shared(ctx, "invoice:"+quoteID, func(ctx context.Context) (any, error) {
		var out types.InvoiceRecord
		err := c.do(ctx, http.MethodGet, "/api/v1/quotes/"+url.PathEscape(quoteID)+"/invoice", nil, nil, &out)
		if errors.Is(err, errNoData) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return (*types.InvoiceRecord)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	inv, _ := v.(*types.InvoiceRecord)
	if inv == nil {
		return nil, nil
	}
	copied := *inv
	return &copied, nil
}

func (c *Client) CreateInvoice(ctx context.Context, quoteID string) (*types.InvoiceRecord, error) {
	if strings.TrimSpace(quoteID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote id is required")
	}
	var out types.InvoiceRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/quotes/"+url.PathEscape(quoteID)+"/invoice", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProductTemplates returns the active catalog. Concurrent calls share one request.
func (c *Client) ListProductTemplates(ctx context.Context, companyID string) ([]types.ProductTemplate, error) {
	v, err := c.shared(ctx, "templates:"+companyID, func(ctx context.Context) (any, error) {
		var out []types.ProductTemplate
		headers := map[string]string{}
		if companyID != "" {
			headers[companyHeader] = companyID
		}
		if err := c.do(ctx, http.MethodGet, "/api/v1/product-templates", nil, headers, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	templates, _ := v.([]types.ProductTemplate)
	return append([]types.ProductTemplate(nil), templates...), nil
}

// shared runs fn once for all concurrent callers of key. fn gets a context detached
// from any single caller so one caller giving up does not fail the others; each
// caller still returns as soon as its own ctx is done.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(detached, defaultTimeout)
		defer cancel()
		return fn(runCtx)
	})
	select {
	case <-ctx.Done():
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "wait for shared request")
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "quote store client not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.companyID != "" {
		req.Header.Set(companyHeader, c.companyID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", method, path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response envelope")
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return errNoData
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response data")
	}
	return nil
}

// decodeError maps the store's error envelope back onto typed errors so callers can
// tell validation and state failures from transport trouble.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		if code, ok := pkgerrors.ParseCode(envelope.Error.Code); ok && code != pkgerrors.CodeInternal {
			return pkgerrors.New(code, envelope.Error.Message).WithDetails(envelope.Error.Details)
		}
	}
	return pkgerrors.Wrap(
		pkgerrors.CodeDependency,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		"quote store request failed",
	)
}
