package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// QuoteRecord is the authoritative quote returned by the quote store.
type QuoteRecord struct {
	ID            string            `json:"id"`
	CompanyID     string            `json:"companyId"`
	DealID        string            `json:"dealId"`
	QuoteNumber   string            `json:"quoteNumber"`
	Title         string            `json:"title"`
	ClientMessage string            `json:"clientMessage"`
	Disclaimer    string            `json:"disclaimer"`
	Status        enums.QuoteStatus `json:"status"`
	TaxRate       decimal.Decimal   `json:"taxRate"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	TaxAmount     decimal.Decimal   `json:"taxAmount"`
	Total         decimal.Decimal   `json:"total"`
	DealArchived  bool              `json:"dealArchived"`
	PublicShareID string            `json:"publicShareId"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	LineItems     []LineItemRecord  `json:"lineItems"`
}

// LineItemRecord is a persisted quote line item in position order.
type LineItemRecord struct {
	ID          string          `json:"id"`
	Position    int             `json:"position"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	IsDiscount  bool            `json:"isDiscount"`
}

// QuoteInput carries the quote metadata half of an upsert. An empty ID creates the quote.
type QuoteInput struct {
	ID            string            `json:"id,omitempty" validate:"omitempty,uuid"`
	CompanyID     string            `json:"companyId,omitempty" validate:"omitempty,uuid"`
	DealID        string            `json:"dealId" validate:"required,uuid"`
	QuoteNumber   string            `json:"quoteNumber" validate:"max=64"`
	Title         string            `json:"title" validate:"max=200"`
	ClientMessage string            `json:"clientMessage" validate:"max=5000"`
	Disclaimer    string            `json:"disclaimer" validate:"max=5000"`
	Status        enums.QuoteStatus `json:"status,omitempty" validate:"omitempty,oneof=draft sent accepted declined"`
	TaxRate       decimal.Decimal   `json:"taxRate"`
}

// LineItemInput is one row of the desired line item list. An empty ID inserts a new row.
type LineItemInput struct {
	ID          string          `json:"id,omitempty" validate:"omitempty,uuid"`
	Position    int             `json:"position" validate:"min=0"`
	Name        string          `json:"name" validate:"max=200"`
	Description string          `json:"description" validate:"max=2000"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	IsDiscount  bool            `json:"isDiscount"`
}

// UpsertQuotePayload creates or updates a quote and diffs its line items in one call.
type UpsertQuotePayload struct {
	Quote              QuoteInput      `json:"quote" validate:"required"`
	LineItems          []LineItemInput `json:"lineItems" validate:"dive"`
	DeletedLineItemIDs []string        `json:"deletedLineItemIds" validate:"dive,uuid"`
}
