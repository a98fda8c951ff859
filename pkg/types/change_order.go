package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

type ChangeOrderItemRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	IsDiscount  bool            `json:"isDiscount"`
}

type ChangeOrderRecord struct {
	ID                string                  `json:"id"`
	CompanyID         string                  `json:"companyId"`
	DealID            string                  `json:"dealId"`
	QuoteID           string                  `json:"quoteId"`
	InvoiceID         *string                 `json:"invoiceId"`
	ChangeOrderNumber string                  `json:"changeOrderNumber"`
	Status            enums.ChangeOrderStatus `json:"status"`
	Items             []ChangeOrderItemRecord `json:"items"`
	Total             decimal.Decimal         `json:"total"`
	AcceptedAt        *time.Time              `json:"acceptedAt,omitempty"`
	CreatedAt         time.Time               `json:"createdAt"`
}

type ChangeOrderItemInput struct {
	ID          string          `json:"id,omitempty" validate:"omitempty,uuid"`
	Name        string          `json:"name" validate:"required,notblank,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	IsDiscount  bool            `json:"isDiscount"`
}

// ChangeOrderPayload replaces the pending change order of a quote, creating it when absent.
type ChangeOrderPayload struct {
	CompanyID         string                 `json:"companyId,omitempty" validate:"omitempty,uuid"`
	DealID            string                 `json:"dealId" validate:"required,uuid"`
	QuoteID           string                 `json:"quoteId" validate:"required,uuid"`
	InvoiceID         *string                `json:"invoiceId,omitempty" validate:"omitempty,uuid"`
	ChangeOrderNumber string                 `json:"changeOrderNumber" validate:"required,max=64"`
	Items             []ChangeOrderItemInput `json:"items" validate:"required,min=1,dive"`
}

type AcceptChangeOrderPayload struct {
	InvoiceID string `json:"invoiceId" validate:"required,uuid"`

	// IdempotencyKey travels as a header. Retries of one attempt reuse it.
	IdempotencyKey string `json:"-"`
}
