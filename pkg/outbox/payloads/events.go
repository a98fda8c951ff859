// Package payloads holds the data section of each outbox event.
package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// QuoteSavedEvent is emitted after every successful quote upsert.
type QuoteSavedEvent struct {
	QuoteID          uuid.UUID         `json:"quoteId"`
	DealID           uuid.UUID         `json:"dealId"`
	QuoteNumber      string            `json:"quoteNumber"`
	Status           enums.QuoteStatus `json:"status"`
	Created          bool              `json:"created"`
	LineItemCount    int               `json:"lineItemCount"`
	DeletedLineItems int               `json:"deletedLineItems"`
	Total            decimal.Decimal   `json:"total"`
}

// ChangeOrderUpsertedEvent is emitted when the pending change order of a quote is written.
type ChangeOrderUpsertedEvent struct {
	ChangeOrderID     uuid.UUID       `json:"changeOrderId"`
	QuoteID           uuid.UUID       `json:"quoteId"`
	DealID            uuid.UUID       `json:"dealId"`
	ChangeOrderNumber string          `json:"changeOrderNumber"`
	ItemCount         int             `json:"itemCount"`
	Total             decimal.Decimal `json:"total"`
}

// ChangeOrderDiscardedEvent is emitted when a pending change order is removed.
type ChangeOrderDiscardedEvent struct {
	ChangeOrderID     uuid.UUID `json:"changeOrderId"`
	QuoteID           uuid.UUID `json:"quoteId"`
	DealID            uuid.UUID `json:"dealId"`
	ChangeOrderNumber string    `json:"changeOrderNumber"`
}

// ChangeOrderAcceptedEvent is emitted once per change order.
type ChangeOrderAcceptedEvent struct {
	ChangeOrderID     uuid.UUID       `json:"changeOrderId"`
	QuoteID           uuid.UUID       `json:"quoteId"`
	DealID            uuid.UUID       `json:"dealId"`
	InvoiceID         uuid.UUID       `json:"invoiceId"`
	ChangeOrderNumber string          `json:"changeOrderNumber"`
	Total             decimal.Decimal `json:"total"`
	AcceptedAt        time.Time       `json:"acceptedAt"`
}

// InvoiceCreatedEvent is emitted once per quote.
type InvoiceCreatedEvent struct {
	InvoiceID     uuid.UUID       `json:"invoiceId"`
	QuoteID       uuid.UUID       `json:"quoteId"`
	DealID        uuid.UUID       `json:"dealId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Total         decimal.Decimal `json:"total"`
}

// InvoiceRecalculatedEvent carries the new amounts after change orders were applied.
type InvoiceRecalculatedEvent struct {
	InvoiceID         uuid.UUID       `json:"invoiceId"`
	QuoteID           uuid.UUID       `json:"quoteId"`
	BaseAmount        decimal.Decimal `json:"baseAmount"`
	ChangeOrderAmount decimal.Decimal `json:"changeOrderAmount"`
	Total             decimal.Decimal `json:"total"`
	BalanceDue        decimal.Decimal `json:"balanceDue"`
}
