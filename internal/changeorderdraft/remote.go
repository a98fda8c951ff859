// Package changeorderdraft manages the single pending change order layered on an
// accepted quote and its acceptance into the quote's invoice.
package changeorderdraft

import (
	"context"

	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

// Persister writes the pending change order of a quote.
type Persister interface {
	CreateOrReplaceChangeOrder(ctx context.Context, payload types.ChangeOrderPayload) (*types.ChangeOrderRecord, error)
	DiscardChangeOrder(ctx context.Context, changeOrderID string) error
}

// Acceptor accepts a pending change order against an invoice.
type Acceptor interface {
	AcceptChangeOrder(ctx context.Context, changeOrderID string, payload types.AcceptChangeOrderPayload) (*types.ChangeOrderRecord, error)
}

// Lister lists every change order of a deal.
type Lister interface {
	ListChangeOrders(ctx context.Context, dealID string) ([]types.ChangeOrderRecord, error)
}

// InvoiceLookup resolves the invoice of a quote. A quote without one yields nil, nil.
type InvoiceLookup interface {
	GetInvoiceByQuoteID(ctx context.Context, quoteID string) (*types.InvoiceRecord, error)
}

// Remote is everything the change-order engine needs from the quote store.
type Remote interface {
	Persister
	Acceptor
	Lister
	InvoiceLookup
}
