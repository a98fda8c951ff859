package changeorderdraft

import (
	"context"
	"sync"

	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

// CachedInvoiceLookup memoizes found invoices per quote. A missing invoice is
// never cached since one may be created at any time.
type CachedInvoiceLookup struct {
	next InvoiceLookup

	mu      sync.Mutex
	entries map[string]*types.InvoiceRecord
}

func NewCachedInvoiceLookup(next InvoiceLookup) *CachedInvoiceLookup {
	return &CachedInvoiceLookup{next: next, entries: map[string]*types.InvoiceRecord{}}
}

func (c *CachedInvoiceLookup) GetInvoiceByQuoteID(ctx context.Context, quoteID string) (*types.InvoiceRecord, error) {
	c.mu.Lock()
	if inv, ok := c.entries[quoteID]; ok {
		c.mu.Unlock()
		return inv, nil
	}
	c.mu.Unlock()

	inv, err := c.next.GetInvoiceByQuoteID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, nil
	}
	c.mu.Lock()
	c.entries[quoteID] = inv
	c.mu.Unlock()
	return inv, nil
}

// Invalidate forgets the cached invoice of quoteID.
func (c *CachedInvoiceLookup) Invalidate(quoteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, quoteID)
}

// InvalidateOnAccept is an OnAccepted listener for Coordinator.
func (c *CachedInvoiceLookup) InvalidateOnAccept(_ context.Context, rec *types.ChangeOrderRecord) {
	if rec != nil {
		c.Invalidate(rec.QuoteID)
	}
}
