package changeorderdraft

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/fieldops-backend/internal/pricing"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

// Aggregate is the deal-wide list of change orders.
type Aggregate struct {
	lister      Lister
	invoices    InvoiceLookup
	coordinator *Coordinator
	logg        *logger.Logger
	dealID      string

	mu          sync.RWMutex
	orders      []types.ChangeOrderRecord
	invoiceByQ  map[string]*types.InvoiceRecord
	subscribers map[int]func([]types.ChangeOrderRecord)
	nextSub     int
}

type AggregateParams struct {
	Lister      Lister
	Invoices    InvoiceLookup
	Coordinator *Coordinator
	Logger      *logger.Logger
	DealID      string
}

func NewAggregate(params AggregateParams) (*Aggregate, error) {
	if params.Lister == nil {
		return nil, errors.New("change order lister is required")
	}
	if params.DealID == "" {
		return nil, errors.New("deal id is required")
	}
	return &Aggregate{
		lister:      params.Lister,
		invoices:    params.Invoices,
		coordinator: params.Coordinator,
		logg:        params.Logger,
		dealID:      params.DealID,
		invoiceByQ:  map[string]*types.InvoiceRecord{},
		subscribers: map[int]func([]types.ChangeOrderRecord){},
	}, nil
}

// Load replaces the list with the deal's change orders and notifies subscribers.
func (a *Aggregate) Load(ctx context.Context) error {
	return a.Refresh(ctx)
}

// Refresh reloads the list and, in parallel, the invoices of preloadQuoteIDs.
func (a *Aggregate) Refresh(ctx context.Context, preloadQuoteIDs ...string) error {
	var (
		orders   []types.ChangeOrderRecord
		invMu    sync.Mutex
		invoices = map[string]*types.InvoiceRecord{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := a.lister.ListChangeOrders(gctx, a.dealID)
		if err != nil {
			return pkgerrors.WrapDependency(err, "list change orders")
		}
		orders = list
		return nil
	})
	if a.invoices != nil {
		for _, quoteID := range preloadQuoteIDs {
			quoteID := quoteID
			g.Go(func() error {
				inv, err := a.invoices.GetInvoiceByQuoteID(gctx, quoteID)
				if err != nil {
					return pkgerrors.WrapDependency(err, "load invoice")
				}
				invMu.Lock()
				invoices[quoteID] = inv
				invMu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		if a.logg != nil {
			a.logg.Error(a.logg.WithDealID(ctx, a.dealID), "refresh change orders failed", err)
		}
		return err
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})

	a.mu.Lock()
	a.orders = orders
	for quoteID, inv := range invoices {
		a.invoiceByQ[quoteID] = inv
	}
	subs := make([]func([]types.ChangeOrderRecord), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	snapshot := a.All()
	for _, fn := range subs {
		fn(snapshot)
	}
	return nil
}

// All returns every loaded change order, oldest first.
func (a *Aggregate) All() []types.ChangeOrderRecord {
	return a.filter(func(types.ChangeOrderRecord) bool { return true })
}

func (a *Aggregate) Accepted() []types.ChangeOrderRecord {
	return a.filter(func(rec types.ChangeOrderRecord) bool {
		return rec.Status == enums.ChangeOrderStatusAccepted
	})
}

func (a *Aggregate) Pending() []types.ChangeOrderRecord {
	return a.filter(func(rec types.ChangeOrderRecord) bool {
		return rec.Status == enums.ChangeOrderStatusPending
	})
}

func (a *Aggregate) ForQuote(quoteID string) []types.ChangeOrderRecord {
	return a.filter(func(rec types.ChangeOrderRecord) bool {
		return rec.QuoteID == quoteID
	})
}

// Invoice returns a preloaded invoice, if any.
func (a *Aggregate) Invoice(quoteID string) (*types.InvoiceRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inv, ok := a.invoiceByQ[quoteID]
	return inv, ok
}

// OrderTotal sums the signed item prices of a change order.
func OrderTotal(rec types.ChangeOrderRecord) decimal.Decimal {
	return pricing.SumItems(rec.Items, func(it types.ChangeOrderItemRecord) decimal.Decimal {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		return pricing.NormalizeDiscount(it.UnitPrice, it.IsDiscount).Mul(decimal.NewFromInt(int64(qty)))
	}, decimal.Zero).Total
}

// AcceptedTotal is the sum of every accepted change order of quoteID.
func (a *Aggregate) AcceptedTotal(quoteID string) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range a.Accepted() {
		if rec.QuoteID == quoteID {
			total = total.Add(OrderTotal(rec))
		}
	}
	return total
}

// AcceptExisting accepts a listed pending change order against its quote's invoice
// and reloads the list.
func (a *Aggregate) AcceptExisting(ctx context.Context, changeOrderID string) error {
	if a.coordinator == nil {
		return errors.New("acceptance coordinator is not configured")
	}
	var target *types.ChangeOrderRecord
	for _, rec := range a.All() {
		if rec.ID == changeOrderID {
			r := rec
			target = &r
			break
		}
	}
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "change order not found")
	}
	if target.Status != enums.ChangeOrderStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "change order is not pending")
	}

	invoiceID := ""
	if a.invoices != nil {
		inv, err := a.invoices.GetInvoiceByQuoteID(ctx, target.QuoteID)
		if err != nil {
			return pkgerrors.WrapDependency(err, "load invoice")
		}
		if inv != nil {
			invoiceID = inv.ID
		}
	}
	if _, err := a.coordinator.Accept(ctx, changeOrderID, invoiceID); err != nil {
		return err
	}
	return a.Refresh(ctx, target.QuoteID)
}

// Subscribe registers fn for every reload and returns the unsubscribe func.
func (a *Aggregate) Subscribe(fn func([]types.ChangeOrderRecord)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subscribers[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

func (a *Aggregate) filter(keep func(types.ChangeOrderRecord) bool) []types.ChangeOrderRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.ChangeOrderRecord, 0, len(a.orders))
	for _, rec := range a.orders {
		if keep(rec) {
			rec.Items = append([]types.ChangeOrderItemRecord(nil), rec.Items...)
			out = append(out, rec)
		}
	}
	return out
}
