package changeorderdraft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

func seedOrders(store *fakeStore) {
	now := time.Now()
	store.orders["co-1"] = &types.ChangeOrderRecord{
		ID: "co-1", DealID: testDealID, QuoteID: testQuoteID, ChangeOrderNumber: "CO-Q104-001",
		Status: enums.ChangeOrderStatusAccepted, CreatedAt: now.Add(-2 * time.Hour),
		Items: []types.ChangeOrderItemRecord{
			{ID: "a", Name: "Outlet", Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
			{ID: "b", Name: "Credit", Quantity: 1, UnitPrice: decimal.NewFromInt(-10), IsDiscount: true},
		},
	}
	store.orders["co-2"] = &types.ChangeOrderRecord{
		ID: "co-2", DealID: testDealID, QuoteID: testQuoteID, ChangeOrderNumber: "CO-Q104-002",
		Status: enums.ChangeOrderStatusPending, CreatedAt: now.Add(-time.Hour),
		Items: []types.ChangeOrderItemRecord{{ID: "c", Name: "Panel", Quantity: 1, UnitPrice: decimal.NewFromInt(400)}},
	}
	store.orders["co-x"] = &types.ChangeOrderRecord{
		ID: "co-x", DealID: "other-deal", QuoteID: "other-quote", Status: enums.ChangeOrderStatusPending, CreatedAt: now,
	}
}

func newTestAggregate(t *testing.T, store *fakeStore, invoices InvoiceLookup) (*Aggregate, *Coordinator) {
	t.Helper()
	coordinator, err := NewCoordinator(store, nil)
	require.NoError(t, err)
	agg, err := NewAggregate(AggregateParams{
		Lister:      store,
		Invoices:    invoices,
		Coordinator: coordinator,
		DealID:      testDealID,
	})
	require.NoError(t, err)
	return agg, coordinator
}

func TestAggregatePartitionsAndTotals(t *testing.T) {
	store := newFakeStore()
	seedOrders(store)
	agg, _ := newTestAggregate(t, store, store)

	require.NoError(t, agg.Load(context.Background()))

	all := agg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "co-1", all[0].ID, "oldest first")
	assert.Len(t, agg.Accepted(), 1)
	assert.Len(t, agg.Pending(), 1)
	assert.Len(t, agg.ForQuote(testQuoteID), 2)
	assert.Empty(t, agg.ForQuote("other-quote"))

	assert.True(t, OrderTotal(all[0]).Equal(decimal.NewFromInt(90)), "2x50 - 10")
	assert.True(t, agg.AcceptedTotal(testQuoteID).Equal(decimal.NewFromInt(90)))
}

func TestAggregateFeedsManager(t *testing.T) {
	store := newFakeStore()
	seedOrders(store)
	agg, _ := newTestAggregate(t, store, store)
	m := newTestManager(t, store, nil)
	agg.Subscribe(m.Sync)

	require.NoError(t, agg.Load(context.Background()))
	assert.Equal(t, "co-2", m.State().Draft.ID)

	// a fresh draft continues the numbering after both known orders
	m.mu.Lock()
	m.draft = Draft{}
	m.mu.Unlock()
	store.orders["co-2"].Status = enums.ChangeOrderStatusAccepted
	require.NoError(t, m.AddOrEditItem(context.Background(), ItemInput{Name: "Conduit", Price: decimal.NewFromInt(30)}))
	assert.Equal(t, "CO-Q104-003", m.State().Draft.Number)
}

func TestAggregatePreloadsInvoicesInParallel(t *testing.T) {
	store := newFakeStore()
	seedOrders(store)
	store.invoice = &types.InvoiceRecord{ID: "inv-1", QuoteID: testQuoteID}
	agg, _ := newTestAggregate(t, store, store)

	require.NoError(t, agg.Refresh(context.Background(), testQuoteID, "no-invoice-quote"))

	inv, ok := agg.Invoice(testQuoteID)
	require.True(t, ok)
	assert.Equal(t, "inv-1", inv.ID)
	inv, ok = agg.Invoice("no-invoice-quote")
	assert.True(t, ok)
	assert.Nil(t, inv)
}

type failingLister struct{}

func (failingLister) ListChangeOrders(context.Context, string) ([]types.ChangeOrderRecord, error) {
	return nil, errors.New("503 service unavailable")
}

func TestAggregateLoadFailure(t *testing.T) {
	agg, err := NewAggregate(AggregateParams{Lister: failingLister{}, DealID: testDealID})
	require.NoError(t, err)
	called := false
	agg.Subscribe(func([]types.ChangeOrderRecord) { called = true })

	err = agg.Load(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.False(t, called)
}

func TestAcceptExisting(t *testing.T) {
	store := newFakeStore()
	seedOrders(store)
	agg, _ := newTestAggregate(t, store, store)
	ctx := context.Background()
	require.NoError(t, agg.Load(ctx))

	err := agg.AcceptExisting(ctx, "co-2")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrerequisite), "no invoice yet: %v", err)
	assert.Empty(t, store.accepts)

	store.invoice = &types.InvoiceRecord{ID: "inv-1", QuoteID: testQuoteID}
	require.NoError(t, agg.AcceptExisting(ctx, "co-2"))
	assert.Len(t, agg.Accepted(), 2)
	assert.Empty(t, agg.Pending())

	assert.True(t, pkgerrors.IsCode(agg.AcceptExisting(ctx, "co-2"), pkgerrors.CodeStateConflict))
	assert.True(t, pkgerrors.IsCode(agg.AcceptExisting(ctx, "missing"), pkgerrors.CodeNotFound))
}

func TestCoordinatorValidation(t *testing.T) {
	store := newFakeStore()
	c, err := NewCoordinator(store, nil)
	require.NoError(t, err)

	_, err = c.Accept(context.Background(), "", "inv-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = c.Accept(context.Background(), "co-1", "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePrerequisite))
	assert.Empty(t, store.accepts)

	store.acceptErr = errors.New("reset")
	_, err = c.Accept(context.Background(), "co-1", "inv-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = NewCoordinator(nil, nil)
	assert.Error(t, err)
}

func TestCoordinatorReusesKeyUntilOutcomeKnown(t *testing.T) {
	store := newFakeStore()
	seedOrders(store)
	c, err := NewCoordinator(store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	store.acceptErr = errors.New("connection reset")
	_, err = c.Accept(ctx, "co-2", "inv-1")
	require.Error(t, err)
	store.acceptErr = pkgerrors.New(pkgerrors.CodeDependency, "quote store request failed")
	_, err = c.Accept(ctx, "co-2", "inv-1")
	require.Error(t, err)

	store.acceptErr = nil
	_, err = c.Accept(ctx, "co-2", "inv-1")
	require.NoError(t, err)

	require.Len(t, store.acceptKeys, 3)
	assert.NotEmpty(t, store.acceptKeys[0])
	assert.Equal(t, store.acceptKeys[0], store.acceptKeys[1])
	assert.Equal(t, store.acceptKeys[0], store.acceptKeys[2])

	// a fresh attempt after success, or after a definitive rejection, gets a new key
	store.acceptErr = pkgerrors.New(pkgerrors.CodeStateConflict, "already accepted")
	_, err = c.Accept(ctx, "co-2", "inv-1")
	require.Error(t, err)
	_, err = c.Accept(ctx, "co-2", "inv-1")
	require.Error(t, err)
	require.Len(t, store.acceptKeys, 5)
	assert.NotEqual(t, store.acceptKeys[2], store.acceptKeys[3])
	assert.NotEqual(t, store.acceptKeys[3], store.acceptKeys[4])

	// another invoice is another attempt
	store.acceptErr = errors.New("connection reset")
	_, _ = c.Accept(ctx, "co-2", "inv-1")
	_, _ = c.Accept(ctx, "co-2", "inv-2")
	require.Len(t, store.acceptKeys, 7)
	assert.NotEqual(t, store.acceptKeys[5], store.acceptKeys[6])
}

func TestCachedInvoiceLookupRefetchesMisses(t *testing.T) {
	store := newFakeStore()
	cache := NewCachedInvoiceLookup(store)
	ctx := context.Background()

	inv, err := cache.GetInvoiceByQuoteID(ctx, testQuoteID)
	require.NoError(t, err)
	assert.Nil(t, inv)

	store.invoice = &types.InvoiceRecord{ID: "inv-9", QuoteID: testQuoteID}
	inv, err = cache.GetInvoiceByQuoteID(ctx, testQuoteID)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "inv-9", inv.ID)
	assert.Equal(t, 2, store.invoiceHits)

	_, _ = cache.GetInvoiceByQuoteID(ctx, testQuoteID)
	assert.Equal(t, 2, store.invoiceHits, "found invoices are cached")

	cache.InvalidateOnAccept(ctx, &types.ChangeOrderRecord{QuoteID: testQuoteID})
	_, _ = cache.GetInvoiceByQuoteID(ctx, testQuoteID)
	assert.Equal(t, 3, store.invoiceHits)
}
