package invoices

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/pkg/db"
	"github.com/angelmondragon/fieldops-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox"
	"github.com/angelmondragon/fieldops-backend/pkg/redis"
	"github.com/angelmondragon/fieldops-backend/pkg/redis/redistest"
)

type fixture struct {
	conn      *gorm.DB
	svc       Service
	cache     *redistest.Memory
	companyID uuid.UUID
	quote     models.Quote
}

func newFixture(t *testing.T, status enums.QuoteStatus) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	cache := redistest.New()
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Tx:     db.NewFromConn(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
		Cache:  cache,
	})
	require.NoError(t, err)

	f := &fixture{conn: conn, svc: svc, cache: cache, companyID: uuid.New()}
	deal := models.Deal{CompanyID: f.companyID, Title: "Deck"}
	require.NoError(t, conn.Create(&deal).Error)
	f.quote = models.Quote{
		CompanyID:   f.companyID,
		DealID:      deal.ID,
		QuoteNumber: "Q100",
		Status:      status,
		TaxRate:     decimal.NewFromInt(10),
		LineItems: []models.QuoteLineItem{
			{Position: 0, Name: "Boards", Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
			{Position: 1, Name: "Promo", Quantity: 1, UnitPrice: decimal.NewFromInt(-20), IsDiscount: true},
		},
	}
	require.NoError(t, conn.Create(&f.quote).Error)
	return f
}

func (f *fixture) acceptChangeOrder(t *testing.T, number string, total int64) {
	t.Helper()
	require.NoError(t, f.conn.Create(&models.ChangeOrder{
		CompanyID:         f.companyID,
		DealID:            f.quote.DealID,
		QuoteID:           f.quote.ID,
		ChangeOrderNumber: number,
		Status:            enums.ChangeOrderStatusAccepted,
		Total:             decimal.NewFromInt(total),
	}).Error)
}

func TestCreateFromQuoteBillsQuoteTotal(t *testing.T) {
	f := newFixture(t, enums.QuoteStatusAccepted)
	ctx := context.Background()

	rec, err := f.svc.CreateFromQuote(ctx, f.companyID, f.quote.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-Q100", rec.InvoiceNumber)
	assert.Equal(t, enums.InvoiceStatusOpen, rec.Status)
	assert.True(t, rec.BaseAmount.Equal(decimal.NewFromInt(88)), "80 subtotal + 8 tax")
	assert.True(t, rec.BalanceDue.Equal(decimal.NewFromInt(88)))
	assert.True(t, f.cache.Has(redis.InvoiceCacheKey(f.quote.ID.String())))

	again, err := f.svc.CreateFromQuote(ctx, f.companyID, f.quote.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventInvoiceCreated).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestCreateFromQuoteRequiresAcceptedQuote(t *testing.T) {
	f := newFixture(t, enums.QuoteStatusSent)
	_, err := f.svc.CreateFromQuote(context.Background(), f.companyID, f.quote.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	_, err = f.svc.CreateFromQuote(context.Background(), uuid.New(), f.quote.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRecalculateAppliesAcceptedChangeOrders(t *testing.T) {
	f := newFixture(t, enums.QuoteStatusAccepted)
	ctx := context.Background()
	rec, err := f.svc.CreateFromQuote(ctx, f.companyID, f.quote.ID)
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Invoice{}).Where("id = ?", rec.ID).
		Update("amount_paid", decimal.NewFromInt(50)).Error)

	f.acceptChangeOrder(t, "CO-Q100-001", 40)
	f.acceptChangeOrder(t, "CO-Q100-002", -10)
	require.NoError(t, f.conn.Create(&models.ChangeOrder{
		CompanyID: f.companyID, DealID: f.quote.DealID, QuoteID: f.quote.ID,
		ChangeOrderNumber: "CO-Q100-009", Status: enums.ChangeOrderStatusPending, Total: decimal.NewFromInt(999),
	}).Error)

	var updated *models.Invoice
	err = db.NewFromConn(f.conn).WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = f.svc.RecalculateTx(ctx, tx, f.companyID, uuid.MustParse(rec.ID))
		return err
	})
	require.NoError(t, err)
	assert.True(t, updated.ChangeOrderAmount.Equal(decimal.NewFromInt(30)), "pending orders are ignored")
	assert.True(t, updated.Total.Equal(decimal.NewFromInt(118)))
	assert.True(t, updated.BalanceDue.Equal(decimal.NewFromInt(68)))

	// stale until invalidated
	cached, err := f.svc.GetByQuote(ctx, f.companyID, f.quote.ID)
	require.NoError(t, err)
	assert.True(t, cached.Total.Equal(decimal.NewFromInt(88)))

	f.svc.Invalidate(ctx, f.quote.ID)
	fresh, err := f.svc.GetByQuote(ctx, f.companyID, f.quote.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Total.Equal(decimal.NewFromInt(118)))
	assert.True(t, fresh.AmountPaid.Equal(decimal.NewFromInt(50)))
}

func TestGetByQuoteScopesCachedRecords(t *testing.T) {
	f := newFixture(t, enums.QuoteStatusAccepted)
	ctx := context.Background()

	_, err := f.svc.GetByQuote(ctx, f.companyID, f.quote.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.CreateFromQuote(ctx, f.companyID, f.quote.ID)
	require.NoError(t, err)
	_, err = f.svc.GetByQuote(ctx, uuid.New(), f.quote.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "cached invoice of another company")
}

func TestToRecordNil(t *testing.T) {
	assert.Nil(t, ToRecord(nil))
}
