package invoices

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// Repository manages persistence for invoices.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Invoice, error)
	FindByIDForUpdate(ctx context.Context, companyID, invoiceID uuid.UUID) (*models.Invoice, error)
	FindQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Quote, error)
	SumAcceptedChangeOrders(ctx context.Context, quoteID uuid.UUID) (decimal.Decimal, error)
	Create(ctx context.Context, invoice *models.Invoice) error
	Update(ctx context.Context, invoice *models.Invoice) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("quote_id = ? AND company_id = ?", quoteID, companyID).
		First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, companyID, invoiceID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND company_id = ?", invoiceID, companyID).
		First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Quote, error) {
	var quote models.Quote
	if err := r.db.WithContext(ctx).
		Preload("LineItems", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Where("id = ? AND company_id = ?", quoteID, companyID).
		First(&quote).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}

// SumAcceptedChangeOrders adds up the stored totals of every accepted change order of quoteID.
func (r *repository) SumAcceptedChangeOrders(ctx context.Context, quoteID uuid.UUID) (decimal.Decimal, error) {
	var totals []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.ChangeOrder{}).
		Where("quote_id = ? AND status = ?", quoteID, enums.ChangeOrderStatusAccepted).
		Pluck("total", &totals).Error; err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, total := range totals {
		sum = sum.Add(total)
	}
	return sum, nil
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) Update(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Save(invoice).Error
}
