package changeorders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// Repository defines the persistence surface required by the change-order service.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Quote, error)
	FindInvoice(ctx context.Context, companyID, invoiceID uuid.UUID) (*models.Invoice, error)
	FindByID(ctx context.Context, companyID, id uuid.UUID) (*models.ChangeOrder, error)
	FindByIDForUpdate(ctx context.Context, companyID, id uuid.UUID) (*models.ChangeOrder, error)
	FindPendingByQuote(ctx context.Context, quoteID uuid.UUID) (*models.ChangeOrder, error)
	ListByDeal(ctx context.Context, companyID, dealID uuid.UUID) ([]models.ChangeOrder, error)
	Create(ctx context.Context, order *models.ChangeOrder) error
	Update(ctx context.Context, order *models.ChangeOrder) error
	ReplaceItems(ctx context.Context, orderID uuid.UUID, items []models.ChangeOrderItem) error
	Delete(ctx context.Context, orderID uuid.UUID) error
	MarkAccepted(ctx context.Context, orderID, invoiceID uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a change-order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Quote, error) {
	var quote models.Quote
	if err := r.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", quoteID, companyID).
		First(&quote).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *repository) FindInvoice(ctx context.Context, companyID, invoiceID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", invoiceID, companyID).
		First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByID(ctx context.Context, companyID, id uuid.UUID) (*models.ChangeOrder, error) {
	return r.first(ctx, r.db, "id = ? AND company_id = ?", id, companyID)
}

func (r *repository) FindByIDForUpdate(ctx context.Context, companyID, id uuid.UUID) (*models.ChangeOrder, error) {
	return r.first(ctx, r.db.Clauses(clause.Locking{Strength: "UPDATE"}), "id = ? AND company_id = ?", id, companyID)
}

func (r *repository) FindPendingByQuote(ctx context.Context, quoteID uuid.UUID) (*models.ChangeOrder, error) {
	return r.first(ctx, r.db, "quote_id = ? AND status = ?", quoteID, enums.ChangeOrderStatusPending)
}

func (r *repository) first(ctx context.Context, db *gorm.DB, query string, args ...any) (*models.ChangeOrder, error) {
	var order models.ChangeOrder
	if err := db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where(query, args...).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByDeal(ctx context.Context, companyID, dealID uuid.UUID) ([]models.ChangeOrder, error) {
	var orders []models.ChangeOrder
	if err := r.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("deal_id = ? AND company_id = ?", dealID, companyID).
		Order("created_at ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) Create(ctx context.Context, order *models.ChangeOrder) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *repository) Update(ctx context.Context, order *models.ChangeOrder) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(order).Error
}

// ReplaceItems swaps the full item set of a change order, keeping the ids the client chose.
func (r *repository) ReplaceItems(ctx context.Context, orderID uuid.UUID, items []models.ChangeOrderItem) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Where("change_order_id = ?", orderID).Delete(&models.ChangeOrderItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].ChangeOrderID = orderID
	}
	return tx.Create(&items).Error
}

func (r *repository) Delete(ctx context.Context, orderID uuid.UUID) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Where("change_order_id = ?", orderID).Delete(&models.ChangeOrderItem{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", orderID).Delete(&models.ChangeOrder{}).Error
}

func (r *repository) MarkAccepted(ctx context.Context, orderID, invoiceID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ChangeOrder{}).
		Where("id = ? AND status = ?", orderID, enums.ChangeOrderStatusPending).
		Updates(map[string]any{
			"status":      enums.ChangeOrderStatusAccepted,
			"invoice_id":  invoiceID,
			"accepted_at": at,
		}).Error
}

func orderedItems(tx *gorm.DB) *gorm.DB {
	return tx.Order("position ASC")
}
