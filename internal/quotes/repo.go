package quotes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
)

// Repository defines the persistence surface required by the quote service.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindDeal(ctx context.Context, companyID, dealID uuid.UUID) (*models.Deal, error)
	FindByID(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Quote, error)
	FindByIDForUpdate(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Quote, error)
	CountByCompany(ctx context.Context, companyID uuid.UUID) (int64, error)
	Create(ctx context.Context, quote *models.Quote) error
	Update(ctx context.Context, quote *models.Quote) error
	DeleteLineItems(ctx context.Context, quoteID uuid.UUID, ids []uuid.UUID) (int64, error)
	SaveLineItems(ctx context.Context, quoteID uuid.UUID, items []models.QuoteLineItem) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a quote repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindDeal(ctx context.Context, companyID, dealID uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	if err := r.db.WithContext(ctx).
		Where("id = ? AND company_id = ?", dealID, companyID).
		First(&deal).Error; err != nil {
		return nil, err
	}
	return &deal, nil
}

func (r *repository) FindByID(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Quote, error) {
	return r.find(ctx, r.db, companyID, quoteID)
}

// FindByIDForUpdate row-locks the quote for the rest of the transaction.
func (r *repository) FindByIDForUpdate(ctx context.Context, companyID, quoteID uuid.UUID) (*models.Quote, error) {
	return r.find(ctx, r.db.Clauses(clause.Locking{Strength: "UPDATE"}), companyID, quoteID)
}

func (r *repository) find(ctx context.Context, db *gorm.DB, companyID, quoteID uuid.UUID) (*models.Quote, error) {
	var quote models.Quote
	if err := db.WithContext(ctx).
		Preload("LineItems", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Where("id = ? AND company_id = ?", quoteID, companyID).
		First(&quote).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *repository) CountByCompany(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Quote{}).
		Where("company_id = ?", companyID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) Create(ctx context.Context, quote *models.Quote) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(quote).Error
}

func (r *repository) Update(ctx context.Context, quote *models.Quote) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(quote).Error
}

// DeleteLineItems removes ids that belong to quoteID and ignores the rest.
func (r *repository) DeleteLineItems(ctx context.Context, quoteID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("quote_id = ? AND id IN ?", quoteID, ids).
		Delete(&models.QuoteLineItem{})
	return res.RowsAffected, res.Error
}

// SaveLineItems updates rows that already carry an id of quoteID and inserts the rest.
func (r *repository) SaveLineItems(ctx context.Context, quoteID uuid.UUID, items []models.QuoteLineItem) error {
	db := r.db.WithContext(ctx)
	for i := range items {
		items[i].QuoteID = quoteID
		if items[i].ID == uuid.Nil {
			if err := db.Create(&items[i]).Error; err != nil {
				return err
			}
			continue
		}
		if err := db.Model(&models.QuoteLineItem{}).
			Where("id = ? AND quote_id = ?", items[i].ID, quoteID).
			Updates(map[string]any{
				"position":    items[i].Position,
				"name":        items[i].Name,
				"description": items[i].Description,
				"unit_price":  items[i].UnitPrice,
				"is_discount": items[i].IsDiscount,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}
