package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// Invoice bills an accepted quote plus every change order accepted against it.
type Invoice struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID         uuid.UUID           `gorm:"column:company_id;type:uuid;not null"`
	DealID            uuid.UUID           `gorm:"column:deal_id;type:uuid;not null"`
	QuoteID           uuid.UUID           `gorm:"column:quote_id;type:uuid;not null;uniqueIndex"`
	InvoiceNumber     string              `gorm:"column:invoice_number;not null"`
	Status            enums.InvoiceStatus `gorm:"column:status;type:text;not null;default:'open'"`
	TaxRate           decimal.Decimal     `gorm:"column:tax_rate;type:numeric(5,2);not null;default:0"`
	BaseAmount        decimal.Decimal     `gorm:"column:base_amount;type:numeric(12,2);not null"`
	ChangeOrderAmount decimal.Decimal     `gorm:"column:change_order_amount;type:numeric(12,2);not null;default:0"`
	Total             decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null"`
	AmountPaid        decimal.Decimal     `gorm:"column:amount_paid;type:numeric(12,2);not null;default:0"`
	BalanceDue        decimal.Decimal     `gorm:"column:balance_due;type:numeric(12,2);not null"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
