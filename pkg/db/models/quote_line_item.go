package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QuoteLineItem is one flat-priced row of a quote. Quantity is always 1.
type QuoteLineItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	QuoteID     uuid.UUID       `gorm:"column:quote_id;type:uuid;not null"`
	Position    int             `gorm:"column:position;not null"`
	Name        string          `gorm:"column:name;not null"`
	Description string          `gorm:"column:description;not null;default:''"`
	Quantity    int             `gorm:"column:quantity;not null;default:1"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	IsDiscount  bool            `gorm:"column:is_discount;not null;default:false"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *QuoteLineItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
