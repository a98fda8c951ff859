package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductTemplate is a reusable catalog entry copied onto quote line items.
type ProductTemplate struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID   uuid.UUID       `gorm:"column:company_id;type:uuid;not null"`
	Name        string          `gorm:"column:name;not null"`
	Description string          `gorm:"column:description;not null;default:''"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null;default:0"`
	IsActive    bool            `gorm:"column:is_active;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *ProductTemplate) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
