package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// Quote is the persisted sales document. Line items are replaced as a set on every upsert.
type Quote struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID     uuid.UUID         `gorm:"column:company_id;type:uuid;not null"`
	DealID        uuid.UUID         `gorm:"column:deal_id;type:uuid;not null"`
	QuoteNumber   string            `gorm:"column:quote_number;not null"`
	Title         string            `gorm:"column:title;not null;default:''"`
	ClientMessage string            `gorm:"column:client_message;not null;default:''"`
	Disclaimer    string            `gorm:"column:disclaimer;not null;default:''"`
	Status        enums.QuoteStatus `gorm:"column:status;type:text;not null;default:'draft'"`
	TaxRate       decimal.Decimal   `gorm:"column:tax_rate;type:numeric(5,2);not null;default:0"`
	PublicShareID uuid.UUID         `gorm:"column:public_share_id;type:uuid;not null"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	LineItems     []QuoteLineItem   `gorm:"foreignKey:QuoteID"`
}

func (q *Quote) BeforeCreate(*gorm.DB) error {
	assignID(&q.ID)
	assignID(&q.PublicShareID)
	return nil
}
