package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// ChangeOrder is a supplementary set of items negotiated after a quote was accepted.
// At most one pending row exists per quote (ux_change_orders_pending_quote).
type ChangeOrder struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID         uuid.UUID               `gorm:"column:company_id;type:uuid;not null"`
	DealID            uuid.UUID               `gorm:"column:deal_id;type:uuid;not null"`
	QuoteID           uuid.UUID               `gorm:"column:quote_id;type:uuid;not null"`
	InvoiceID         *uuid.UUID              `gorm:"column:invoice_id;type:uuid"`
	ChangeOrderNumber string                  `gorm:"column:change_order_number;not null"`
	Status            enums.ChangeOrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Total             decimal.Decimal         `gorm:"column:total;type:numeric(12,2);not null;default:0"`
	AcceptedAt        *time.Time              `gorm:"column:accepted_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
	Items             []ChangeOrderItem       `gorm:"foreignKey:ChangeOrderID"`
}

func (c *ChangeOrder) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

// ChangeOrderItem keeps the id chosen by the client so optimistic edits can target it.
type ChangeOrderItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ChangeOrderID uuid.UUID       `gorm:"column:change_order_id;type:uuid;not null"`
	Position      int             `gorm:"column:position;not null"`
	Name          string          `gorm:"column:name;not null"`
	Description   string          `gorm:"column:description;not null;default:''"`
	Quantity      int             `gorm:"column:quantity;not null;default:1"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	IsDiscount    bool            `gorm:"column:is_discount;not null;default:false"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *ChangeOrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
