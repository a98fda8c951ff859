package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Deal is the sales opportunity a quote belongs to. Archiving a deal locks its quotes.
type Deal struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID  uuid.UUID  `gorm:"column:company_id;type:uuid;not null"`
	Title      string     `gorm:"column:title;not null"`
	ArchivedAt *time.Time `gorm:"column:archived_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *Deal) BeforeCreate(*gorm.DB) error {
	assignID(&d.ID)
	return nil
}

// IsArchived reports whether the deal has been archived.
func (d Deal) IsArchived() bool {
	return d.ArchivedAt != nil
}
