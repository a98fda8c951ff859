package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// InvoiceRecord is the server-owned billing view of an accepted quote.
type InvoiceRecord struct {
	ID                string              `json:"id"`
	CompanyID         string              `json:"companyId"`
	DealID            string              `json:"dealId"`
	QuoteID           string              `json:"quoteId"`
	InvoiceNumber     string              `json:"invoiceNumber"`
	Status            enums.InvoiceStatus `json:"status"`
	TaxRate           decimal.Decimal     `json:"taxRate"`
	BaseAmount        decimal.Decimal     `json:"baseAmount"`
	ChangeOrderAmount decimal.Decimal     `json:"changeOrderAmount"`
	Total             decimal.Decimal     `json:"total"`
	AmountPaid        decimal.Decimal     `json:"amountPaid"`
	BalanceDue        decimal.Decimal     `json:"balanceDue"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// ProductTemplate is a read-only catalog entry.
type ProductTemplate struct {
	ID          string          `json:"id"`
	CompanyID   string          `json:"companyId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}
