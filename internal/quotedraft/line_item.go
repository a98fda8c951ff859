package quotedraft

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/internal/pricing"
)

const discountName = "Discount"

// Field names an editable line item text field.
type Field string

const (
	FieldName        Field = "name"
	FieldDescription Field = "description"
)

// LineItem is one editable row. The price is kept as typed until save.
type LineItem struct {
	Identity    Identity
	Name        string
	Description string
	PriceText   string
	IsDiscount  bool
}

// UnitPrice parses the typed price. Discounts are always negative.
func (l LineItem) UnitPrice() decimal.Decimal {
	return pricing.NormalizeDiscount(pricing.ParsePrice(l.PriceText), l.IsDiscount)
}

func cloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	return append([]LineItem(nil), items...)
}

func indexOf(items []LineItem, id ClientID) int {
	for i, item := range items {
		if item.Identity.Client() == id {
			return i
		}
	}
	return -1
}
