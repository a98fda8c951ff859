// Package pricing turns flat-priced line items into subtotal, tax and total.
package pricing

import (
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxRate  = hundred
	minRate  = decimal.Zero
	centsExp = int32(2)
)

// Totals is the money summary of a document.
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	Total     decimal.Decimal `json:"total"`
}

// ComputeTotals sums prices (discounts keep their negative sign) and applies taxRate
// percent. The rate is clamped to [0, 100] and tax is rounded half away from zero to cents.
func ComputeTotals(prices []decimal.Decimal, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, price := range prices {
		subtotal = subtotal.Add(price)
	}
	tax := subtotal.Mul(ClampRate(taxRate)).Div(hundred).Round(centsExp)
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}

// SumItems computes totals for any item type exposing a unit price.
func SumItems[T any](items []T, price func(T) decimal.Decimal, taxRate decimal.Decimal) Totals {
	prices := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		prices = append(prices, price(item))
	}
	return ComputeTotals(prices, taxRate)
}

// ClampRate bounds a tax rate percentage to [0, 100].
func ClampRate(rate decimal.Decimal) decimal.Decimal {
	if rate.LessThan(minRate) {
		return minRate
	}
	if rate.GreaterThan(maxRate) {
		return maxRate
	}
	return rate
}

// PriceFromFloat converts a float price, mapping NaN and infinities to zero.
func PriceFromFloat(value float64) decimal.Decimal {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(value)
}

// ParsePrice reads user-typed price text. Currency symbols, thousands separators and
// whitespace are dropped; anything unparseable yields zero.
func ParsePrice(text string) decimal.Decimal {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == ',' || unicode.IsSpace(r):
			return -1
		case unicode.Is(unicode.Sc, r):
			return -1
		}
		return r
	}, text)
	if cleaned == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return value
}

// NormalizeDiscount forces a discount price negative and leaves other prices untouched.
func NormalizeDiscount(price decimal.Decimal, isDiscount bool) decimal.Decimal {
	if !isDiscount {
		return price
	}
	return price.Abs().Neg()
}
