package changeorderdraft

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefix returns the label prefix shared by every change order of a quote.
func Prefix(quoteNumber string) string {
	return "CO-" + quoteNumber + "-"
}

// NextChangeOrderNumber picks the label for a new change order: one past the highest
// sequence already issued for the quote, and never below len(existing)+1 so orders
// created out of sequence do not collide.
func NextChangeOrderNumber(quoteNumber string, existing []string) string {
	prefix := Prefix(quoteNumber)
	highest := 0
	for _, number := range existing {
		suffix, ok := strings.CutPrefix(number, prefix)
		if !ok {
			continue
		}
		seq, err := strconv.Atoi(suffix)
		if err != nil || seq < 0 {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	next := highest + 1
	if floor := len(existing) + 1; next < floor {
		next = floor
	}
	return fmt.Sprintf("%s%03d", prefix, next)
}
