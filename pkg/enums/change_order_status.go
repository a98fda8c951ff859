package enums

import "fmt"

// ChangeOrderStatus tracks whether a change order is still being negotiated.
type ChangeOrderStatus string

const (
	ChangeOrderStatusPending  ChangeOrderStatus = "pending"
	ChangeOrderStatusAccepted ChangeOrderStatus = "accepted"
)

var validChangeOrderStatuses = []ChangeOrderStatus{
	ChangeOrderStatusPending,
	ChangeOrderStatusAccepted,
}

// String implements fmt.Stringer.
func (c ChangeOrderStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ChangeOrderStatus.
func (c ChangeOrderStatus) IsValid() bool {
	for _, candidate := range validChangeOrderStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseChangeOrderStatus converts raw input into a ChangeOrderStatus.
func ParseChangeOrderStatus(value string) (ChangeOrderStatus, error) {
	for _, candidate := range validChangeOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid change order status %q", value)
}
