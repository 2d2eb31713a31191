package enums

import (
	"fmt"
	"strings"
)

// FulfillmentState tracks whether a purchase has received its invitation.
type FulfillmentState string

const (
	FulfillmentStateUnfulfilled FulfillmentState = "UNFULFILLED"
	FulfillmentStateFulfilled   FulfillmentState = "FULFILLED"
)

var validFulfillmentStates = []FulfillmentState{
	FulfillmentStateUnfulfilled,
	FulfillmentStateFulfilled,
}

// IsValid reports whether the value matches a known state.
func (s FulfillmentState) IsValid() bool {
	for _, candidate := range validFulfillmentStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// Cell renders the state the way the tabular ledger stores it.
func (s FulfillmentState) Cell() string {
	if s == FulfillmentStateFulfilled {
		return "TRUE"
	}
	return "FALSE"
}

// ParseFulfillmentCell maps a ledger cell to a state. Blank cells count as
// unfulfilled; anything other than TRUE/FALSE is rejected.
func ParseFulfillmentCell(value string) (FulfillmentState, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "FALSE":
		return FulfillmentStateUnfulfilled, nil
	case "TRUE":
		return FulfillmentStateFulfilled, nil
	default:
		return "", fmt.Errorf("invalid fulfillment cell %q", value)
	}
}
