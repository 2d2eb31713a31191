// Package notifications delivers invitations to purchasers.
package notifications

import (
	"context"
	"strings"
)

// Invitation is what the dispatch worker hands to a notifier for one row.
type Invitation struct {
	To        string
	Name      string
	Reference string
	Token     string
}

// Receipt identifies a delivered invitation at the provider.
type Receipt struct {
	Provider  string
	MessageID string
}

// Notifier sends one invitation. Any error means the invitation was not
// delivered and the row must stay unfulfilled.
type Notifier interface {
	Send(ctx context.Context, inv Invitation) (Receipt, error)
}

// Greeting returns the salutation name, empty when unknown.
func (i Invitation) Greeting() string {
	return strings.TrimSpace(i.Name)
}
