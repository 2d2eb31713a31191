package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/invite-ledger/pkg/enums"
)

// Row is one purchase in the ledger. It is created once by ingestion and
// mutated at most once, by dispatch, when the invitation has been delivered.
type Row struct {
	ID                  int64
	CreatedAt           time.Time
	Email               string
	Name                string
	Phone               string
	Address             string
	SourceEventID       string
	CustomerID          string
	SubscriptionID      string
	State               enums.FulfillmentState
	InvitationToken     string
	ExternalRecipientID string
	FulfillmentNote     string
}

// Key identifies a distinct purchase.
type Key struct {
	Email         string
	SourceEventID string
}

// NewKey trims both parts so lookups match what ingestion stored.
func NewKey(email, sourceEventID string) Key {
	return Key{Email: strings.TrimSpace(email), SourceEventID: strings.TrimSpace(sourceEventID)}
}

// Key returns the dedup key of the row.
func (r Row) Key() Key {
	return NewKey(r.Email, r.SourceEventID)
}

// Fulfilled reports whether the invitation has been delivered.
func (r Row) Fulfilled() bool {
	return r.State == enums.FulfillmentStateFulfilled
}

// Dispatchable reports whether the worker may select the row.
func (r Row) Dispatchable() bool {
	return !r.Fulfilled() && strings.TrimSpace(r.Email) != ""
}

// Validate checks the invariants a stored row must satisfy.
func (r Row) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return errors.New("email is required")
	}
	if strings.TrimSpace(r.SourceEventID) == "" {
		return errors.New("source event id is required")
	}
	if !r.State.IsValid() {
		return fmt.Errorf("invalid fulfillment state %q", r.State)
	}
	hasToken := strings.TrimSpace(r.InvitationToken) != ""
	if r.Fulfilled() != hasToken {
		return fmt.Errorf("invitation token presence (%t) does not match state %s", hasToken, r.State)
	}
	return nil
}

// FulfillmentUpdate is the only mutation the ledger accepts after append.
type FulfillmentUpdate struct {
	State           enums.FulfillmentState
	InvitationToken string
	Note            string
}

// NewFulfillmentUpdate builds the update written after a successful dispatch.
func NewFulfillmentUpdate(token, note string) FulfillmentUpdate {
	return FulfillmentUpdate{
		State:           enums.FulfillmentStateFulfilled,
		InvitationToken: token,
		Note:            note,
	}
}

// Validate rejects anything but a forward transition carrying a token.
func (u FulfillmentUpdate) Validate() error {
	if u.State != enums.FulfillmentStateFulfilled {
		return fmt.Errorf("%w: cannot write state %q", ErrIllegalTransition, u.State)
	}
	if strings.TrimSpace(u.InvitationToken) == "" {
		return errors.New("invitation token is required when fulfilling")
	}
	return nil
}
