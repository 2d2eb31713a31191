package ledger

import (
	"context"
	"errors"
)

var (
	// ErrDuplicate is returned by Append when the backend itself enforces key
	// uniqueness and the key already exists.
	ErrDuplicate = errors.New("ledger row already exists")
	// ErrRowNotFound is returned by UpdateFields for an unknown row identity.
	ErrRowNotFound = errors.New("ledger row not found")
	// ErrAlreadyFulfilled is returned by backends that can detect a second
	// fulfillment of the same row.
	ErrAlreadyFulfilled = errors.New("ledger row already fulfilled")
	// ErrIllegalTransition guards the one-way state machine.
	ErrIllegalTransition = errors.New("illegal fulfillment transition")
)

// Store is the typed ledger client. Backends have no multi-row transactions:
// FindByKey followed by Append is not atomic, and neither is a read of
// ListUnfulfilled followed by UpdateFields. Two concurrent ingestions of the same
// event can both append, and two concurrent dispatch runs can select the same
// row. Callers needing more must claim rows before acting (see dispatch.Claimer).
type Store interface {
	// FindByKey returns nil, nil when no row matches.
	FindByKey(ctx context.Context, key Key) (*Row, error)
	// Append stores a new row and returns it with its assigned identity.
	Append(ctx context.Context, row Row) (Row, error)
	// UpdateFields writes the fulfillment columns of one row in a single call.
	UpdateFields(ctx context.Context, id int64, update FulfillmentUpdate) error
	// ListUnfulfilled returns up to limit dispatchable rows in row order.
	ListUnfulfilled(ctx context.Context, limit int) ([]Row, error)
}

// SelectUnfulfilled applies the dispatch selection rule to rows already read
// in row order. Rows without an email are skipped and never count toward limit.
func SelectUnfulfilled(rows []Row, limit int) []Row {
	if limit <= 0 {
		return nil
	}
	out := make([]Row, 0, min(limit, len(rows)))
	for _, row := range rows {
		if !row.Dispatchable() {
			continue
		}
		out = append(out, row)
		if len(out) >= limit {
			break
		}
	}
	return out
}
