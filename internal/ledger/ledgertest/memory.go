// Package ledgertest provides an in-memory ledger.Store for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/invite-ledger/internal/ledger"
)

// Memory keeps rows in append order. Identities start at ledger.FirstDataRow
// to mirror the spreadsheet layout. Error fields fail the matching call.
type Memory struct {
	mu   sync.Mutex
	rows []ledger.Row

	FindErr   error
	AppendErr error
	ListErr   error
	// UpdateErr fails UpdateFields for the listed row ids.
	UpdateErr map[int64]error

	Appends int
	Updates []int64
}

var _ ledger.Store = (*Memory)(nil)

// Seed appends rows as-is, assigning identities.
func (m *Memory) Seed(rows ...ledger.Row) []ledger.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Row, 0, len(rows))
	for _, row := range rows {
		row.ID = int64(len(m.rows)) + ledger.FirstDataRow
		m.rows = append(m.rows, row)
		out = append(out, row)
	}
	return out
}

// Rows returns a copy of the stored rows.
func (m *Memory) Rows() []ledger.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Row(nil), m.rows...)
}

// Row returns the stored row with the given identity.
func (m *Memory) Row(id int64) (ledger.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := int(id - ledger.FirstDataRow)
	if idx < 0 || idx >= len(m.rows) {
		return ledger.Row{}, false
	}
	return m.rows[idx], true
}

func (m *Memory) FindByKey(ctx context.Context, key ledger.Key) (*ledger.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	for _, row := range m.rows {
		if row.Key() == key {
			found := row
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) Append(ctx context.Context, row ledger.Row) (ledger.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return ledger.Row{}, m.AppendErr
	}
	m.Appends++
	row.ID = int64(len(m.rows)) + ledger.FirstDataRow
	m.rows = append(m.rows, row)
	return row, nil
}

func (m *Memory) UpdateFields(ctx context.Context, id int64, update ledger.FulfillmentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := update.Validate(); err != nil {
		return err
	}
	if err, ok := m.UpdateErr[id]; ok {
		return err
	}
	idx := int(id - ledger.FirstDataRow)
	if idx < 0 || idx >= len(m.rows) {
		return fmt.Errorf("%w: id %d", ledger.ErrRowNotFound, id)
	}
	if m.rows[idx].Fulfilled() {
		return fmt.Errorf("%w: id %d", ledger.ErrAlreadyFulfilled, id)
	}
	m.Updates = append(m.Updates, id)
	m.rows[idx].State = update.State
	m.rows[idx].InvitationToken = update.InvitationToken
	m.rows[idx].FulfillmentNote = update.Note
	return nil
}

func (m *Memory) ListUnfulfilled(ctx context.Context, limit int) ([]ledger.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return ledger.SelectUnfulfilled(append([]ledger.Row(nil), m.rows...), limit), nil
}
