// Package sheets stores the ledger in a Google Sheets tab: one header row
// followed by one row per purchase, addressed by sheet row number.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/invite-ledger/internal/ledger"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

// valuesAPI is the subset of pkg/sheets.Client the store relies on.
type valuesAPI interface {
	SheetName() string
	Get(ctx context.Context, rng string) ([][]any, error)
	Append(ctx context.Context, rng string, row []any) (int64, error)
	Update(ctx context.Context, rng string, row []any) error
	BatchUpdate(ctx context.Context, ranges map[string][]any) error
}

// Store implements ledger.Store on a spreadsheet.
type Store struct {
	api   valuesAPI
	sheet string
	logg  *logger.Logger
}

var _ ledger.Store = (*Store)(nil)

// NewStore binds the store to the client's sheet.
func NewStore(api valuesAPI, logg *logger.Logger) (*Store, error) {
	if api == nil {
		return nil, errors.New("sheets client required")
	}
	sheet := strings.TrimSpace(api.SheetName())
	if sheet == "" {
		return nil, errors.New("sheet name required")
	}
	return &Store{api: api, sheet: sheet, logg: logg}, nil
}

// EnsureHeader writes the header on an empty sheet and verifies it otherwise.
func (s *Store) EnsureHeader(ctx context.Context) error {
	rng := ledger.HeaderRange(s.sheet)
	values, err := s.api.Get(ctx, rng)
	if err != nil {
		return fmt.Errorf("read ledger header: %w", err)
	}
	if len(values) == 0 || len(values[0]) == 0 {
		if err := s.api.Update(ctx, rng, ledger.Header()); err != nil {
			return fmt.Errorf("write ledger header: %w", err)
		}
		return nil
	}
	return ledger.CheckHeader(values[0])
}

// FindByKey matches on the raw email and event id cells of every data row, so
// a purchase is found even when its state cell no longer parses. Such a row is
// returned with an empty State.
func (s *Store) FindByKey(ctx context.Context, key ledger.Key) (*ledger.Row, error) {
	values, err := s.readValues(ctx)
	if err != nil {
		return nil, err
	}
	for i := ledger.HeaderRows; i < len(values); i++ {
		if ledger.DecodeKey(values[i]) != key {
			continue
		}
		id := ledger.RowIdentity(i)
		row, err := ledger.DecodeRow(id, values[i])
		if err != nil {
			s.warn(ctx, id, fmt.Sprintf("ledger row matched with malformed cells: %v", err))
			return &ledger.Row{ID: id, Email: key.Email, SourceEventID: key.SourceEventID}, nil
		}
		return &row, nil
	}
	return nil, nil
}

func (s *Store) Append(ctx context.Context, row ledger.Row) (ledger.Row, error) {
	id, err := s.api.Append(ctx, ledger.AppendRange(s.sheet), ledger.EncodeRow(row))
	if err != nil {
		return ledger.Row{}, fmt.Errorf("append ledger row: %w", err)
	}
	row.ID = id
	return row, nil
}

// UpdateFields re-reads the addressed row before writing so a row that another
// run already fulfilled is not overwritten with a different token. The read and
// the write are still two requests.
func (s *Store) UpdateFields(ctx context.Context, id int64, update ledger.FulfillmentUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	if id < ledger.FirstDataRow {
		return fmt.Errorf("%w: row %d", ledger.ErrRowNotFound, id)
	}
	current, err := s.readRow(ctx, id)
	if err != nil {
		return err
	}
	if current.Fulfilled() {
		return fmt.Errorf("%w: row %d", ledger.ErrAlreadyFulfilled, id)
	}

	stateRange, noteRange := ledger.FulfillmentRanges(s.sheet, id)
	stateCells, noteCells := ledger.EncodeFulfillment(update)
	if err := s.api.BatchUpdate(ctx, map[string][]any{
		stateRange: stateCells,
		noteRange:  noteCells,
	}); err != nil {
		return fmt.Errorf("update ledger row %d: %w", id, err)
	}
	return nil
}

func (s *Store) ListUnfulfilled(ctx context.Context, limit int) ([]ledger.Row, error) {
	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.SelectUnfulfilled(rows, limit), nil
}

func (s *Store) readRow(ctx context.Context, id int64) (ledger.Row, error) {
	rng := ledger.RowRange(s.sheet, id)
	values, err := s.api.Get(ctx, rng)
	if err != nil {
		return ledger.Row{}, fmt.Errorf("read ledger row %d: %w", id, err)
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return ledger.Row{}, fmt.Errorf("%w: row %d", ledger.ErrRowNotFound, id)
	}
	return ledger.DecodeRow(id, values[0])
}

// readAll decodes every data row. Rows whose state cell cannot be parsed are
// logged and left out so a single bad edit does not block the queue.
func (s *Store) readAll(ctx context.Context) ([]ledger.Row, error) {
	values, err := s.readValues(ctx)
	if err != nil {
		return nil, err
	}
	if len(values) <= ledger.HeaderRows {
		return nil, nil
	}
	rows := make([]ledger.Row, 0, len(values)-ledger.HeaderRows)
	for i := ledger.HeaderRows; i < len(values); i++ {
		row, err := ledger.DecodeRow(ledger.RowIdentity(i), values[i])
		if err != nil {
			s.warn(ctx, ledger.RowIdentity(i), fmt.Sprintf("skipping malformed ledger row: %v", err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) readValues(ctx context.Context) ([][]any, error) {
	values, err := s.api.Get(ctx, ledger.ReadRange(s.sheet))
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return values, nil
}

func (s *Store) warn(ctx context.Context, id int64, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithRowID(ctx, id), msg)
}
