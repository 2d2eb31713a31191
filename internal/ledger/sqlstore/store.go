// Package sqlstore keeps the ledger in a relational table. The unique index on
// (email, source_event_id) closes the ingest race the spreadsheet backend has,
// and the conditional update refuses a second fulfillment.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/invite-ledger/internal/ledger"
	"github.com/angelmondragon/invite-ledger/pkg/db"
	"github.com/angelmondragon/invite-ledger/pkg/db/models"
	"github.com/angelmondragon/invite-ledger/pkg/enums"
)

const uniqueKeyIndex = "ux_invite_ledger_email_source_event"

// Store implements ledger.Store with GORM.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ ledger.Store = (*Store)(nil)

// NewStore binds the store to an open connection.
func NewStore(conn *gorm.DB) (*Store, error) {
	if conn == nil {
		return nil, errors.New("db connection required")
	}
	return &Store{db: conn, now: time.Now}, nil
}

// EnsureSchema creates the table when migrations are not in play (sqlite).
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.conn(ctx).AutoMigrate(&models.LedgerEntry{})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return s.db
	}
	return s.db.WithContext(ctx)
}

func (s *Store) FindByKey(ctx context.Context, key ledger.Key) (*ledger.Row, error) {
	var entry models.LedgerEntry
	err := s.conn(ctx).
		Where("email = ? AND source_event_id = ?", key.Email, key.SourceEventID).
		Order("id ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ledger row: %w", err)
	}
	row := toRow(entry)
	return &row, nil
}

func (s *Store) Append(ctx context.Context, row ledger.Row) (ledger.Row, error) {
	entry := fromRow(row)
	entry.ID = 0
	if err := s.conn(ctx).Create(&entry).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return ledger.Row{}, fmt.Errorf("%w: %s", ledger.ErrDuplicate, uniqueKeyIndex)
		}
		return ledger.Row{}, fmt.Errorf("append ledger row: %w", err)
	}
	row.ID = entry.ID
	return row, nil
}

func (s *Store) UpdateFields(ctx context.Context, id int64, update ledger.FulfillmentUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	result := s.conn(ctx).
		Model(&models.LedgerEntry{}).
		Where("id = ? AND fulfillment_state = ?", id, enums.FulfillmentStateUnfulfilled).
		Updates(map[string]any{
			"fulfillment_state": update.State,
			"invitation_token":  update.InvitationToken,
			"fulfillment_note":  update.Note,
			"updated_at":        s.now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update ledger row %d: %w", id, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.conn(ctx).Model(&models.LedgerEntry{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("check ledger row %d: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: id %d", ledger.ErrRowNotFound, id)
	}
	return fmt.Errorf("%w: id %d", ledger.ErrAlreadyFulfilled, id)
}

func (s *Store) ListUnfulfilled(ctx context.Context, limit int) ([]ledger.Row, error) {
	if limit <= 0 {
		return nil, nil
	}
	var entries []models.LedgerEntry
	err := s.conn(ctx).
		Where("fulfillment_state = ? AND email <> ''", enums.FulfillmentStateUnfulfilled).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list unfulfilled ledger rows: %w", err)
	}
	rows := make([]ledger.Row, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, toRow(entry))
	}
	return rows, nil
}

func toRow(e models.LedgerEntry) ledger.Row {
	return ledger.Row{
		ID:                  e.ID,
		CreatedAt:           e.CreatedAt,
		Email:               e.Email,
		Name:                e.Name,
		Phone:               e.Phone,
		Address:             e.Address,
		SourceEventID:       e.SourceEventID,
		CustomerID:          e.CustomerID,
		SubscriptionID:      e.SubscriptionID,
		State:               e.FulfillmentState,
		InvitationToken:     e.InvitationToken,
		ExternalRecipientID: e.ExternalRecipientID,
		FulfillmentNote:     e.FulfillmentNote,
	}
}

func fromRow(r ledger.Row) models.LedgerEntry {
	state := r.State
	if state == "" {
		state = enums.FulfillmentStateUnfulfilled
	}
	return models.LedgerEntry{
		ID:                  r.ID,
		CreatedAt:           r.CreatedAt,
		Email:               r.Email,
		Name:                r.Name,
		Phone:               r.Phone,
		Address:             r.Address,
		SourceEventID:       r.SourceEventID,
		CustomerID:          r.CustomerID,
		SubscriptionID:      r.SubscriptionID,
		FulfillmentState:    state,
		InvitationToken:     r.InvitationToken,
		ExternalRecipientID: r.ExternalRecipientID,
		FulfillmentNote:     r.FulfillmentNote,
	}
}
