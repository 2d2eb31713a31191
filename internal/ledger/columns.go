package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/invite-ledger/pkg/enums"
)

// SchemaVersion identifies the positional layout below. Version 1 was the
// 11 column layout without a fulfillment note.
const SchemaVersion = 2

// Column positions inside a ledger row. This file is the only place that knows them.
const (
	ColCreatedAt = iota
	ColEmail
	ColName
	ColPhone
	ColAddress
	ColSourceEventID
	ColCustomerID
	ColSubscriptionID
	ColFulfilled
	ColInvitationToken
	ColExternalRecipientID
	ColFulfillmentNote

	ColumnCount
)

// HeaderRows is the number of rows above the first data row.
const HeaderRows = 1

// FirstDataRow is the row identity of the first purchase.
const FirstDataRow = HeaderRows + 1

const createdAtLayout = time.RFC3339

var columnNames = [ColumnCount]string{
	"created_at",
	"email",
	"name",
	"phone",
	"address",
	"source_event_id",
	"customer_id",
	"subscription_id",
	"fulfilled",
	"invitation_token",
	"external_recipient_id",
	"fulfillment_note",
}

// Older sheets were created with processor specific names.
var legacyColumnNames = map[int]string{
	ColSourceEventID:       "stripe_session_id",
	ColCustomerID:          "stripe_customer_id",
	ColSubscriptionID:      "stripe_subscription_id",
	ColFulfilled:           "invite_sent",
	ColInvitationToken:     "invite_code",
	ColExternalRecipientID: "discord_id",
}

// Header returns the header row for an empty ledger.
func Header() []any {
	out := make([]any, ColumnCount)
	for i, name := range columnNames {
		out[i] = name
	}
	return out
}

// CheckHeader verifies that an existing header row matches the layout. The
// note column may be absent on version 1 sheets.
func CheckHeader(cells []any) error {
	if len(cells) < ColFulfillmentNote {
		return fmt.Errorf("ledger header has %d columns, need at least %d", len(cells), ColFulfillmentNote)
	}
	for i := 0; i < len(cells) && i < ColumnCount; i++ {
		got := strings.ToLower(strings.TrimSpace(cellString(cells, i)))
		if got == columnNames[i] {
			continue
		}
		if legacy, ok := legacyColumnNames[i]; ok && got == legacy {
			continue
		}
		return fmt.Errorf("ledger header column %s is %q, expected %q", ColumnLetter(i), got, columnNames[i])
	}
	return nil
}

// ColumnLetter converts a zero based column index to A1 notation.
func ColumnLetter(idx int) string {
	letters := ""
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		letters = string(rune('A'+(n-1)%26)) + letters
	}
	return letters
}

// QuoteSheet renders a tab name for A1 notation. The name is always quoted so
// spaces and punctuation survive; embedded quotes are doubled.
func QuoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// ReadRange covers every ledger column of a sheet.
func ReadRange(sheet string) string {
	return fmt.Sprintf("%s!%s:%s", QuoteSheet(sheet), ColumnLetter(ColCreatedAt), ColumnLetter(ColumnCount-1))
}

// HeaderRange covers the header row.
func HeaderRange(sheet string) string {
	return RowRange(sheet, HeaderRows)
}

// RowRange covers every ledger column of one sheet row.
func RowRange(sheet string, id int64) string {
	last := ColumnLetter(ColumnCount - 1)
	return fmt.Sprintf("%s!A%d:%s%d", QuoteSheet(sheet), id, last, id)
}

// AppendRange anchors appends at the top-left of the table.
func AppendRange(sheet string) string {
	return QuoteSheet(sheet) + "!A1"
}

// FulfillmentRanges returns the two cell ranges a fulfillment writes. The
// external recipient column between them is left untouched.
func FulfillmentRanges(sheet string, id int64) (stateAndToken, note string) {
	quoted := QuoteSheet(sheet)
	stateAndToken = fmt.Sprintf("%s!%s%d:%s%d", quoted,
		ColumnLetter(ColFulfilled), id, ColumnLetter(ColInvitationToken), id)
	note = fmt.Sprintf("%s!%s%d", quoted, ColumnLetter(ColFulfillmentNote), id)
	return stateAndToken, note
}

// EncodeRow renders a row in column order.
func EncodeRow(row Row) []any {
	state := row.State
	if state == "" {
		state = enums.FulfillmentStateUnfulfilled
	}
	out := make([]any, ColumnCount)
	out[ColCreatedAt] = formatCreatedAt(row.CreatedAt)
	out[ColEmail] = row.Email
	out[ColName] = row.Name
	out[ColPhone] = row.Phone
	out[ColAddress] = row.Address
	out[ColSourceEventID] = row.SourceEventID
	out[ColCustomerID] = row.CustomerID
	out[ColSubscriptionID] = row.SubscriptionID
	out[ColFulfilled] = state.Cell()
	out[ColInvitationToken] = row.InvitationToken
	out[ColExternalRecipientID] = row.ExternalRecipientID
	out[ColFulfillmentNote] = row.FulfillmentNote
	return out
}

// EncodeFulfillment renders the cells written by FulfillmentRanges.
func EncodeFulfillment(update FulfillmentUpdate) (stateAndToken []any, note []any) {
	return []any{update.State.Cell(), update.InvitationToken}, []any{update.Note}
}

// DecodeKey reads the dedup key cells without interpreting the rest of the row.
func DecodeKey(cells []any) Key {
	return NewKey(cellString(cells, ColEmail), cellString(cells, ColSourceEventID))
}

// DecodeRow maps positional cells to a Row. Short rows are padded with blanks.
func DecodeRow(id int64, cells []any) (Row, error) {
	state, err := enums.ParseFulfillmentCell(cellString(cells, ColFulfilled))
	if err != nil {
		return Row{}, fmt.Errorf("row %d: %w", id, err)
	}
	return Row{
		ID:                  id,
		CreatedAt:           parseCreatedAt(cellString(cells, ColCreatedAt)),
		Email:               strings.TrimSpace(cellString(cells, ColEmail)),
		Name:                strings.TrimSpace(cellString(cells, ColName)),
		Phone:               strings.TrimSpace(cellString(cells, ColPhone)),
		Address:             strings.TrimSpace(cellString(cells, ColAddress)),
		SourceEventID:       strings.TrimSpace(cellString(cells, ColSourceEventID)),
		CustomerID:          strings.TrimSpace(cellString(cells, ColCustomerID)),
		SubscriptionID:      strings.TrimSpace(cellString(cells, ColSubscriptionID)),
		State:               state,
		InvitationToken:     strings.TrimSpace(cellString(cells, ColInvitationToken)),
		ExternalRecipientID: strings.TrimSpace(cellString(cells, ColExternalRecipientID)),
		FulfillmentNote:     cellString(cells, ColFulfillmentNote),
	}, nil
}

// RowIdentity converts a zero based index into the values array (header at 0)
// to the 1-based sheet row number.
func RowIdentity(index int) int64 {
	return int64(index) + 1
}

func cellString(cells []any, idx int) string {
	if idx >= len(cells) || cells[idx] == nil {
		return ""
	}
	switch v := cells[idx].(type) {
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(v)
	}
}

func formatCreatedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(createdAtLayout)
}

var fallbackCreatedAtLayouts = []string{
	createdAtLayout,
	"2006/1/2 15:04:05",
	"2006-01-02 15:04:05",
}

func parseCreatedAt(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range fallbackCreatedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
