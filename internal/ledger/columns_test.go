package ledger

import (
	"testing"
	"time"

	"github.com/angelmondragon/invite-ledger/pkg/enums"
)

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{0: "A", 8: "I", 11: "L", 25: "Z", 26: "AA", 27: "AB"}
	for idx, want := range cases {
		if got := ColumnLetter(idx); got != want {
			t.Fatalf("ColumnLetter(%d) = %q, want %q", idx, got, want)
		}
	}
}

func TestRanges(t *testing.T) {
	cases := map[string]string{
		ReadRange("Data"):           "'Data'!A:L",
		ReadRange("Sales Data"):     "'Sales Data'!A:L",
		AppendRange("Bob's Ledger"): "'Bob''s Ledger'!A1",
		HeaderRange("Data"):         "'Data'!A1:L1",
		RowRange("Data", 9):         "'Data'!A9:L9",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected range %q, got %q", want, got)
		}
	}
	stateAndToken, note := FulfillmentRanges("Sales Data", 7)
	if stateAndToken != "'Sales Data'!I7:J7" {
		t.Fatalf("unexpected state range %q", stateAndToken)
	}
	if note != "'Sales Data'!L7" {
		t.Fatalf("unexpected note range %q", note)
	}
}

func TestDecodeKeyIgnoresStateCell(t *testing.T) {
	cells := []any{"", " a@x.com ", "", "", "", "evt_1", "", "", "yes"}
	if got := DecodeKey(cells); got != NewKey("a@x.com", "evt_1") {
		t.Fatalf("unexpected key %+v", got)
	}
}

func TestEncodeRowDefaultsToUnfulfilled(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	cells := EncodeRow(Row{CreatedAt: created, Email: "a@x.com", SourceEventID: "evt_1"})
	if len(cells) != ColumnCount {
		t.Fatalf("expected %d cells, got %d", ColumnCount, len(cells))
	}
	if cells[ColFulfilled] != "FALSE" {
		t.Fatalf("expected FALSE state cell, got %v", cells[ColFulfilled])
	}
	if cells[ColCreatedAt] != "2026-03-01T09:30:00Z" {
		t.Fatalf("unexpected created_at cell %v", cells[ColCreatedAt])
	}
	if cells[ColInvitationToken] != "" {
		t.Fatalf("new rows must not carry a token")
	}
}

func TestDecodeRowHandlesLegacyShortRows(t *testing.T) {
	// Eleven columns, blank state cell, no note column.
	cells := []any{"2026/3/1 18:30:00", " a@x.com ", "Ann", "", "", "cs_1", "cus_1", "", "", "", "1234"}
	row, err := DecodeRow(2, cells)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if row.ID != 2 || row.Email != "a@x.com" || row.SourceEventID != "cs_1" {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.State != enums.FulfillmentStateUnfulfilled {
		t.Fatalf("blank state must decode as unfulfilled, got %s", row.State)
	}
	if row.ExternalRecipientID != "1234" || row.FulfillmentNote != "" {
		t.Fatalf("unexpected tail columns %+v", row)
	}
	if row.CreatedAt.IsZero() {
		t.Fatalf("expected legacy timestamp to parse")
	}
}

func TestDecodeRowBooleanCells(t *testing.T) {
	row, err := DecodeRow(3, []any{"", "b@x.com", "", "", "", "cs_2", "", "", true, "tok"})
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if !row.Fulfilled() || row.InvitationToken != "tok" {
		t.Fatalf("expected fulfilled row, got %+v", row)
	}
}

func TestDecodeRowRejectsUnknownState(t *testing.T) {
	if _, err := DecodeRow(4, []any{"", "c@x.com", "", "", "", "cs_3", "", "", "pending"}); err == nil {
		t.Fatal("expected error for unknown state cell")
	}
}

func TestCheckHeader(t *testing.T) {
	if err := CheckHeader(Header()); err != nil {
		t.Fatalf("current header rejected: %v", err)
	}
	legacy := []any{"created_at", "email", "name", "phone", "address", "stripe_session_id",
		"stripe_customer_id", "stripe_subscription_id", "invite_sent", "invite_code", "discord_id"}
	if err := CheckHeader(legacy); err != nil {
		t.Fatalf("legacy header rejected: %v", err)
	}
	broken := []any{"created_at", "", "name", "phone", "address", "source_event_id",
		"customer_id", "subscription_id", "fulfilled", "invitation_token", "external_recipient_id"}
	if err := CheckHeader(broken); err == nil {
		t.Fatal("expected blank email header to be rejected")
	}
	if err := CheckHeader([]any{"created_at", "email"}); err == nil {
		t.Fatal("expected short header to be rejected")
	}
}
