package ledger

import (
	"errors"
	"testing"

	"github.com/angelmondragon/invite-ledger/pkg/enums"
)

func TestRowValidateTokenInvariant(t *testing.T) {
	base := Row{Email: "a@x.com", SourceEventID: "evt_1", State: enums.FulfillmentStateUnfulfilled}
	if err := base.Validate(); err != nil {
		t.Fatalf("unfulfilled row without token should be valid: %v", err)
	}

	withToken := base
	withToken.InvitationToken = "abc"
	if err := withToken.Validate(); err == nil {
		t.Fatal("unfulfilled row with token must be invalid")
	}

	fulfilled := base
	fulfilled.State = enums.FulfillmentStateFulfilled
	if err := fulfilled.Validate(); err == nil {
		t.Fatal("fulfilled row without token must be invalid")
	}
	fulfilled.InvitationToken = "abc"
	if err := fulfilled.Validate(); err != nil {
		t.Fatalf("fulfilled row with token should be valid: %v", err)
	}
}

func TestFulfillmentUpdateIsOneWay(t *testing.T) {
	back := FulfillmentUpdate{State: enums.FulfillmentStateUnfulfilled, InvitationToken: "abc"}
	if err := back.Validate(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if err := NewFulfillmentUpdate("", "note").Validate(); err == nil {
		t.Fatal("expected token to be required")
	}
	if err := NewFulfillmentUpdate("abc", "").Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSelectUnfulfilledSkipsMalformedRows(t *testing.T) {
	rows := []Row{
		{ID: 2, Email: "", State: enums.FulfillmentStateUnfulfilled},
		{ID: 3, Email: "a@x.com", State: enums.FulfillmentStateFulfilled, InvitationToken: "t"},
		{ID: 4, Email: "b@x.com", State: enums.FulfillmentStateUnfulfilled},
		{ID: 5, Email: "c@x.com", State: enums.FulfillmentStateUnfulfilled},
		{ID: 6, Email: "d@x.com", State: enums.FulfillmentStateUnfulfilled},
	}
	got := SelectUnfulfilled(rows, 2)
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 5 {
		t.Fatalf("unexpected selection %+v", got)
	}
	if SelectUnfulfilled(rows, 0) != nil {
		t.Fatal("zero limit must select nothing")
	}
}
