package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/invite-ledger/internal/ledger"
	"github.com/angelmondragon/invite-ledger/internal/ledger/ledgertest"
	"github.com/angelmondragon/invite-ledger/internal/notifications"
	"github.com/angelmondragon/invite-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

const testBaseURL = "https://club.example.com/join"

var hexToken = regexp.MustCompile(`^[0-9a-f]{32}$`)

type recordingNotifier struct {
	sent   []notifications.Invitation
	failTo map[string]error
}

func (n *recordingNotifier) Send(ctx context.Context, inv notifications.Invitation) (notifications.Receipt, error) {
	n.sent = append(n.sent, inv)
	if err, ok := n.failTo[inv.To]; ok {
		return notifications.Receipt{}, err
	}
	return notifications.Receipt{Provider: "stub", MessageID: fmt.Sprintf("msg-%d", len(n.sent))}, nil
}

type statusCounter struct {
	statuses map[string]int
	batches  int
}

func (c *statusCounter) IncDispatch(status string)     { c.statuses[status]++ }
func (c *statusCounter) ObserveBatch(d time.Duration) { c.batches++ }

func newTestWorker(t *testing.T, store ledger.Store, notifier notifications.Notifier, mutate func(*WorkerParams)) (*Worker, *statusCounter) {
	t.Helper()
	counter := &statusCounter{statuses: map[string]int{}}
	params := WorkerParams{
		Store:     store,
		Notifier:  notifier,
		BaseURL:   testBaseURL,
		MaxPerRun: 20,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Metrics:   counter,
		Clock:     func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&params)
	}
	w, err := NewWorker(params)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w, counter
}

func unfulfilled(n int) []ledger.Row {
	rows := make([]ledger.Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, ledger.Row{
			Email:         fmt.Sprintf("buyer%d@example.com", i),
			Name:          fmt.Sprintf("Buyer %d", i),
			SourceEventID: fmt.Sprintf("cs_%d", i),
			State:         enums.FulfillmentStateUnfulfilled,
		})
	}
	return rows
}

func TestRunBatchWorkedExample(t *testing.T) {
	store := &ledgertest.Memory{}
	seeded := store.Seed(ledger.Row{Email: "a@x.com", Name: "Ada", SourceEventID: "cs_1", State: enums.FulfillmentStateUnfulfilled})
	notifier := &recordingNotifier{}
	w, _ := newTestWorker(t, store, notifier, nil)

	res, err := w.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 1 || res.Fulfilled != 1 || len(res.Results) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	got := res.Results[0]
	if got.Status != StatusFulfilled || !hexToken.MatchString(got.Token) {
		t.Fatalf("expected fulfilled with 32-hex token, got %+v", got)
	}

	row, _ := store.Row(seeded[0].ID)
	if !row.Fulfilled() || row.InvitationToken != got.Token {
		t.Fatalf("row not marked with reported token: %+v", row)
	}
	if !strings.Contains(row.FulfillmentNote, "msg-1") {
		t.Fatalf("note should carry provider message id, got %q", row.FulfillmentNote)
	}
	if err := row.Validate(); err != nil {
		t.Fatalf("fulfilled row violates invariants: %v", err)
	}
	if notifier.sent[0].Reference != testBaseURL+"?code="+got.Token {
		t.Fatalf("unexpected reference %s", notifier.sent[0].Reference)
	}

	res, err = w.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Processed != 0 || len(notifier.sent) != 1 {
		t.Fatalf("second run must select nothing, got %+v", res)
	}
}

func TestRunBatchRespectsCap(t *testing.T) {
	store := &ledgertest.Memory{}
	store.Seed(unfulfilled(25)...)
	notifier := &recordingNotifier{}
	w, _ := newTestWorker(t, store, notifier, nil)

	res, err := w.RunBatch(context.Background(), 20)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 20 || res.Fulfilled != 20 || len(notifier.sent) != 20 {
		t.Fatalf("expected 20 processed, got %+v", res)
	}
	if notifier.sent[0].To != "buyer0@example.com" || notifier.sent[19].To != "buyer19@example.com" {
		t.Fatal("rows must be processed in row order")
	}

	res, err = w.RunBatch(context.Background(), 20)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 5 || res.Fulfilled != 5 {
		t.Fatalf("expected remaining 5, got %+v", res)
	}
}

func TestRunBatchClampsLimitToMaxPerRun(t *testing.T) {
	store := &ledgertest.Memory{}
	store.Seed(unfulfilled(10)...)
	w, _ := newTestWorker(t, store, &recordingNotifier{}, func(p *WorkerParams) { p.MaxPerRun = 3 })

	res, err := w.RunBatch(context.Background(), 50)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 3 {
		t.Fatalf("expected cap of 3, got %d", res.Processed)
	}
}

func TestRunBatchSkipsRowsWithoutEmail(t *testing.T) {
	store := &ledgertest.Memory{}
	rows := unfulfilled(3)
	rows[0].Email = ""
	store.Seed(rows...)
	w, _ := newTestWorker(t, store, &recordingNotifier{}, nil)

	res, err := w.RunBatch(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Results[0].Email != "buyer1@example.com" {
		t.Fatalf("row without email must not count toward the limit: %+v", res)
	}
}

func TestRunBatchIsolatesNotifierFailures(t *testing.T) {
	store := &ledgertest.Memory{}
	seeded := store.Seed(unfulfilled(3)...)
	notifier := &recordingNotifier{failTo: map[string]error{"buyer1@example.com": errors.New("mailbox rejected")}}
	w, counter := newTestWorker(t, store, notifier, nil)

	res, err := w.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 3 || res.Fulfilled != 2 {
		t.Fatalf("expected 3 processed / 2 fulfilled, got %+v", res)
	}
	failed := res.Results[1]
	if failed.Status != StatusNotifierFailed || !strings.Contains(failed.Error, "mailbox rejected") {
		t.Fatalf("unexpected failed row result %+v", failed)
	}

	row, _ := store.Row(seeded[1].ID)
	if row.Fulfilled() || row.InvitationToken != "" {
		t.Fatalf("failed row must stay untouched: %+v", row)
	}
	for _, id := range []int64{seeded[0].ID, seeded[2].ID} {
		if r, _ := store.Row(id); !r.Fulfilled() {
			t.Fatalf("row %d should be fulfilled", id)
		}
	}
	if counter.statuses["fulfilled"] != 2 || counter.statuses["notifier_failed"] != 1 || counter.batches != 1 {
		t.Fatalf("unexpected metrics %+v", counter)
	}
}

func TestRunBatchDryRunHasNoSideEffects(t *testing.T) {
	store := &ledgertest.Memory{}
	store.Seed(unfulfilled(4)...)
	notifier := &recordingNotifier{}
	w, _ := newTestWorker(t, store, notifier, func(p *WorkerParams) { p.DryRun = true })

	res, err := w.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.DryRun || res.Processed != 4 || res.Fulfilled != 0 {
		t.Fatalf("unexpected dry run result %+v", res)
	}
	for _, r := range res.Results {
		if r.Status != StatusDryRunSkipped || !hexToken.MatchString(r.Token) {
			t.Fatalf("unexpected dry run row %+v", r)
		}
	}
	if len(notifier.sent) != 0 || len(store.Updates) != 0 {
		t.Fatal("dry run must not notify or write")
	}
}

func TestNewWorkerAllowsMissingNotifierOnlyInDryRun(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	_, err := NewWorker(WorkerParams{Store: &ledgertest.Memory{}, Logger: logg, BaseURL: testBaseURL})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConfigurationMissing) {
		t.Fatalf("expected CONFIGURATION_MISSING, got %v", err)
	}
	if _, err := NewWorker(WorkerParams{Store: &ledgertest.Memory{}, Logger: logg, BaseURL: testBaseURL, DryRun: true}); err != nil {
		t.Fatalf("dry run without notifier should be allowed: %v", err)
	}
	_, err = NewWorker(WorkerParams{Store: &ledgertest.Memory{}, Logger: logg, BaseURL: "/relative", DryRun: true})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConfigurationMissing) {
		t.Fatalf("expected CONFIGURATION_MISSING for relative base url, got %v", err)
	}
}

func TestRunBatchLedgerReadFailure(t *testing.T) {
	store := &ledgertest.Memory{ListErr: errors.New("sheets 503")}
	notifier := &recordingNotifier{}
	w, _ := newTestWorker(t, store, notifier, nil)

	_, err := w.RunBatch(context.Background(), 0)
	if !pkgerrors.HasCode(err, pkgerrors.CodeLedgerUnavailable) {
		t.Fatalf("expected LEDGER_UNAVAILABLE, got %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("no notification may be sent when the ledger cannot be read")
	}
}

func TestRunBatchMarkFailureContinues(t *testing.T) {
	store := &ledgertest.Memory{}
	seeded := store.Seed(unfulfilled(2)...)
	store.UpdateErr = map[int64]error{seeded[0].ID: errors.New("quota exceeded")}
	notifier := &recordingNotifier{}
	w, _ := newTestWorker(t, store, notifier, nil)

	res, err := w.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Results[0].Status != StatusMarkFailed || res.Results[1].Status != StatusFulfilled {
		t.Fatalf("unexpected statuses %+v", res.Results)
	}
	if res.Fulfilled != 1 || len(notifier.sent) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if row, _ := store.Row(seeded[0].ID); row.Fulfilled() {
		t.Fatal("row whose mark failed must remain unfulfilled")
	}
}

func TestRunBatchTokensAreFreshPerRow(t *testing.T) {
	store := &ledgertest.Memory{}
	store.Seed(unfulfilled(5)...)
	w, _ := newTestWorker(t, store, &recordingNotifier{}, nil)

	res, err := w.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, r := range res.Results {
		if seen[r.Token] {
			t.Fatalf("duplicate token %s", r.Token)
		}
		seen[r.Token] = true
	}
}

type failingTokens struct{}

func (failingTokens) New() (string, error) { return "", errors.New("entropy unavailable") }

func TestRunBatchTokenFailureSkipsRow(t *testing.T) {
	store := &ledgertest.Memory{}
	store.Seed(unfulfilled(1)...)
	notifier := &recordingNotifier{}
	w, _ := newTestWorker(t, store, notifier, func(p *WorkerParams) { p.Tokens = failingTokens{} })

	res, err := w.RunBatch(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Results[0].Status != StatusTokenFailed || len(notifier.sent) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}
