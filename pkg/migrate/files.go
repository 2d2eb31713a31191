package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"

	// ledgerUniqueIndex backs the (email, source_event_id) idempotency key.
	ledgerUniqueIndex = "ux_invite_ledger_email_source_event"
)

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)

	// A forward migration may add columns to the ledger but must never hand a
	// fulfilled invite back to the dispatch worker.
	resetsFulfillmentRe = regexp.MustCompile(`(?is)update\s+invite_ledger\b.*fulfillment_state\s*=\s*'unfulfilled'`)
	dropsLedgerKeyRe    = regexp.MustCompile(`(?i)drop\s+index\s+(if\s+exists\s+)?` + ledgerUniqueIndex + `\b`)
)

// ValidateDir checks every .sql file in dir: the YYYYMMDDHHMMSS_name.sql
// naming, unique versions, both goose sections, and that no Up section
// resets fulfilled rows or drops the ledger's idempotency key.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	versions := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := versions[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		versions[m[1]] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %q: %w", name, err)
		}
		if err := checkLedgerMigration(string(body)); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func checkLedgerMigration(sql string) error {
	up := strings.Index(sql, upMarker)
	if up < 0 {
		return fmt.Errorf("missing %q", upMarker)
	}
	down := strings.Index(sql, downMarker)
	if down < 0 {
		return fmt.Errorf("missing %q", downMarker)
	}
	if down < up {
		return fmt.Errorf("%q must come before %q", upMarker, downMarker)
	}
	upSection := sql[up:down]
	if resetsFulfillmentRe.MatchString(upSection) {
		return fmt.Errorf("up section resets fulfilled invites to UNFULFILLED")
	}
	if dropsLedgerKeyRe.MatchString(upSection) {
		return fmt.Errorf("up section drops %s", ledgerUniqueIndex)
	}
	return nil
}

// CreateSQLMigration writes <dir>/<version>_<name>.sql with a goose skeleton
// against invite_ledger, versioned by now in UTC.
func CreateSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", now.UTC().Format("20060102150405"), slug))
	body := fmt.Sprintf(`%s
-- +goose StatementBegin
-- %s: ALTER TABLE invite_ledger ...
-- +goose StatementEnd

%s
-- +goose StatementBegin
-- revert %s
-- +goose StatementEnd
`, upMarker, slug, downMarker, slug)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}
