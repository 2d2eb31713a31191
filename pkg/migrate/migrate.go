package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

const DefaultDir = "pkg/migrate/migrations"

// embedded ships the ledger schema inside every binary, so the API and the
// dispatch worker can migrate in dev without the source tree.
//
//go:embed migrations/*.sql
var embedded embed.FS

// Migrator applies the Postgres ledger schema. The sqlite backend builds its
// schema through the store instead.
type Migrator struct {
	provider *goose.Provider
	logg     *logger.Logger
}

// NewMigrator reads migrations from dir, or from the embedded copy when dir is
// DefaultDir and the directory is not on disk.
func NewMigrator(db *sql.DB, dir string, logg *logger.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	source, err := sourceFS(dir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, source)
	if err != nil {
		return nil, fmt.Errorf("load ledger migrations: %w", err)
	}
	return &Migrator{provider: provider, logg: logg}, nil
}

func sourceFS(dir string) (fs.FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return os.DirFS(dir), nil
	}
	if filepath.Clean(dir) != filepath.Clean(DefaultDir) {
		return nil, fmt.Errorf("migration dir %q not found", dir)
	}
	return fs.Sub(embedded, "migrations")
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	m.report(ctx, "applied", results)
	if err != nil {
		return fmt.Errorf("migrate ledger up: %w", err)
	}
	return nil
}

// Down rolls back the latest migration.
func (m *Migrator) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if result != nil {
		m.report(ctx, "rolled back", []*goose.MigrationResult{result})
	}
	if err != nil {
		return fmt.Errorf("migrate ledger down: %w", err)
	}
	return nil
}

// To moves the schema up or down to the YYYYMMDDHHMMSS version.
func (m *Migrator) To(ctx context.Context, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", version, err)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read ledger schema version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = m.provider.UpTo(ctx, target)
	default:
		results, err = m.provider.DownTo(ctx, target)
	}
	m.report(ctx, fmt.Sprintf("migrated %d -> %d", current, target), results)
	if err != nil {
		return fmt.Errorf("migrate ledger to %d: %w", target, err)
	}
	return nil
}

// Status logs each migration with its state and returns the pending count.
func (m *Migrator) Status(ctx context.Context) (int, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger migration status: %w", err)
	}
	pending := 0
	for _, st := range statuses {
		if st.State == goose.StatePending {
			pending++
		}
		m.logg.Info(m.logg.WithFields(ctx, map[string]any{
			"version":    st.Source.Version,
			"file":       filepath.Base(st.Source.Path),
			"state":      string(st.State),
			"applied_at": st.AppliedAt,
		}), "ledger migration")
	}
	return pending, nil
}

func (m *Migrator) report(ctx context.Context, action string, results []*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		m.logg.Info(m.logg.WithFields(ctx, map[string]any{
			"version":     r.Source.Version,
			"file":        filepath.Base(r.Source.Path),
			"duration_ms": r.Duration.Milliseconds(),
		}), "ledger migration "+action)
	}
}
