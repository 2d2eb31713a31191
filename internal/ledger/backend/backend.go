// Package backend opens the ledger store selected by INVITES_LEDGER_BACKEND.
package backend

import (
	"context"
	"fmt"

	"github.com/angelmondragon/invite-ledger/internal/ledger"
	sheetstore "github.com/angelmondragon/invite-ledger/internal/ledger/sheets"
	"github.com/angelmondragon/invite-ledger/internal/ledger/sqlstore"
	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/db"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/migrate"
	"github.com/angelmondragon/invite-ledger/pkg/sheets"
)

type pinger interface {
	Ping(context.Context) error
}

// Ledger bundles the opened store with the handle that owns its connection.
type Ledger struct {
	Store   ledger.Store
	Backend string

	pinger pinger
	closer func() error
}

// Ping checks the underlying connection for readiness probes.
func (l *Ledger) Ping(ctx context.Context) error {
	if l == nil || l.pinger == nil {
		return fmt.Errorf("ledger not initialized")
	}
	return l.pinger.Ping(ctx)
}

func (l *Ledger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer()
}

// Open connects to the configured backend. Sheets ledgers get their header
// verified (or written when the tab is empty); sqlite ledgers get their schema;
// postgres ledgers are migrated only in dev with auto-migrate on.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Ledger, error) {
	if cfg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfigurationMissing, "config is required")
	}

	name := cfg.Ledger.Normalized()
	switch name {
	case config.LedgerBackendSheets:
		return openSheets(ctx, cfg, logg)
	case config.LedgerBackendPostgres, config.LedgerBackendSQLite:
		return openSQL(ctx, cfg, name, logg)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeConfigurationMissing, fmt.Sprintf("unsupported ledger backend %q", cfg.Ledger.Backend))
	}
}

func openSheets(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Ledger, error) {
	client, err := sheets.NewClient(ctx, cfg.Sheets, logg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "open sheets ledger")
	}
	store, err := sheetstore.NewStore(client, logg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfigurationMissing, err, "sheets ledger")
	}
	if err := store.EnsureHeader(ctx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "verify ledger header")
	}
	return &Ledger{Store: store, Backend: config.LedgerBackendSheets, pinger: client}, nil
}

func openSQL(ctx context.Context, cfg *config.Config, name string, logg *logger.Logger) (*Ledger, error) {
	client, err := db.New(ctx, cfg.DB, name, logg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "open sql ledger")
	}

	store, err := sqlstore.NewStore(client.DB())
	if err != nil {
		_ = client.Close()
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sql ledger")
	}

	switch name {
	case config.LedgerBackendSQLite:
		err = store.EnsureSchema(ctx)
	case config.LedgerBackendPostgres:
		err = migrate.MaybeRunDev(ctx, cfg, logg, client)
	}
	if err != nil {
		_ = client.Close()
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "prepare ledger schema")
	}

	return &Ledger{Store: store, Backend: name, pinger: client, closer: client.Close}, nil
}
