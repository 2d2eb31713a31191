package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/db"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

// MaybeRunDev applies pending Postgres migrations at boot when running in dev
// with INVITES_DB_AUTO_MIGRATE set. Other backends are left alone.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.DB.AutoMigrate || client.Backend() != config.LedgerBackendPostgres {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	migrator, err := NewMigrator(sqlDB, DefaultDir, logg)
	if err != nil {
		return err
	}
	return migrator.Up(logg.WithField(ctx, "env", cfg.App.Env))
}
