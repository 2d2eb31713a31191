package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/invite-ledger/internal/ledger/sheets"
	"github.com/angelmondragon/invite-ledger/internal/ledger/sqlstore"
	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/db"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/migrate"
	sheetsclient "github.com/angelmondragon/invite-ledger/pkg/sheets"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	backend := cfg.Ledger.Normalized()
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"cmd":     *cmd,
		"dir":     *dir,
		"backend": backend,
	})

	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name, time.Now())
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	switch backend {
	case config.LedgerBackendSheets:
		if *cmd != "up" {
			exitf("-cmd=%s is not supported for the sheets ledger", *cmd)
		}
		client, err := sheetsclient.NewClient(ctx, cfg.Sheets, logg)
		requireResource(ctx, logg, "sheets", err)
		store, err := sheets.NewStore(client, logg)
		requireResource(ctx, logg, "sheets ledger", err)
		requireResource(ctx, logg, "sheets header", store.EnsureHeader(ctx))
		logg.Info(ctx, "ledger header verified")
		return

	case config.LedgerBackendSQLite:
		if *cmd != "up" {
			exitf("-cmd=%s is not supported for the sqlite ledger", *cmd)
		}
		dbClient, err := db.New(ctx, cfg.DB, backend, logg)
		requireResource(ctx, logg, "database", err)
		defer dbClient.Close()
		store, err := sqlstore.NewStore(dbClient.DB())
		requireResource(ctx, logg, "sql ledger", err)
		requireResource(ctx, logg, "sqlite schema", store.EnsureSchema(ctx))
		logg.Info(ctx, "ledger schema applied")
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, backend, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	migrator, err := migrate.NewMigrator(sqlDB, *dir, logg)
	requireResource(ctx, logg, "ledger migrations", err)

	switch *cmd {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	case "status":
		var pending int
		pending, err = migrator.Status(ctx)
		if err == nil {
			fmt.Printf("%d pending ledger migration(s)\n", pending)
		}
	case "version":
		if *version == "" {
			exitf("missing -version for version command")
		}
		err = migrator.To(ctx, *version)
	default:
		exitf("unknown -cmd value: %s", *cmd)
	}
	if err != nil {
		exitf("migrate %s failed: %v", *cmd, err)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
