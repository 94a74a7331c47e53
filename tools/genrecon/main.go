// Command genrecon runs ingestion, reconciliation and coverage jobs against the
// windgen database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	analyticspostgres "windgen-cloud/internal/analytics/infrastructure/postgres"
	masterapp "windgen-cloud/internal/masterdata/application"
	masterpostgres "windgen-cloud/internal/masterdata/infrastructure/postgres"
	"windgen-cloud/internal/migrations"
	reconcileapp "windgen-cloud/internal/reconcile/application"
	telemetryapp "windgen-cloud/internal/telemetry/application"
	telemetrypostgres "windgen-cloud/internal/telemetry/infrastructure/postgres"
)

// app holds the services a command works with.
type app struct {
	cfg       reconcileapp.Config
	logger    *log.Logger
	ingest    *telemetryapp.IngestService
	reconcile *reconcileapp.Service
	units     *masterapp.UnitDirectoryService
	migrate   func() (int64, error)
}

type builder func(ctx context.Context) (*app, func(), error)

func main() {
	if err := newRootCmd(postgresApp).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func postgresApp(ctx context.Context) (*app, func(), error) {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	cfg, err := reconcileapp.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	cleanup := func() { _ = db.Close() }

	precedence, err := cfg.ParsedPrecedence()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	rawRepo := telemetrypostgres.NewRawRepository(db, telemetrypostgres.WithPrecedence(precedence))
	canonicalRepo := analyticspostgres.NewCanonicalRepository(db, analyticspostgres.WithMaxCapacityFactor(cfg.MaxCapacityFactor))
	directory := masterpostgres.NewUnitDirectoryRepository(db)

	a, err := newApp(cfg, logger, rawRepo, canonicalRepo, directory)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	a.migrate = func() (int64, error) {
		if err := migrations.Up(db); err != nil {
			return 0, err
		}
		return migrations.Version(db)
	}
	return a, cleanup, nil
}
