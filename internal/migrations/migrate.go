// Package migrations applies the embedded Postgres schema.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

func configure() error {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// Up runs all pending migrations.
func Up(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrations: nil db")
	}
	if err := configure(); err != nil {
		return err
	}
	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func Version(db *sql.DB) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("migrations: nil db")
	}
	if err := configure(); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
