package ledger

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// runMigrations brings db up to the latest embedded schema for backend. It
// is idempotent: a fresh database and an already-current one both succeed.
func runMigrations(db *sql.DB, backend Backend) error {
	var (
		driver     database.Driver
		driverName string
		dir        string
		err        error
	)

	switch backend {
	case BackendSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
		driverName, dir = "sqlite", "migrations/sqlite"
	case BackendPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
		driverName, dir = "postgres", "migrations/postgres"
	default:
		return fmt.Errorf("ledger: unknown backend %d", backend)
	}
	if err != nil {
		return fmt.Errorf("ledger: opening migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("ledger: loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		return fmt.Errorf("ledger: preparing migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("ledger: running migrations: %w", err)
	}
	return nil
}
