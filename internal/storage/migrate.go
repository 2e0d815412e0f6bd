package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// RunMigrations brings the expenses table up to date. It uses its own
// connection because the migrate drivers close the handle they are given.
func RunMigrations(driver, dsn string) error {
	migrateDB, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	var dbDriver database.Driver
	switch driver {
	case DriverSQLite:
		dbDriver, err = migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	case DriverMySQL:
		dbDriver, err = migratemysql.WithInstance(migrateDB, &migratemysql.Config{})
	default:
		return fmt.Errorf("unsupported driver for migrations: %s", driver)
	}
	if err != nil {
		return fmt.Errorf("create %s migrate driver: %w", driver, err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
