package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultMigrationsSource is the migrations directory relative to the
// working directory.
const DefaultMigrationsSource = "file://migrations"

// Migrate applies every pending up migration from source. It returns the
// resulting schema version.
func Migrate(databaseURL, source string) (uint, error) {
	if source == "" {
		source = DefaultMigrationsSource
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", upErr)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("migrations: no migrations found")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	}

	if errors.Is(upErr, migrate.ErrNoChange) {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}
	return version, nil
}
