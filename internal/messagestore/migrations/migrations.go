// Package migrations owns the schema of the SQLite message store.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Table records the applied schema version inside the store database.
const Table = "tgfs_schema_migrations"

//go:embed files/*.sql
var files embed.FS

// Status describes a database schema relative to the embedded migrations.
type Status struct {
	Current uint // zero when no migration was ever applied
	Latest  uint
	Dirty   bool
}

// Err is nil when the schema is usable by this binary.
func (s Status) Err() error {
	switch {
	case s.Dirty:
		return fmt.Errorf("schema is dirty at version %d: a migration failed part way", s.Current)
	case s.Current == 0:
		return errors.New("schema not initialized")
	case s.Current < s.Latest:
		return fmt.Errorf("schema at version %d, %d migrations behind %d", s.Current, s.Latest-s.Current, s.Latest)
	case s.Current > s.Latest:
		return fmt.Errorf("schema version %d is newer than this binary (%d)", s.Current, s.Latest)
	}
	return nil
}

// Check reads the schema version of db.
func Check(db *sql.DB) (Status, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return Status{}, fmt.Errorf("reading migrations: %w", err)
	}
	defer src.Close()

	latest, err := LatestVersion(src)
	if err != nil {
		return Status{}, fmt.Errorf("reading migrations: %w", err)
	}

	m, err := open(db)
	if err != nil {
		return Status{}, err
	}
	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	return Status{Current: current, Latest: latest, Dirty: dirty}, nil
}

// Up applies pending migrations and verifies the result.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	st, err := Check(db)
	if err != nil {
		return err
	}
	return st.Err()
}

// open wraps db without taking ownership: the returned Migrate is never
// closed, since that would close db.
func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: Table})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing sqlite migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing migrations: %w", err)
	}
	return m, nil
}

// LatestVersion walks src to its last migration.
func LatestVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
