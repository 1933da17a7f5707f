// Package sqlite provides a relational store.Migrator reference
// implementation backed by github.com/pressly/goose/v3 and the pure-Go
// modernc.org/sqlite driver. Nothing else in the kernel is SQL-shaped
// today, so this package exists to give the migration story a concrete,
// runnable target rather than leaving store.Migrator unimplemented.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/spacebot/kernel/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded SQL migrations to a sqlite database file.
type Migrator struct {
	db *sql.DB
}

var _ store.Migrator = (*Migrator)(nil)

// Open returns a Migrator for the sqlite database at path ("file::memory:"
// is accepted for tests).
func Open(path string) (*Migrator, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("sqlite: set dialect: %w", err)
	}
	return &Migrator{db: db}, nil
}

func (m *Migrator) Up(ctx context.Context) error {
	return goose.UpContext(ctx, m.db, "migrations")
}

func (m *Migrator) Status(ctx context.Context) ([]store.Migration, error) {
	// goose does not expose a typed status listing, so this walks its
	// migration source list directly.
	migrations, err := goose.CollectMigrations("migrations", 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("sqlite: collect migrations: %w", err)
	}
	out := make([]store.Migration, 0, len(migrations))
	for _, mg := range migrations {
		out = append(out, store.Migration{Version: mg.Version, Description: mg.Source})
	}
	return out, nil
}

func (m *Migrator) Close() error { return m.db.Close() }
