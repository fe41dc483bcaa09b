// Package migrate applies schema changes: versioned migration directories
// through golang-migrate, or a single SQL file through a store.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Outcome reports what Run did.
type Outcome struct {
	Version uint
	Dirty   bool
	// NoChange is set when the database was already at the target.
	NoChange bool
}

// Run applies migrations from dir (e.g. file://migrations) to the Postgres
// database at dsn. steps > 0 limits how many are applied; 0 means all.
func Run(dir, dsn string, direction Direction, steps int) (Outcome, error) {
	var out Outcome
	if dir == "" {
		dir = "file://migrations"
	}
	if !strings.Contains(dir, "://") {
		dir = "file://" + dir
	}
	if steps < 0 {
		return out, fmt.Errorf("steps must be >= 0, got %d", steps)
	}
	if direction != Up && direction != Down {
		return out, fmt.Errorf("unknown direction: %s", direction)
	}

	m, err := migrate.New(dir, dsn)
	if err != nil {
		return out, fmt.Errorf("failed to open migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case Up:
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case Down:
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	}

	if errors.Is(err, migrate.ErrNoChange) {
		out.NoChange = true
		err = nil
	}
	if err != nil {
		return out, fmt.Errorf("failed to migrate %s: %w", direction, err)
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return out, fmt.Errorf("failed to read migration version: %w", err)
	}
	out.Version, out.Dirty = v, dirty
	return out, nil
}

// Execer runs raw SQL. db.Store satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string) error
}

// ApplyFile executes the SQL file at path as one batch.
func ApplyFile(ctx context.Context, db Execer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return fmt.Errorf("migration file %s is empty", path)
	}
	if err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to apply %s: %w", path, err)
	}
	return nil
}
