package db

import (
	"context"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteStore opens a SQLite database file. Use ":memory:" for a
// throwaway database; the pool is pinned to one connection so every
// statement sees the same in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	st, err := openSQL(ctx, "sqlite3", path, SQLite)
	if err != nil {
		return nil, err
	}
	st.db.SetMaxOpenConns(1)
	return st, nil
}
