package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tordrt/seedkit/internal/schema"
)

// SQLStore implements Store over database/sql for the SQLite and MySQL dialects
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an already opened database. Mostly useful in tests.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func openSQL(ctx context.Context, driver, dsn string, dialect Dialect) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) FetchColumn(ctx context.Context, table, column string, offset, limit int) ([]*string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.selectColumn(table, column), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			s := v.String
			out = append(out, &s)
		} else {
			out = append(out, nil)
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) Count(ctx context.Context, table string, preds ...Predicate) (int64, error) {
	query, args := s.dialect.count(table, preds)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) Insert(ctx context.Context, table string, rows []map[string]any) (int64, error) {
	return s.Upsert(ctx, table, rows, Conflict{})
}

func (s *SQLStore) Upsert(ctx context.Context, table string, rows []map[string]any, on Conflict) (int64, error) {
	query, args, err := s.dialect.insert(table, rows, on)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) Delete(ctx context.Context, table string, preds ...Predicate) (int64, error) {
	query, args, err := s.dialect.delete(table, preds)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) Exec(ctx context.Context, sql string) error {
	_, err := s.db.ExecContext(ctx, sql)
	return err
}

func (s *SQLStore) TableExists(ctx context.Context, table string) (bool, error) {
	var query string
	var args []any
	switch s.dialect {
	case MySQL:
		schemaName, name := splitTable(table)
		if schemaName == "" {
			query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`
			args = []any{name}
		} else {
			query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`
			args = []any{schemaName, name}
		}
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
		args = []any{table}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	if s.dialect == MySQL {
		return s.mysqlColumns(ctx, table)
	}
	return s.sqliteColumns(ctx, table)
}

func (s *SQLStore) sqliteColumns(ctx context.Context, table string) ([]schema.Column, error) {
	query := fmt.Sprintf(`PRAGMA table_info("%s")`, strings.ReplaceAll(table, `"`, `""`))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}

		col := schema.Column{
			Name:         name,
			Type:         colType,
			Nullable:     notNull == 0,
			IsPrimaryKey: pk > 0,
		}
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}
		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (s *SQLStore) mysqlColumns(ctx context.Context, table string) ([]schema.Column, error) {
	schemaName, name := splitTable(table)
	schemaExpr := "DATABASE()"
	args := []any{name}
	if schemaName != "" {
		schemaExpr = "?"
		args = []any{schemaName, name}
	}

	query := fmt.Sprintf(`
		SELECT
			c.column_name,
			c.column_type,
			c.is_nullable,
			c.column_default,
			c.column_key
		FROM information_schema.columns c
		WHERE c.table_schema = %s AND c.table_name = ?
		ORDER BY c.ordinal_position
	`, schemaExpr)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var nullable, key string
		var defaultValue sql.NullString

		if err := rows.Scan(&col.Name, &col.Type, &nullable, &defaultValue, &key); err != nil {
			return nil, err
		}

		col.Nullable = nullable == "YES"
		col.IsPrimaryKey = key == "PRI"
		col.IsUnique = key == "UNI"
		if defaultValue.Valid {
			col.DefaultValue = &defaultValue.String
		}
		columns = append(columns, col)
	}

	return columns, rows.Err()
}
