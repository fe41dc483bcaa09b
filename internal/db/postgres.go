package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tordrt/seedkit/internal/schema"
)

// PostgresStore manages the connection to PostgreSQL
type PostgresStore struct {
	conn *pgx.Conn
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{conn: conn}, nil
}

func (s *PostgresStore) Dialect() Dialect { return Postgres }

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.conn.Close(context.Background())
}

// Conn returns the underlying connection
func (s *PostgresStore) Conn() *pgx.Conn {
	return s.conn
}

func (s *PostgresStore) FetchColumn(ctx context.Context, table, column string, offset, limit int) ([]*string, error) {
	rows, err := s.conn.Query(ctx, Postgres.selectColumn(table, column), limit, offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[*string])
}

func (s *PostgresStore) Count(ctx context.Context, table string, preds ...Predicate) (int64, error) {
	query, args := Postgres.count(table, preds)
	var n int64
	if err := s.conn.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) Insert(ctx context.Context, table string, rows []map[string]any) (int64, error) {
	return s.Upsert(ctx, table, rows, Conflict{})
}

func (s *PostgresStore) Upsert(ctx context.Context, table string, rows []map[string]any, on Conflict) (int64, error) {
	query, args, err := Postgres.insert(table, rows, on)
	if err != nil {
		return 0, err
	}
	tag, err := s.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, table string, preds ...Predicate) (int64, error) {
	query, args, err := Postgres.delete(table, preds)
	if err != nil {
		return 0, err
	}
	tag, err := s.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Exec runs sql with the simple protocol so multi-statement files work.
func (s *PostgresStore) Exec(ctx context.Context, sql string) error {
	_, err := s.conn.Exec(ctx, sql, pgx.QueryExecModeSimpleProtocol)
	return err
}

func (s *PostgresStore) TableExists(ctx context.Context, table string) (bool, error) {
	schemaName, name := pgSchema(table)
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`
	var exists bool
	if err := s.conn.QueryRow(ctx, query, schemaName, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Columns lists the columns of a table with their uniqueness and primary key flags
func (s *PostgresStore) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	schemaName, name := pgSchema(table)
	query := `
		SELECT
			column_name,
			data_type,
			is_nullable,
			column_default,
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.constraint_column_usage ccu
					ON tc.constraint_name = ccu.constraint_name
					AND tc.table_schema = ccu.table_schema
				WHERE tc.table_schema = $1
					AND tc.table_name = $2
					AND tc.constraint_type = 'UNIQUE'
					AND ccu.column_name = c.column_name
			) AS is_unique,
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.table_schema = $1
					AND tc.table_name = $2
					AND tc.constraint_type = 'PRIMARY KEY'
					AND kcu.column_name = c.column_name
			) AS is_pk
		FROM information_schema.columns c
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := s.conn.Query(ctx, query, schemaName, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.Column
	for rows.Next() {
		var col schema.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.DefaultValue, &col.IsUnique, &col.IsPrimaryKey); err != nil {
			return nil, err
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func pgSchema(table string) (string, string) {
	schemaName, name := splitTable(table)
	if schemaName == "" {
		schemaName = "public"
	}
	return schemaName, name
}
