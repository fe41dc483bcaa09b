package db

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// NewMySQLStore opens a MySQL database from a go-sql-driver DSN
// (user:pass@tcp(host:port)/database).
func NewMySQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("MySQL DSN must name a database")
	}
	cfg.ParseTime = true

	return openSQL(ctx, "mysql", cfg.FormatDSN(), MySQL)
}
