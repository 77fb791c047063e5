package repository

import (
	"context"
	"database/sql"
)

// repoDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type repoDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
