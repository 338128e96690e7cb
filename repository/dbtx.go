package repository

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("record not found")

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy it, so every repository can ride a unit of work.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// hashPrefix keeps token hashes out of logs while still allowing correlation.
func hashPrefix(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
