// Package db persists protection state and order plans in PostgreSQL. A
// crash must never reset a tripped breaker, and OCO bookkeeping must resume
// after a restart.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	connectTimeout = 10 * time.Second
	queryTimeout   = 5 * time.Second
)

// DB wraps the shared connection pool. Both stores run on the same pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and applies the embedded schema.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty db connection string")
	}

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	pool, err := pgxpool.New(connCtx, dsn)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	d := &DB{pool: pool}
	if err := d.applySchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return d, nil
}

// Close releases the connection pool.
func (d *DB) Close() {
	if d != nil && d.pool != nil {
		d.pool.Close()
	}
}

func (d *DB) applySchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	for _, stmt := range strings.Split(schemaSQL, ";") {
		sql := strings.TrimSpace(stmt)
		if sql == "" {
			continue
		}
		if _, err := d.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func nullableTime(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	return &ts
}
