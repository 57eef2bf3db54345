package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PoolConfig sizes the pgx connection pool. Zero values fall back to
// defaults suited to one API instance sharing a modest Postgres.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// PostgresDB owns the connection pool every repository in this package
// executes against.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string, pc PoolConfig) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = pc.MaxConns
	if config.MaxConns <= 0 {
		config.MaxConns = 25
	}
	config.MinConns = pc.MinConns
	if config.MinConns <= 0 {
		config.MinConns = 5
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Bootstrap applies the embedded schema. Every statement in schema.sql is
// written to tolerate re-execution, so calling this on every boot is safe
// and replaces a separate migration step for a single-schema service.
func (db *PostgresDB) Bootstrap(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() {
	db.pool.Close()
}

// Pool exposes the underlying pool for repository queries that run outside
// an explicit transaction.
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks database connectivity, used by the readiness probe.
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error fn returns - the unit-of-work helper every
// multi-statement sync or analysis operation uses to keep its writes
// atomic.
func (db *PostgresDB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
