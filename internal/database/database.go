package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx used by stores. *pgxpool.Pool, *pgx.Conn
// and pgx.Tx all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a Querier that can start transactions and be closed.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ManagementDB wraps the pool bound to the public schema (users,
// buildings, plans, webhooks).
type ManagementDB struct {
	Pool *pgxpool.Pool
}

// OpenManagement connects to the database, verifies the connection, and
// bootstraps the public schema.
func OpenManagement(ctx context.Context, connString string) (*ManagementDB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("database: parse config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, PublicSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: bootstrap public schema: %w", err)
	}

	return &ManagementDB{Pool: pool}, nil
}

// Close shuts down the management pool.
func (m *ManagementDB) Close() {
	m.Pool.Close()
}

// TenantPoolOptions sizes a per-building pool.
type TenantPoolOptions struct {
	MaxConns        int32
	MaxConnIdleTime time.Duration
}

// OpenTenantPool opens a small pool whose sessions resolve unqualified
// names against schema. search_path is sent as a startup parameter, so
// every physical connection the pool ever opens is bound to schema, and
// it is asserted again in AfterConnect for drivers or poolers that drop
// startup parameters.
//
// MinConns is zero so idle buildings do not hold connections open.
func OpenTenantPool(ctx context.Context, connString, schema string, opts TenantPoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("database: parse tenant config for %q: %w", schema, err)
	}

	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	if opts.MaxConnIdleTime <= 0 {
		opts.MaxConnIdleTime = 5 * time.Minute
	}

	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime

	path := QuoteIdent(schema)
	cfg.ConnConfig.RuntimeParams["search_path"] = path
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET search_path TO "+path)
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: connect tenant %q: %w", schema, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping tenant %q: %w", schema, err)
	}

	return pool, nil
}

// TenantOpener returns a function that opens per-schema pools against
// connString. It is the production opener for the tenant router.
func TenantOpener(connString string, opts TenantPoolOptions) func(ctx context.Context, schema string) (Pool, error) {
	return func(ctx context.Context, schema string) (Pool, error) {
		pool, err := OpenTenantPool(ctx, connString, schema, opts)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
}
