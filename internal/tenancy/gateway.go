package tenancy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/metrics"
)

// Gateway is the only path from services to tenant tables. Every call
// routes through the Router, and every statement has its {schema} token
// expanded to the tenant's quoted schema, so tables are always
// schema-qualified. Values must be passed as bind arguments.
type Gateway struct {
	router  *Router
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewGateway(router *Router, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{router: router, log: logger, metrics: m}
}

// Exec runs a statement with bound arguments.
func (g *Gateway) Exec(ctx context.Context, tenantID, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := g.with(ctx, tenantID, func(q database.Querier) error {
		var err error
		tag, err = q.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

// ExecRaw runs an argument-free template, typically DDL where only
// identifiers vary.
func (g *Gateway) ExecRaw(ctx context.Context, tenantID, tmpl string) (pgconn.CommandTag, error) {
	return g.Exec(ctx, tenantID, tmpl)
}

// QueryRow scans a single row into dest. pgx.ErrNoRows is returned as is.
func (g *Gateway) QueryRow(ctx context.Context, tenantID, sql string, args []any, dest ...any) error {
	return g.with(ctx, tenantID, func(q database.Querier) error {
		return q.QueryRow(ctx, sql, args...).Scan(dest...)
	})
}

// Tx runs fn in a transaction on the tenant's handle. The Querier given
// to fn expands {schema} and wraps failures like the Gateway does.
func (g *Gateway) Tx(ctx context.Context, tenantID string, fn func(q database.Querier) error) error {
	h, err := g.router.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	defer h.Release()

	tx, err := h.Conn().Begin(ctx)
	if err != nil {
		return g.wrap(h, "BEGIN", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&scopedQuerier{g: g, h: h, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return g.wrap(h, "COMMIT", err)
	}
	return nil
}

// Collect runs a query and maps every row onto T by column name.
func Collect[T any](ctx context.Context, g *Gateway, tenantID, sql string, args ...any) ([]T, error) {
	var out []T
	err := g.with(ctx, tenantID, func(q database.Querier) error {
		var err error
		out, err = CollectFrom[T](ctx, q, sql, args...)
		return err
	})
	return out, err
}

// CollectOne is Collect for queries that must return exactly one row.
func CollectOne[T any](ctx context.Context, g *Gateway, tenantID, sql string, args ...any) (T, error) {
	var out T
	err := g.with(ctx, tenantID, func(q database.Querier) error {
		var err error
		out, err = CollectOneFrom[T](ctx, q, sql, args...)
		return err
	})
	return out, err
}

// CollectFrom is Collect on a Querier handed out by Tx.
func CollectFrom[T any](ctx context.Context, q database.Querier, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, rewrap(q, sql, err)
	}
	return out, nil
}

// CollectOneFrom is CollectOne on a Querier handed out by Tx.
func CollectOneFrom[T any](ctx context.Context, q database.Querier, sql string, args ...any) (T, error) {
	var zero T
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return zero, err
	}
	out, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[T])
	if err != nil {
		return zero, rewrap(q, sql, err)
	}
	return out, nil
}

func (g *Gateway) with(ctx context.Context, tenantID string, fn func(q database.Querier) error) error {
	h, err := g.router.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(&scopedQuerier{g: g, h: h, q: h.Conn()})
}

func (g *Gateway) wrap(h *Handle, sql string, err error) error {
	g.metrics.TenantQuery(err)
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	g.log.Error("tenant query failed",
		zap.String("tenant_id", h.tenantID),
		zap.String("schema", h.schema),
		zap.String("sql", sql),
		zap.Error(err))
	return &QueryError{TenantID: h.tenantID, Schema: h.schema, SQL: sql, Err: err}
}

// rewrap wraps row-collection errors when q came from the Gateway.
func rewrap(q database.Querier, sql string, err error) error {
	if s, ok := q.(*scopedQuerier); ok {
		return s.g.wrap(s.h, Expand(sql, s.h.schema), err)
	}
	return err
}

// scopedQuerier expands {schema} and wraps errors for one handle.
type scopedQuerier struct {
	g *Gateway
	h *Handle
	q database.Querier
}

func (s *scopedQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sql = Expand(sql, s.h.schema)
	tag, err := s.q.Exec(ctx, sql, args...)
	return tag, s.g.wrap(s.h, sql, err)
}

func (s *scopedQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	sql = Expand(sql, s.h.schema)
	rows, err := s.q.Query(ctx, sql, args...)
	return rows, s.g.wrap(s.h, sql, err)
}

func (s *scopedQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	sql = Expand(sql, s.h.schema)
	return &scopedRow{s: s, sql: sql, row: s.q.QueryRow(ctx, sql, args...)}
}

type scopedRow struct {
	s   *scopedQuerier
	sql string
	row pgx.Row
}

func (r *scopedRow) Scan(dest ...any) error {
	return r.s.g.wrap(r.s.h, r.sql, r.row.Scan(dest...))
}
