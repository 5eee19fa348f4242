package tenancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/metrics"
)

// Opener opens a connection pool bound to schema.
type Opener func(ctx context.Context, schema string) (database.Pool, error)

// Conn is what callers may do with a routed handle. Closing is reserved
// to the router.
type Conn interface {
	database.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Handle is a cached, schema-bound pool for one tenant. Callers must
// Release it when done; once evicted it closes after the last release.
type Handle struct {
	tenantID string
	schema   string
	conn     database.Pool

	mu      sync.Mutex
	refs    int
	retired bool
	closed  chan struct{}
	once    sync.Once
}

func newHandle(tenantID, schema string, conn database.Pool) *Handle {
	return &Handle{tenantID: tenantID, schema: schema, conn: conn, closed: make(chan struct{})}
}

func (h *Handle) TenantID() string { return h.tenantID }
func (h *Handle) Schema() string   { return h.schema }
func (h *Handle) Conn() Conn       { return h.conn }

// Release returns a reference obtained from Router.Get.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.refs > 0 {
		h.refs--
	}
	done := h.retired && h.refs == 0
	h.mu.Unlock()
	if done {
		h.shutdown()
	}
}

func (h *Handle) retain() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return false
	}
	h.refs++
	return true
}

// retire marks the handle evicted. It runs under the cache lock, so the
// pool is closed on another goroutine.
func (h *Handle) retire() {
	h.mu.Lock()
	h.retired = true
	done := h.refs == 0
	h.mu.Unlock()
	if done {
		h.shutdown()
	}
}

func (h *Handle) shutdown() {
	h.once.Do(func() {
		go func() {
			h.conn.Close()
			close(h.closed)
		}()
	})
}

// refresh re-asserts search_path on reuse. It is a cheap extra check, not
// the isolation guarantee: pools opened by database.OpenTenantPool pin
// search_path through RuntimeParams and AfterConnect on every physical
// connection, and gateway SQL names tables through {schema}, so a missed
// refresh cannot resolve into another tenant's schema.
func (h *Handle) refresh(ctx context.Context) error {
	_, err := h.conn.Exec(ctx, "SET search_path TO "+database.QuoteIdent(h.schema))
	return err
}

// RouterOptions bounds the handle cache.
type RouterOptions struct {
	Size int
	TTL  time.Duration
}

// Router resolves tenant ids to schema-bound handles, caching them in a
// bounded LRU with a TTL. Concurrent misses for one tenant share a single
// load.
type Router struct {
	resolver Resolver
	open     Opener
	cache    *expirable.LRU[string, *Handle]
	group    singleflight.Group
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewRouter(resolver Resolver, open Opener, opts RouterOptions, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Size <= 0 {
		opts.Size = 256
	}
	r := &Router{resolver: resolver, open: open, log: logger, metrics: m}
	r.cache = expirable.NewLRU[string, *Handle](opts.Size, r.onEvict, opts.TTL)
	return r
}

func (r *Router) onEvict(tenantID string, h *Handle) {
	r.metrics.CacheEvicted()
	r.log.Debug("tenant handle evicted", zap.String("tenant_id", tenantID), zap.String("schema", h.schema))
	h.retire()
}

// maxGetAttempts bounds retries when a handle is evicted between load and
// retain.
const maxGetAttempts = 3

// loadTimeout bounds a shared load. The load is detached from the caller
// that started it; each waiter gives up on its own context instead.
const loadTimeout = 15 * time.Second

// Get returns a handle bound to the tenant's schema. Unknown tenants fail
// with ErrTenantNotFound and leave the cache untouched.
func (r *Router) Get(ctx context.Context, tenantID string) (*Handle, error) {
	id, err := ParseTenantID(tenantID)
	if err != nil {
		return nil, err
	}

	for range maxGetAttempts {
		if h, ok := r.cache.Get(id); ok && h.retain() {
			err := h.refresh(ctx)
			if err == nil {
				r.metrics.CacheLookup("hit")
				return h, nil
			}
			r.metrics.CacheLookup("refresh_failed")
			r.log.Warn("search_path refresh failed, evicting handle",
				zap.String("tenant_id", id), zap.String("schema", h.schema), zap.Error(err))
			h.Release()
			r.evictIf(id, h)
		}

		r.metrics.CacheLookup("miss")
		ch := r.group.DoChan(id, func() (any, error) {
			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
			defer cancel()
			return r.load(lctx, id)
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			return nil, res.Err
		}
		if h := res.Val.(*Handle); h.retain() {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: handle for %s evicted during lookup", ErrSchemaBinding, id)
}

func (r *Router) load(ctx context.Context, id string) (*Handle, error) {
	if h, ok := r.cache.Peek(id); ok {
		return h, nil
	}

	schema, err := r.resolver.SchemaFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTenantSchema(schema); err != nil {
		return nil, fmt.Errorf("tenancy: tenant %s: %w", id, err)
	}

	conn, err := r.open(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("tenancy: open %s: %w", schema, err)
	}
	if err := verifyBinding(ctx, conn, schema); err != nil {
		conn.Close()
		return nil, err
	}

	h := newHandle(id, schema, conn)
	r.cache.Add(id, h)
	r.metrics.SetCachedHandles(r.cache.Len())
	r.log.Info("tenant handle opened", zap.String("tenant_id", id), zap.String("schema", schema))
	return h, nil
}

// verifyBinding checks that the session actually resolves names against
// schema. current_schema() is NULL when the schema does not exist.
func verifyBinding(ctx context.Context, conn database.Querier, schema string) error {
	if _, err := conn.Exec(ctx, "SET search_path TO "+database.QuoteIdent(schema)); err != nil {
		return fmt.Errorf("%w: set search_path %s: %w", ErrSchemaBinding, schema, err)
	}
	var current pgtype.Text
	if err := conn.QueryRow(ctx, "SELECT current_schema()").Scan(&current); err != nil {
		return fmt.Errorf("%w: read current_schema: %w", ErrSchemaBinding, err)
	}
	if !current.Valid || current.String != schema {
		return fmt.Errorf("%w: want %s, got %q", ErrSchemaBinding, schema, current.String)
	}
	return nil
}

func (r *Router) evictIf(id string, h *Handle) {
	if cur, ok := r.cache.Peek(id); ok && cur == h {
		r.cache.Remove(id)
		r.metrics.SetCachedHandles(r.cache.Len())
	}
}

// Evict drops the tenant's cached handle, if any.
func (r *Router) Evict(tenantID string) {
	if id, err := ParseTenantID(tenantID); err == nil {
		r.cache.Remove(id)
		r.metrics.SetCachedHandles(r.cache.Len())
	}
}

// Len reports how many handles are cached.
func (r *Router) Len() int { return r.cache.Len() }

// Close evicts every handle. Handles still in use close on release.
func (r *Router) Close() {
	r.cache.Purge()
	r.metrics.SetCachedHandles(0)
}
