// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports. All record methods
// are safe on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	provisions        *prometheus.CounterVec
	provisionDuration prometheus.Histogram
	seedFailures      prometheus.Counter
	cacheLookups      *prometheus.CounterVec
	cacheEvictions    prometheus.Counter
	cachedHandles     prometheus.Gauge
	tenantQueries     *prometheus.CounterVec
	webhookCalls      *prometheus.CounterVec
	webhookDuration   *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		provisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_provisions_total",
			Help:      "Tenant schema provisioning attempts by result and failing phase",
		}, []string{"result", "phase"}),

		provisionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tenant_provision_duration_seconds",
			Help:      "Duration of tenant schema provisioning",
			Buckets:   prometheus.DefBuckets,
		}),

		seedFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_seed_failures_total",
			Help:      "Best-effort default row seeds that failed",
		}),

		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_cache_lookups_total",
			Help:      "Tenant handle cache lookups by outcome",
		}, []string{"result"}),

		cacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_cache_evictions_total",
			Help:      "Tenant handles evicted from the cache",
		}),

		cachedHandles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenant_cache_handles",
			Help:      "Tenant handles currently cached",
		}),

		tenantQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_queries_total",
			Help:      "Tenant-scoped statements by result",
		}, []string{"result"}),

		webhookCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_calls_total",
			Help:      "Outbound workflow webhook calls by name and result",
		}, []string{"webhook", "result"}),

		webhookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_call_duration_seconds",
			Help:      "Duration of outbound workflow webhook calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"webhook"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "path", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveProvision records one provisioning attempt. phase is empty on
// success.
func (m *Metrics) ObserveProvision(phase string, started time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if phase != "" {
		result = "failed"
	}
	m.provisions.WithLabelValues(result, phase).Inc()
	m.provisionDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) SeedFailed() {
	if m == nil {
		return
	}
	m.seedFailures.Inc()
}

// CacheLookup counts a router lookup: hit, miss or refresh_failed.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheEvicted() {
	if m == nil {
		return
	}
	m.cacheEvictions.Inc()
}

func (m *Metrics) SetCachedHandles(n int) {
	if m == nil {
		return
	}
	m.cachedHandles.Set(float64(n))
}

func (m *Metrics) TenantQuery(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.tenantQueries.WithLabelValues("error").Inc()
		return
	}
	m.tenantQueries.WithLabelValues("ok").Inc()
}

// ObserveWebhook records one outbound webhook call.
func (m *Metrics) ObserveWebhook(name string, err error, started time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.webhookCalls.WithLabelValues(name, result).Inc()
	m.webhookDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

// Middleware records per-route request counts and latency.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			m.httpRequests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, c.Path()).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
