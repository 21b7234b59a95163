// Package postgres builds traced, logged pgx connection pools.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"
)

// PoolOption configures NewPool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	maxConns int32
	minLog   time.Duration
	observe  ObserveFunc
}

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) PoolOption { return func(o *poolOptions) { o.maxConns = n } }

// WithSlowQueryLog only logs successful queries slower than d. Failed queries
// are always logged.
func WithSlowQueryLog(d time.Duration) PoolOption { return func(o *poolOptions) { o.minLog = d } }

// WithQueryObserver reports every query to fn.
func WithQueryObserver(fn ObserveFunc) PoolOption { return func(o *poolOptions) { o.observe = fn } }

// NewPool connects to databaseURL and verifies the connection. Queries are
// traced through otelpgx and logged through the context logger.
func NewPool(ctx context.Context, databaseURL string, logger log.Logger, opts ...PoolOption) (*pgxpool.Pool, error) {
	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = log.Nop()
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}
	cfg.ConnConfig.Tracer = &queryTracer{
		inner:    otelpgx.NewTracer(),
		observe:  o.observe,
		minLog:   o.minLog,
		fallback: logger,
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// QueryMetrics is a Prometheus-backed query observer.
type QueryMetrics struct {
	Duration *prometheus.HistogramVec
}

// NewQueryMetrics registers the query duration histogram on reg.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	m := &QueryMetrics{
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plume_db_query_duration_seconds",
			Help:    "Duration of PostgreSQL queries by route and outcome.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}, []string{"route", "outcome"}),
	}
	reg.MustRegister(m.Duration)
	return m
}

// Observe implements ObserveFunc.
func (m *QueryMetrics) Observe(_ context.Context, route, outcome string, dur time.Duration) {
	m.Duration.WithLabelValues(route, outcome).Observe(dur.Seconds())
}
