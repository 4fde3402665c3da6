package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBInstrumentationConfig configures GORM tracing and query metrics
type DBInstrumentationConfig struct {
	// Tracing registers the otelgorm plugin so every query gets a span
	Tracing bool
	// Meter enables query and pool metrics when non-nil
	Meter              metric.Meter
	DBSystem           string        // Default: postgresql
	SlowQueryThreshold time.Duration // Default: 200ms
	PoolStatsInterval  time.Duration // Default: 15s
}

// DBMetrics records query counts, latencies and connection pool state
type DBMetrics struct {
	poolConnections *Gauge
	queryTotal      *Counter
	queryDuration   *Histogram
	slowQueryTotal  *Counter

	slowThreshold time.Duration
	poolInterval  time.Duration
	sqlDB         *sql.DB
	logger        *zap.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// InstrumentDB installs tracing and metrics callbacks on db.
// The returned DBMetrics is nil when no meter is configured; call Stop on shutdown otherwise.
func InstrumentDB(db *gorm.DB, cfg DBInstrumentationConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	if cfg.Tracing {
		plugin := otelgorm.NewPlugin(
			otelgorm.WithDBName(cfg.DBSystem),
			otelgorm.WithoutQueryVariables(),
		)
		if err := db.Use(plugin); err != nil {
			return nil, err
		}
	}

	var metrics *DBMetrics
	if cfg.Meter != nil {
		var err error
		metrics, err = newDBMetrics(cfg.Meter, cfg, logger)
		if err != nil {
			return nil, err
		}
		if metrics.sqlDB, err = db.DB(); err != nil {
			return nil, err
		}
	}

	if cfg.Tracing || metrics != nil {
		if err := registerQueryCallbacks(db, cfg.SlowQueryThreshold, metrics); err != nil {
			return nil, err
		}
	}

	logger.Info("Database instrumentation registered",
		zap.Bool("tracing", cfg.Tracing),
		zap.Bool("metrics", metrics != nil),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold))
	return metrics, nil
}

func newDBMetrics(meter metric.Meter, cfg DBInstrumentationConfig, logger *zap.Logger) (*DBMetrics, error) {
	m := &DBMetrics{
		slowThreshold: cfg.SlowQueryThreshold,
		poolInterval:  cfg.PoolStatsInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
	var err error
	if m.poolConnections, err = NewGauge(meter, "db_pool_connections",
		"Connections in the pool by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.queryTotal, err = NewCounter(meter, "db_query_total",
		"Database queries by operation", "{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total",
		"Queries slower than the slow query threshold", "{query}"); err != nil {
		return nil, err
	}
	return m, nil
}

// StartPoolStatsCollection samples sql.DB pool stats until Stop or ctx ends
func (m *DBMetrics) StartPoolStatsCollection(ctx context.Context) {
	if m == nil || m.sqlDB == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.poolInterval)
		defer ticker.Stop()

		m.collectPoolStats(ctx)
		for {
			select {
			case <-ticker.C:
				m.collectPoolStats(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *DBMetrics) collectPoolStats(ctx context.Context) {
	stats := m.sqlDB.Stats()
	m.poolConnections.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConnections.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConnections.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop ends pool stats collection. Safe to call more than once.
func (m *DBMetrics) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// RecordQuery records one finished query
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration) {
	op := AttrDBOperation.String(operation)
	m.queryTotal.Inc(ctx, op)
	m.queryDuration.RecordDuration(ctx, duration, op)
	if duration > m.slowThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
	}
}

type queryStartKey struct{}

// registerQueryCallbacks times every GORM operation, feeds DBMetrics and flags slow
// queries on the active span
func registerQueryCallbacks(db *gorm.DB, slowThreshold time.Duration, metrics *DBMetrics) error {
	before := func(tx *gorm.DB) {
		ctx := tx.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		tx.Statement.Context = context.WithValue(ctx, queryStartKey{}, time.Now())
	}
	after := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			ctx := tx.Statement.Context
			if ctx == nil {
				return
			}
			start, ok := ctx.Value(queryStartKey{}).(time.Time)
			if !ok {
				return
			}
			elapsed := time.Since(start)
			op := operation
			if op == "" {
				op = detectOperationType(tx.Statement.SQL.String())
			}
			if metrics != nil {
				metrics.RecordQuery(ctx, op, tx.Statement.Table, elapsed)
			}
			if span := trace.SpanFromContext(ctx); span.IsRecording() && elapsed > slowThreshold {
				span.SetAttributes(attribute.Bool("db.slow_query", true))
				span.AddEvent("slow_query", trace.WithAttributes(
					attribute.Int64("duration_ms", elapsed.Milliseconds()),
					attribute.String("db.sql.table", tx.Statement.Table),
				))
			}
		}
	}

	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("instrumentation:before_create", before),
		cb.Create().After("gorm:create").Register("instrumentation:after_create", after("INSERT")),
		cb.Query().Before("gorm:query").Register("instrumentation:before_query", before),
		cb.Query().After("gorm:query").Register("instrumentation:after_query", after("SELECT")),
		cb.Update().Before("gorm:update").Register("instrumentation:before_update", before),
		cb.Update().After("gorm:update").Register("instrumentation:after_update", after("UPDATE")),
		cb.Delete().Before("gorm:delete").Register("instrumentation:before_delete", before),
		cb.Delete().After("gorm:delete").Register("instrumentation:after_delete", after("DELETE")),
		cb.Row().Before("gorm:row").Register("instrumentation:before_row", before),
		cb.Row().After("gorm:row").Register("instrumentation:after_row", after("")),
		cb.Raw().Before("gorm:raw").Register("instrumentation:before_raw", before),
		cb.Raw().After("gorm:raw").Register("instrumentation:after_raw", after("")),
	)
}

func detectOperationType(query string) string {
	query = strings.ToUpper(strings.TrimSpace(query))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(query, op) {
			return op
		}
	}
	return "OTHER"
}
