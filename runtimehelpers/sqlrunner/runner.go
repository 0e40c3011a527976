// Package sqlrunner wraps database/sql with retry, telemetry and the
// execution primitives directory code consumes (dict, scalar, 2d-array, void).
package sqlrunner

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

// Config describes how to create a Runner.
type Config struct {
	Driver          string
	DSN             string
	ExistingDB      *sql.DB
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Retry           RetryPolicy
	Logger          telemetry.Logger
}

// RetryPolicy captures retry behavior for transient errors.
type RetryPolicy struct {
	Attempts    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ShouldRetry func(error) bool
}

// Runner wraps sql.DB with retry and telemetry.
type Runner struct {
	db      *sql.DB
	closeDB bool
	cfg     Config
	logger  telemetry.Logger
	policy  RetryPolicy
}

var _ core.Executor = (*Runner)(nil)

// NewRunner constructs a Runner using the provided configuration.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.ExistingDB == nil && (cfg.Driver == "" || cfg.DSN == "") {
		return nil, fmt.Errorf("sqlrunner: either ExistingDB or Driver+DSN must be provided")
	}

	var (
		db      *sql.DB
		closeDB bool
		err     error
	)

	if cfg.ExistingDB != nil {
		db = cfg.ExistingDB
	} else {
		db, err = sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlrunner: open connection: %w", err)
		}
		closeDB = true
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	return &Runner{
		db:      db,
		closeDB: closeDB,
		cfg:     cfg,
		logger:  logger,
		policy:  normalizePolicy(cfg.Retry),
	}, nil
}

func normalizePolicy(policy RetryPolicy) RetryPolicy {
	if policy.Attempts <= 0 {
		policy.Attempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 50 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 500 * time.Millisecond
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = defaultShouldRetry
	}
	return policy
}

// DB exposes the underlying *sql.DB.
func (r *Runner) DB() *sql.DB {
	return r.db
}

// Close releases the underlying connection if the Runner created it.
func (r *Runner) Close() error {
	if r == nil || r.db == nil || !r.closeDB {
		return nil
	}
	return r.db.Close()
}

// Ping verifies the connection is alive.
func (r *Runner) Ping(ctx context.Context) error {
	_, err := runWithRetry(ctx, r, "ping", "", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.db.PingContext(ctx)
	})
	return err
}

// Exec executes a statement with retry + telemetry.
func (r *Runner) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return runWithRetry(ctx, r, "exec", query, func(ctx context.Context) (sql.Result, error) {
		return r.db.ExecContext(ctx, query, args...)
	})
}

// Query runs a query and returns the resulting rows with retry.
func (r *Runner) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return runWithRetry(ctx, r, "query", query, func(ctx context.Context) (*sql.Rows, error) {
		return r.db.QueryContext(ctx, query, args...)
	})
}

// ExecuteDict runs a query and returns every row keyed by column name.
func (r *Runner) ExecuteDict(ctx context.Context, query string) (*core.Result, error) {
	res, err := r.collect(ctx, query)
	if err != nil {
		return nil, core.WrapQuery(query, err)
	}
	return res, nil
}

// Execute2DArray runs a query and returns rows both positionally and by name.
func (r *Runner) Execute2DArray(ctx context.Context, query string) (*core.Result, error) {
	return r.ExecuteDict(ctx, query)
}

// ExecuteScalar returns the first column of the first row, or nil when the
// statement produced no rows.
func (r *Runner) ExecuteScalar(ctx context.Context, query string) (interface{}, error) {
	res, err := r.ExecuteDict(ctx, query)
	if err != nil {
		return nil, err
	}
	if res.Len() == 0 || len(res.Columns) == 0 {
		return nil, nil
	}
	return res.Rows[0][res.Columns[0]], nil
}

// ExecuteVoid executes one or more statements that return no rows.
func (r *Runner) ExecuteVoid(ctx context.Context, query string) error {
	if _, err := r.Exec(ctx, query); err != nil {
		return core.WrapQuery(query, err)
	}
	return nil
}

func (r *Runner) collect(ctx context.Context, query string) (*core.Result, error) {
	rows, err := r.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlrunner: read columns: %w", err)
	}

	res := &core.Result{Columns: columns, Rows: []core.Row{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlrunner: scan row: %w", err)
		}

		row := make(core.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func runWithRetry[T any](ctx context.Context, r *Runner, operation, statement string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	delay := r.policy.BaseDelay

	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		start := time.Now()
		result, err := fn(ctx)
		duration := time.Since(start)

		if err == nil {
			r.logger.Debug(ctx, "sqlrunner.success", telemetry.Fields{
				"operation":   operation,
				"query":       statement,
				"attempt":     attempt,
				"duration_ms": duration.Seconds() * 1000,
			})
			return result, nil
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		fields := telemetry.Fields{
			"operation": operation,
			"query":     statement,
			"attempt":   attempt,
		}

		if attempt == r.policy.Attempts || !r.policy.ShouldRetry(err) {
			r.logger.Error(ctx, "sqlrunner.error", err, fields)
			return zero, err
		}

		r.logger.Warn(ctx, "sqlrunner.retry", telemetry.MergeFields(fields, telemetry.Fields{
			"next_delay_ms": delay.Seconds() * 1000,
		}))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		delay = nextDelay(delay, r.policy.MaxDelay)
	}

	return zero, fmt.Errorf("sqlrunner: failed after %d attempts", r.policy.Attempts)
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func defaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
