package connmgr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/sqlrunner"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

var errNotConnected = errors.New("connection is not established")

// PGHandle is a connection to one database, opened lazily through pgx.
type PGHandle struct {
	database  string
	config    *pgx.ConnConfig
	runnerCfg sqlrunner.Config

	mu     sync.RWMutex
	db     *sql.DB
	runner *sqlrunner.Runner
}

var _ core.Handle = (*PGHandle)(nil)

// NewPGHandle derives a connection config for database from dsn. The handle
// starts disconnected.
func NewPGHandle(dsn, database string, runnerCfg sqlrunner.Config) (*PGHandle, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if database != "" {
		cfg.Database = database
	}
	return &PGHandle{database: cfg.Database, config: cfg, runnerCfg: runnerCfg}, nil
}

// Database implements core.Handle.
func (h *PGHandle) Database() string { return h.database }

// Connected implements core.Handle.
func (h *PGHandle) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runner != nil
}

// Connect opens the connection and verifies it with a ping.
func (h *PGHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runner != nil {
		return nil
	}

	db := stdlib.OpenDB(*h.config)
	cfg := h.runnerCfg
	cfg.ExistingDB = db
	runner, err := sqlrunner.NewRunner(cfg)
	if err != nil {
		_ = db.Close()
		return err
	}
	if err := runner.Ping(ctx); err != nil {
		_ = db.Close()
		return err
	}

	h.db = db
	h.runner = runner
	return nil
}

// Close drops the connection. The handle can be connected again.
func (h *PGHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	h.runner = nil
	return err
}

func (h *PGHandle) active(query string) (*sqlrunner.Runner, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.runner == nil {
		return nil, core.WrapQuery(query, fmt.Errorf("database %s: %w", h.database, errNotConnected))
	}
	return h.runner, nil
}

// ExecuteDict implements core.Executor.
func (h *PGHandle) ExecuteDict(ctx context.Context, query string) (*core.Result, error) {
	r, err := h.active(query)
	if err != nil {
		return nil, err
	}
	return r.ExecuteDict(ctx, query)
}

// Execute2DArray implements core.Executor.
func (h *PGHandle) Execute2DArray(ctx context.Context, query string) (*core.Result, error) {
	r, err := h.active(query)
	if err != nil {
		return nil, err
	}
	return r.Execute2DArray(ctx, query)
}

// ExecuteScalar implements core.Executor.
func (h *PGHandle) ExecuteScalar(ctx context.Context, query string) (interface{}, error) {
	r, err := h.active(query)
	if err != nil {
		return nil, err
	}
	return r.ExecuteScalar(ctx, query)
}

// ExecuteVoid implements core.Executor.
func (h *PGHandle) ExecuteVoid(ctx context.Context, query string) error {
	r, err := h.active(query)
	if err != nil {
		return err
	}
	return r.ExecuteVoid(ctx, query)
}

func runnerConfig(retry sqlrunner.RetryPolicy, logger telemetry.Logger) sqlrunner.Config {
	return sqlrunner.Config{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		Retry:        retry,
		Logger:       logger,
	}
}
