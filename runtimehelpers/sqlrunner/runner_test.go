package sqlrunner

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

func TestNewRunnerRequiresConfig(t *testing.T) {
	if _, err := NewRunner(Config{}); err == nil {
		t.Fatalf("expected error when no connection info provided")
	}
}

func TestExecRetriesOnTransientError(t *testing.T) {
	state := &stubState{execErrors: []error{sql.ErrConnDone, nil}}
	runner := newStubRunner(t, state, RetryPolicy{Attempts: 2})

	if _, err := runner.Exec(context.Background(), "CREATE TABLESPACE ts2 LOCATION '/d'"); err != nil {
		t.Fatalf("exec should succeed after retry: %v", err)
	}
	if len(state.execQueries) != 2 {
		t.Fatalf("expected 2 exec attempts, got %d", len(state.execQueries))
	}
}

func TestExecuteVoidWrapsDriverError(t *testing.T) {
	boom := errors.New(`permission denied to create tablespace "ts2"`)
	state := &stubState{execErrors: []error{boom}}
	runner := newStubRunner(t, state, RetryPolicy{Attempts: 1})

	err := runner.ExecuteVoid(context.Background(), "CREATE TABLESPACE ts2 LOCATION '/d'")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrQueryFailure)
	assert.ErrorIs(t, err, boom)

	var qe *core.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "CREATE TABLESPACE ts2 LOCATION '/d'", qe.Query)
	assert.Equal(t, 500, core.StatusCode(err))
}

func TestExecuteDictReturnsNamedRows(t *testing.T) {
	state := &stubState{
		queryColumns: []string{"oid", "name", "spcoptions"},
		queryRows: [][]driver.Value{
			{int64(16400), []byte("ts1"), []byte("{seq_page_cost=1.1}")},
			{int64(16401), "ts2", nil},
		},
	}
	runner := newStubRunner(t, state, RetryPolicy{})

	res, err := runner.ExecuteDict(context.Background(), "SELECT oid, spcname AS name FROM pg_tablespace")
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())
	assert.Equal(t, []string{"oid", "name", "spcoptions"}, res.Columns)
	assert.Equal(t, "ts1", res.Rows[0].String("name"))
	assert.Equal(t, "{seq_page_cost=1.1}", res.Rows[0]["spcoptions"])
	assert.True(t, res.Rows[1].IsNull("spcoptions"))
	assert.Equal(t, "SELECT oid, spcname AS name FROM pg_tablespace", state.lastQuery)
}

func TestExecuteScalar(t *testing.T) {
	state := &stubState{queryColumns: []string{"oid"}, queryRows: [][]driver.Value{{int64(16402)}}}
	runner := newStubRunner(t, state, RetryPolicy{})

	v, err := runner.ExecuteScalar(context.Background(), "SELECT oid FROM pg_tablespace WHERE spcname = 'ts2'")
	require.NoError(t, err)
	assert.Equal(t, int64(16402), v)

	state.queryRows = nil
	v, err = runner.ExecuteScalar(context.Background(), "SELECT oid FROM pg_tablespace WHERE spcname = 'nope'")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestQueryFailureIsNotRetriedForPermanentErrors(t *testing.T) {
	state := &stubState{queryErr: errors.New("syntax error")}
	runner := newStubRunner(t, state, RetryPolicy{Attempts: 3})

	_, err := runner.ExecuteDict(context.Background(), "SELEC 1")
	require.ErrorIs(t, err, core.ErrQueryFailure)
	assert.Equal(t, 1, state.queryCount)
}

func newStubRunner(t *testing.T, state *stubState, policy RetryPolicy) *Runner {
	t.Helper()
	db := sql.OpenDB(&stubConnector{state: state})
	t.Cleanup(func() { _ = db.Close() })

	runner, err := NewRunner(Config{
		ExistingDB: db,
		Logger:     telemetry.NoopLogger{},
		Retry:      policy,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

// --- Stub driver implementation for tests ---

type stubConnector struct {
	state *stubState
}

func (c *stubConnector) Connect(context.Context) (driver.Conn, error) {
	return &stubConn{state: c.state}, nil
}

func (c *stubConnector) Driver() driver.Driver { return stubDriver{} }

type stubDriver struct{}

func (stubDriver) Open(name string) (driver.Conn, error) {
	return nil, errors.New("stub driver requires connector")
}

type stubState struct {
	mu           sync.Mutex
	execErrors   []error
	execQueries  []string
	lastQuery    string
	queryCount   int
	queryErr     error
	queryColumns []string
	queryRows    [][]driver.Value
}

type stubConn struct {
	state *stubState
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }

func (c *stubConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.execQueries = append(c.state.execQueries, query)
	if len(c.state.execErrors) > 0 {
		err := c.state.execErrors[0]
		c.state.execErrors = c.state.execErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.lastQuery = query
	c.state.queryCount++
	if c.state.queryErr != nil {
		return nil, c.state.queryErr
	}
	rows := make([][]driver.Value, len(c.state.queryRows))
	for i := range c.state.queryRows {
		row := make([]driver.Value, len(c.state.queryRows[i]))
		copy(row, c.state.queryRows[i])
		rows[i] = row
	}
	return &stubRows{columns: append([]string(nil), c.state.queryColumns...), rows: rows}, nil
}

func (c *stubConn) Ping(ctx context.Context) error { return nil }

var _ driver.ExecerContext = (*stubConn)(nil)
var _ driver.QueryerContext = (*stubConn)(nil)
var _ driver.Pinger = (*stubConn)(nil)

type stubRows struct {
	columns []string
	rows    [][]driver.Value
	idx     int
}

func (r *stubRows) Columns() []string { return r.columns }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

var _ driver.Rows = (*stubRows)(nil)
