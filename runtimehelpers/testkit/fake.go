// Package testkit provides in-memory connections, a counting connection
// manager and request-context builders for directory tests.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/schemabounce/kolumn/directory/core"
)

// CallRecord captures executed method names + inputs for assertions.
type CallRecord struct {
	Name    string
	Payload any
}

type responder struct {
	match  string
	result *core.Result
	err    error
}

// FakeHandle is an in-memory core.Handle. Queries are answered by the first
// registered responder whose fragment occurs in the query text; unmatched
// queries return an empty result.
type FakeHandle struct {
	Name       string
	ConnectErr error

	mu         sync.Mutex
	connected  bool
	responders []responder
	calls      []CallRecord
	connects   int
}

var _ core.Handle = (*FakeHandle)(nil)

// NewHandle returns a disconnected handle for database.
func NewHandle(database string) *FakeHandle {
	return &FakeHandle{Name: database}
}

// NewConnectedHandle returns a handle that is already connected.
func NewConnectedHandle(database string) *FakeHandle {
	return &FakeHandle{Name: database, connected: true}
}

// On answers queries containing fragment with res.
func (h *FakeHandle) On(fragment string, res *core.Result) *FakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responders = append(h.responders, responder{match: fragment, result: res})
	return h
}

// Fail answers queries containing fragment with err.
func (h *FakeHandle) Fail(fragment string, err error) *FakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responders = append(h.responders, responder{match: fragment, err: err})
	return h
}

// Database implements core.Handle.
func (h *FakeHandle) Database() string { return h.Name }

// Connected implements core.Handle.
func (h *FakeHandle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Connect implements core.Handle.
func (h *FakeHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects++
	h.calls = append(h.calls, CallRecord{Name: "Connect"})
	if h.ConnectErr != nil {
		return h.ConnectErr
	}
	h.connected = true
	return nil
}

// Disconnect drops the connection.
func (h *FakeHandle) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
}

// Close implements io.Closer by disconnecting the handle.
func (h *FakeHandle) Close() error {
	h.Disconnect()
	return nil
}

// ConnectCalls returns how often Connect was called.
func (h *FakeHandle) ConnectCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects
}

// Calls returns a snapshot of recorded calls.
func (h *FakeHandle) Calls() []CallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]CallRecord, len(h.calls))
	copy(cp, h.calls)
	return cp
}

// Queries returns the text of every executed statement in order.
func (h *FakeHandle) Queries() []string {
	var out []string
	for _, c := range h.Calls() {
		if q, ok := c.Payload.(string); ok {
			out = append(out, q)
		}
	}
	return out
}

func (h *FakeHandle) answer(method, query string) (*core.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, CallRecord{Name: method, Payload: query})
	if !h.connected {
		return nil, core.WrapQuery(query, errors.New("connection is not established"))
	}
	for _, r := range h.responders {
		if !strings.Contains(query, r.match) {
			continue
		}
		if r.err != nil {
			return nil, core.WrapQuery(query, r.err)
		}
		return r.result, nil
	}
	return &core.Result{}, nil
}

// ExecuteDict implements core.Executor.
func (h *FakeHandle) ExecuteDict(ctx context.Context, query string) (*core.Result, error) {
	return h.answer("ExecuteDict", query)
}

// Execute2DArray implements core.Executor.
func (h *FakeHandle) Execute2DArray(ctx context.Context, query string) (*core.Result, error) {
	return h.answer("Execute2DArray", query)
}

// ExecuteScalar implements core.Executor.
func (h *FakeHandle) ExecuteScalar(ctx context.Context, query string) (interface{}, error) {
	res, err := h.answer("ExecuteScalar", query)
	if err != nil {
		return nil, err
	}
	if res.Len() == 0 || len(res.Columns) == 0 {
		return nil, nil
	}
	return res.Rows[0][res.Columns[0]], nil
}

// ExecuteVoid implements core.Executor.
func (h *FakeHandle) ExecuteVoid(ctx context.Context, query string) error {
	_, err := h.answer("ExecuteVoid", query)
	return err
}

// Rows builds a result from column names and positional values.
func Rows(columns []string, values ...[]interface{}) *core.Result {
	res := &core.Result{Columns: columns, Rows: []core.Row{}}
	for _, v := range values {
		row := make(core.Row, len(columns))
		for i, col := range columns {
			if i < len(v) {
				row[col] = v[i]
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

// FakeManager is a core.ConnectionAdapter over FakeHandles that counts the
// connections it hands out and the releases it receives.
type FakeManager struct {
	// GetErr fails Get for the named databases.
	GetErr map[string]error

	// Maintenance names the database Connection returns, "postgres" when
	// empty.
	Maintenance string

	mu       sync.Mutex
	handles  map[string]*FakeHandle
	gets     map[string]int
	releases map[string]int
	calls    []CallRecord
}

var _ core.ConnectionAdapter = (*FakeManager)(nil)

// NewManager registers the given handles by database name.
func NewManager(handles ...*FakeHandle) *FakeManager {
	m := &FakeManager{
		GetErr:   map[string]error{},
		handles:  map[string]*FakeHandle{},
		gets:     map[string]int{},
		releases: map[string]int{},
	}
	for _, h := range handles {
		m.handles[h.Name] = h
	}
	return m
}

// Handle returns the registered handle for database.
func (m *FakeManager) Handle(database string) *FakeHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[database]
}

// Get implements core.ConnectionAdapter. Unknown databases get a fresh
// disconnected handle.
func (m *FakeManager) Get(ctx context.Context, serverID int, database string) (core.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, CallRecord{Name: "Get", Payload: database})
	m.gets[database]++
	if err := m.GetErr[database]; err != nil {
		return core.Lease{}, &core.ConnectionError{ServerID: serverID, Database: database, Err: err}
	}
	h, ok := m.handles[database]
	if !ok {
		h = NewHandle(database)
		m.handles[database] = h
	}
	return core.Lease{Handle: h, Preexisting: h.Connected()}, nil
}

// Release implements core.ConnectionAdapter.
func (m *FakeManager) Release(serverID int, database string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, CallRecord{Name: "Release", Payload: database})
	h, ok := m.handles[database]
	if !ok {
		return fmt.Errorf("release %s: no such connection", database)
	}
	m.releases[database]++
	h.Disconnect()
	return nil
}

// Connection returns the maintenance handle as is, without connecting it.
func (m *FakeManager) Connection(ctx context.Context, serverID int) (core.Handle, error) {
	database := m.Maintenance
	if database == "" {
		database = "postgres"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[database]
	if !ok {
		return nil, &core.ConnectionError{ServerID: serverID, Database: database, Err: errors.New("no maintenance connection")}
	}
	return h, nil
}

// Gets returns how often Get was called for database.
func (m *FakeManager) Gets(database string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets[database]
}

// Releases returns how often Release was called for database.
func (m *FakeManager) Releases(database string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[database]
}

// Calls returns a snapshot of recorded calls.
func (m *FakeManager) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]CallRecord, len(m.calls))
	copy(cp, m.calls)
	return cp
}
