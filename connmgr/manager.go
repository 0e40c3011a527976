// Package connmgr keeps one connection per (server, database) and hands
// them out to directory operations through core.ConnectionAdapter.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/schemabounce/kolumn/directory/core"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/sqlrunner"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

// Server describes one database server the manager can connect to.
type Server struct {
	ID            int
	DSN           string
	MaintenanceDB string
}

// OpenFunc builds a disconnected handle for database on server.
type OpenFunc func(server Server, database string) (core.Handle, error)

// Options configures a Manager.
type Options struct {
	Open   OpenFunc
	Retry  sqlrunner.RetryPolicy
	Logger telemetry.Logger
}

// Manager is the connection registry of a set of servers.
type Manager struct {
	mu       sync.RWMutex
	servers  map[int]Server
	registry *Registry
	open     OpenFunc
	logger   telemetry.Logger
}

var _ core.ConnectionAdapter = (*Manager)(nil)

// ErrUnknownServer is returned for a server id that was never added.
var ErrUnknownServer = errors.New("unknown server")

// NewManager returns a manager without servers. Handles are opened through
// pgx unless opts.Open is set.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewLogger("connmgr")
	}
	m := &Manager{
		servers:  make(map[int]Server),
		registry: NewRegistry(),
		open:     opts.Open,
		logger:   logger,
	}
	if m.open == nil {
		retry := opts.Retry
		m.open = func(server Server, database string) (core.Handle, error) {
			return NewPGHandle(server.DSN, database, runnerConfig(retry, logger))
		}
	}
	return m
}

// AddServer makes a server known to the manager.
func (m *Manager) AddServer(server Server) error {
	if server.MaintenanceDB == "" {
		server.MaintenanceDB = "postgres"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.servers[server.ID]; exists {
		return fmt.Errorf("server %d already added", server.ID)
	}
	m.servers[server.ID] = server
	return nil
}

// Servers returns the known server ids in ascending order.
func (m *Manager) Servers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (m *Manager) server(id int) (Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return Server{}, fmt.Errorf("server %d: %w", id, ErrUnknownServer)
	}
	return s, nil
}

// Adopt registers a connection opened elsewhere. An adopted handle stays
// registered until Close; when Get hands it out disconnected, Release
// disconnects it again.
func (m *Manager) Adopt(serverID int, handle core.Handle) error {
	return m.registry.Register(Key{ServerID: serverID, Database: handle.Database()}, handle, false)
}

// Get returns the registered handle for database, registering a new
// disconnected one when absent. Preexisting reports whether the handle was
// already connected, in which case the caller must not release it.
func (m *Manager) Get(ctx context.Context, serverID int, database string) (core.Lease, error) {
	key := Key{ServerID: serverID, Database: database}
	if e, ok := m.registry.Lookup(key); ok {
		return m.lease(key, e), nil
	}

	server, err := m.server(serverID)
	if err != nil {
		return core.Lease{}, &core.ConnectionError{ServerID: serverID, Database: database, Err: err}
	}
	handle, err := m.open(server, database)
	if err != nil {
		return core.Lease{}, &core.ConnectionError{ServerID: serverID, Database: database, Err: err}
	}
	if err := m.registry.Register(key, handle, true); err != nil {
		// Lost a race with another Get for the same key.
		if e, ok := m.registry.Lookup(key); ok {
			closeHandle(handle)
			return m.lease(key, e), nil
		}
		return core.Lease{}, err
	}

	m.logger.Debug(ctx, "connmgr.registered", telemetry.Fields{"server_id": serverID, "database": database})
	return core.Lease{Handle: handle}, nil
}

func (m *Manager) lease(key Key, e Entry) core.Lease {
	connected := e.Handle.Connected()
	if !e.Owned && !connected {
		m.registry.SetLent(key, true)
	}
	return core.Lease{Handle: e.Handle, Preexisting: connected}
}

// Release disconnects and unregisters a handle the manager opened. An
// adopted handle that Get handed out disconnected is disconnected again and
// stays registered; any other adopted handle is refused.
func (m *Manager) Release(serverID int, database string) error {
	key := Key{ServerID: serverID, Database: database}
	e, ok := m.registry.Lookup(key)
	if !ok {
		return fmt.Errorf("release %s: no such connection", key)
	}
	switch {
	case e.Owned:
		m.registry.Remove(key)
	case e.Lent:
		m.registry.SetLent(key, false)
	default:
		return fmt.Errorf("release %s: connection is not owned by the manager", key)
	}
	if c, ok := e.Handle.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
	}
	return nil
}

// Connection returns a connected handle to the maintenance database of
// serverID. It stays registered until Close.
func (m *Manager) Connection(ctx context.Context, serverID int) (core.Handle, error) {
	server, err := m.server(serverID)
	if err != nil {
		return nil, err
	}
	lease, err := m.Get(ctx, serverID, server.MaintenanceDB)
	if err != nil {
		return nil, err
	}
	if !lease.Handle.Connected() {
		if err := lease.Handle.Connect(ctx); err != nil {
			return nil, &core.ConnectionError{ServerID: serverID, Database: server.MaintenanceDB, Err: err}
		}
	}
	return lease.Handle, nil
}

// Close disconnects every registered handle the manager owns.
func (m *Manager) Close() error {
	var errs []error
	for key, e := range m.registry.Clear() {
		if !e.Owned {
			continue
		}
		if c, ok := e.Handle.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ServerVersion reads the numeric server version over conn.
func ServerVersion(ctx context.Context, conn core.Executor) (int, error) {
	v, err := conn.ExecuteScalar(ctx, "SHOW server_version_num")
	if err != nil {
		return 0, err
	}
	n, ok := core.ToInt64(v)
	if !ok {
		return 0, fmt.Errorf("unexpected server version value %v", v)
	}
	return int(n), nil
}

// DatIsTemplate reports whether the database conn is attached to is a
// template database.
func DatIsTemplate(ctx context.Context, conn core.Executor) (bool, error) {
	v, err := conn.ExecuteScalar(ctx, "SELECT datistemplate FROM pg_catalog.pg_database WHERE datname = current_database()")
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return t == "t" || t == "true", nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected datistemplate value %v", v)
	}
}

func closeHandle(h core.Handle) {
	if c, ok := h.(io.Closer); ok {
		_ = c.Close()
	}
}
