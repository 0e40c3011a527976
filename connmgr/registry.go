package connmgr

import (
	"fmt"
	"sort"
	"sync"

	"github.com/schemabounce/kolumn/directory/core"
)

// Key identifies one connection: a database on a server.
type Key struct {
	ServerID int
	Database string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ServerID, k.Database)
}

// Entry is one registered connection. Owned is true when the adapter opened
// the connection itself and may therefore release it. Lent marks an adopted
// handle handed out disconnected; its borrower disconnects it on release.
type Entry struct {
	Handle core.Handle
	Owned  bool
	Lent   bool
}

// Registry is the connection cache keyed by (server, database).
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]Entry)}
}

// Register adds a connection. Registering the same key twice is an error.
func (r *Registry) Register(key Key, handle core.Handle, owned bool) error {
	if key.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if handle == nil {
		return fmt.Errorf("handle for %s cannot be nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("connection %s already registered", key)
	}
	r.entries[key] = Entry{Handle: handle, Owned: owned}
	return nil
}

// Lookup returns the entry for key.
func (r *Registry) Lookup(key Key) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// SetLent updates the Lent flag of key and reports whether key exists.
func (r *Registry) SetLent(key Key, lent bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if ok {
		e.Lent = lent
		r.entries[key] = e
	}
	return ok
}

// Remove unregisters key and returns what was registered.
func (r *Registry) Remove(key Key) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	return e, ok
}

// Keys returns the registered keys ordered by server and database.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ServerID != keys[j].ServerID {
			return keys[i].ServerID < keys[j].ServerID
		}
		return keys[i].Database < keys[j].Database
	})
	return keys
}

// Clear removes every entry and returns them.
func (r *Registry) Clear() map[Key]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.entries
	r.entries = make(map[Key]Entry)
	return old
}
