package telemetry

import (
	"sort"
	"sync"
)

// Counters is a set of named monotonically increasing counters. The
// dependents scan uses it to make its lenient failure handling observable.
type Counters struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]int64)}
}

var defaultCounters = NewCounters()

// DefaultCounters returns the process-wide counter set.
func DefaultCounters() *Counters {
	return defaultCounters
}

// Inc increments the named counter by one.
func (c *Counters) Inc(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]int64)
	}
	c.values[name]++
}

// Get returns the current value of a counter.
func (c *Counters) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Snapshot returns a copy of every counter.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	if c == nil {
		return out
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Names returns the counter names in sorted order.
func (c *Counters) Names() []string {
	snap := c.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
