package gateway

import (
	"sync"
	"time"
)

// connTable tracks live connections by id. It also owns each
// connection's last activity timestamp, so idle detection and
// activity updates share one lock.
type connTable struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func newConnTable() *connTable {
	return &connTable{
		conns: make(map[string]*conn),
	}
}

// Add registers a connection.
func (t *connTable) Add(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conns[c.id] = c
}

// Remove unregisters a connection.
func (t *connTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.conns, id)
}

// Touch updates the last activity time for a connection.
func (t *connTable) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, exists := t.conns[id]; exists {
		c.lastActivity = time.Now()
	}
}

// Count returns the number of live connections.
func (t *connTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.conns)
}

// All returns all live connections.
func (t *connTable) All() []*conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	return conns
}

// Idle returns the connections whose last activity is older than
// maxIdle.
func (t *connTable) Idle(maxIdle time.Duration) []*conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-maxIdle)
	idle := make([]*conn, 0)
	for _, c := range t.conns {
		if c.lastActivity.Before(cutoff) {
			idle = append(idle, c)
		}
	}
	return idle
}
