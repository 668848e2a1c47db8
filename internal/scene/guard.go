package scene

import "sync"

// Guard serializes access to a single shared Engine: Exclusive handlers
// take the write side, Shared handlers take the read side, Free handlers
// take neither. It is an ordinary sync.RWMutex — the specification calls
// for no priority-inversion avoidance beyond what Go's runtime already
// gives a standard RW-lock.
type Guard struct {
	mu     sync.RWMutex
	engine Engine
}

// NewGuard wraps engine behind a readers-writer lock.
func NewGuard(engine Engine) *Guard {
	return &Guard{engine: engine}
}

// Exclusive runs fn with the write lock held, returning fn's error.
func (g *Guard) Exclusive(fn func(Engine) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.engine)
}

// Shared runs fn with the read lock held.
func (g *Guard) Shared(fn func(Engine) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.engine)
}
