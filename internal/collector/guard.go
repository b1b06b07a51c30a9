package collector

import "sync"

// guard lets at most one sweep run per key at a time. A key that is busy
// is skipped, not queued.
type guard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newGuard() *guard {
	return &guard{running: make(map[string]struct{})}
}

// tryAcquire marks key busy, returning false if it already was
func (g *guard) tryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[key]; busy {
		return false
	}
	g.running[key] = struct{}{}
	return true
}

func (g *guard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, key)
}
