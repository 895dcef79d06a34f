package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard keeps signatures in process memory. Dedup state does not
// survive restart, so this backend suits tests and ephemeral
// deployments where the compensating poller is trusted to re-derive
// anything lost.
type MemoryGuard struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
}

// NewMemoryGuard creates an in-memory guard.
func NewMemoryGuard(window time.Duration) *MemoryGuard {
	return &MemoryGuard{
		seen:   make(map[string]time.Time),
		window: window,
	}
}

func (g *MemoryGuard) Acquire(ctx context.Context, signature string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if seenAt, ok := g.seen[signature]; ok && now.Sub(seenAt) < g.window {
		return false, nil
	}
	g.seen[signature] = now
	return true, nil
}

func (g *MemoryGuard) CleanupExpired(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	removed := 0
	for signature, seenAt := range g.seen {
		if now.Sub(seenAt) >= g.window {
			delete(g.seen, signature)
			removed++
		}
	}
	return removed, nil
}

func (g *MemoryGuard) Close() error {
	return nil
}
