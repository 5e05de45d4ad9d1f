package guard

import (
	"context"
	"sync"

	"github.com/propshare/share-indexer/internal/types"
)

// MemoryGuard is an in-process Guard used in tests and single-node local
// runs. Claims do not survive a restart; the replay path tolerates that
// because reprocessing a range is idempotent at the projection level.
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewMemoryGuard creates an empty in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claimed: make(map[string]struct{})}
}

// TryClaim records the key on first sight and rejects repeats.
func (g *MemoryGuard) TryClaim(_ context.Context, key types.EventKey) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key.String()
	if _, ok := g.claimed[k]; ok {
		return false, nil
	}
	g.claimed[k] = struct{}{}
	return true, nil
}

// Release forgets a claim so the key can be claimed again.
func (g *MemoryGuard) Release(_ context.Context, key types.EventKey) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, key.String())
	return nil
}

// Len returns the number of claimed keys.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claimed)
}
