package syncer

import "sync"

// Guard is the per-applyCode in-flight guard. The store itself does not
// serialize cross-batch access, so anything driving download or upload
// batches must hold the product's slot for the duration of the batch.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]bool
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]bool)}
}

// TryAcquire reserves the applyCode. Returns false when a batch is already
// running against the same product.
func (g *Guard) TryAcquire(applyCode string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[applyCode] {
		return false
	}
	g.inflight[applyCode] = true
	return true
}

// Release frees the applyCode.
func (g *Guard) Release(applyCode string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, applyCode)
}
