package orchestrator

import "sync"

// background tracks fire-and-forget work per user so that erasure and
// session flushes can wait for writes already in flight.
type background struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string]int
}

func newBackground() *background {
	b := &background{pending: make(map[string]int)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *background) start(userID string) {
	b.mu.Lock()
	b.pending[userID]++
	b.mu.Unlock()
}

func (b *background) done(userID string) {
	b.mu.Lock()
	b.pending[userID]--
	if b.pending[userID] <= 0 {
		delete(b.pending, userID)
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// wait blocks until userID has no pending work.
func (b *background) wait(userID string) {
	b.mu.Lock()
	for b.pending[userID] > 0 {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// waitAll blocks until no user has pending work.
func (b *background) waitAll() {
	b.mu.Lock()
	for len(b.pending) > 0 {
		b.cond.Wait()
	}
	b.mu.Unlock()
}
