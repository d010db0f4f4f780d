package orchestrator

import "sync"

// userGates orders turns and session flushes against erasure of the same
// user: turns share a user's gate, Erase holds it exclusively. Entries are
// dropped when no one holds or waits for them.
type userGates struct {
	mu sync.Mutex
	m  map[string]*gate
}

type gate struct {
	sync.RWMutex
	refs int
}

func newUserGates() *userGates {
	return &userGates{m: make(map[string]*gate)}
}

func (g *userGates) get(userID string) *gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.m[userID]
	if !ok {
		e = &gate{}
		g.m[userID] = e
	}
	e.refs++
	return e
}

func (g *userGates) put(userID string, e *gate) {
	g.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(g.m, userID)
	}
	g.mu.Unlock()
}

// read enters userID's gate shared and returns the release func.
func (g *userGates) read(userID string) func() {
	e := g.get(userID)
	e.RLock()
	return func() {
		e.RUnlock()
		g.put(userID, e)
	}
}

// write enters userID's gate exclusively and returns the release func.
func (g *userGates) write(userID string) func() {
	e := g.get(userID)
	e.Lock()
	return func() {
		e.Unlock()
		g.put(userID, e)
	}
}
