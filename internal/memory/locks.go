package memory

import "sync"

// userLocks serializes writes per user. Entries are reference counted and
// dropped when unused.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[string]*userLock)}
}

// lock blocks until userID's writer lock is held and returns its release.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.m[userID]
	if !ok {
		ul = &userLock{}
		l.m[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}
}
