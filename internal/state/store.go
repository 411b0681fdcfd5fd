package state

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Store holds the single process-wide SharedState. Writes overwrite without
// merging; every registered subscriber is called once per write.
type Store struct {
	mu  sync.RWMutex
	cur SharedState

	subs   *xsync.Map[uint64, func(SharedState)]
	nextID atomic.Uint64
}

// NewStore creates a store holding the power-on default.
func NewStore() *Store {
	return &Store{
		cur:  Default(),
		subs: xsync.NewMap[uint64, func(SharedState)](),
	}
}

// Read returns the last written value, or the default.
func (s *Store) Read() SharedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.cur)
}

// Write replaces the state and delivers it to subscribers before returning.
func (s *Store) Write(st SharedState) {
	st = copyState(st)

	s.mu.Lock()
	s.cur = st
	s.mu.Unlock()

	s.subs.Range(func(_ uint64, fn func(SharedState)) bool {
		fn(copyState(st))
		return true
	})
}

// Subscribe registers fn. The returned function unsubscribes; calling it
// again is a no-op.
func (s *Store) Subscribe(fn func(SharedState)) func() {
	id := s.nextID.Add(1)
	s.subs.Store(id, fn)

	var once sync.Once
	return func() {
		once.Do(func() { s.subs.Delete(id) })
	}
}

// Subscribers returns the number of registered callbacks.
func (s *Store) Subscribers() int {
	return s.subs.Size()
}

func copyState(st SharedState) SharedState {
	if st.LastValue != nil {
		v := *st.LastValue
		st.LastValue = &v
	}
	return st
}
