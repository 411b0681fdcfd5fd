package settings

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Store is durable settings storage with change notification. Saves are
// last-write-wins; there is no merge.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
	// Subscribe registers fn for every change, local or remote. The returned
	// function unsubscribes and is safe to call more than once.
	Subscribe(fn func(Settings)) (unsubscribe func())
}

// notifier is the subscriber registry shared by the store implementations.
type notifier struct {
	subs   *xsync.Map[uint64, func(Settings)]
	nextID atomic.Uint64
}

func newNotifier() *notifier {
	return &notifier{subs: xsync.NewMap[uint64, func(Settings)]()}
}

func (n *notifier) subscribe(fn func(Settings)) func() {
	id := n.nextID.Add(1)
	n.subs.Store(id, fn)

	var once sync.Once
	return func() {
		once.Do(func() { n.subs.Delete(id) })
	}
}

func (n *notifier) notify(s Settings) {
	n.subs.Range(func(_ uint64, fn func(Settings)) bool {
		fn(s.Clone())
		return true
	})
}

func (n *notifier) count() int {
	return n.subs.Size()
}

// MemoryStore keeps settings in process. Used by tests and as the fallback
// when no file is configured.
type MemoryStore struct {
	mu  sync.RWMutex
	cur Settings
	n   *notifier
}

func NewMemoryStore(initial Settings) *MemoryStore {
	return &MemoryStore{cur: initial.Normalize(), n: newNotifier()}
}

func (m *MemoryStore) Load(_ context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s Settings) error {
	s = s.Normalize()
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	m.n.notify(s)
	return nil
}

func (m *MemoryStore) Subscribe(fn func(Settings)) func() {
	return m.n.subscribe(fn)
}

// Update loads, applies fn, and saves. Concurrent updates are last-write-wins.
func Update(ctx context.Context, st Store, fn func(Settings) Settings) (Settings, error) {
	return TryUpdate(ctx, st, func(s Settings) (Settings, error) { return fn(s), nil })
}

// TryUpdate is Update for edits that can fail. When fn returns an error
// nothing is saved and subscribers are not notified.
func TryUpdate(ctx context.Context, st Store, fn func(Settings) (Settings, error)) (Settings, error) {
	cur, err := st.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return Settings{}, err
	}
	next = next.Normalize()
	if err := st.Save(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}
