package latch

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store backed by a map.
// Useful for testing and for settings that need no persistence.
//
// MemoryStore is also a Watcher: every Set, Delete and Clear is reported to
// each running Watch, so several Settings sharing one MemoryStore see each
// other's writes.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[*memoryWatch]struct{}
}

// memoryWatch queues changed keys for one Watch call. Writers append to
// pending and never block on a slow reader.
type memoryWatch struct {
	mu      sync.Mutex
	pending []string
	wake    chan struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]string),
		watchers: make(map[*memoryWatch]struct{}),
	}
}

// Get returns the value stored at key.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value at key.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.publish(key)
	return nil
}

// Delete removes key. Deleting an absent key is not reported to watchers.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return nil
	}
	delete(m.data, key)
	m.publish(key)
	return nil
}

// Keys returns the stored keys beginning with prefix, sorted.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Clear removes every key and reports each one to watchers, in key order.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m.data = make(map[string]string)
	m.publish(keys...)
}

// Watch returns a channel that emits the key of every later Set, Delete and
// Clear, in the order they happened. The channel closes when ctx is done.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan string, error) {
	w := &memoryWatch{wake: make(chan struct{}, 1)}

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.watchers, w)
			m.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			}

			for _, key := range w.drain() {
				select {
				case out <- key:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// publish queues keys for every watcher. Callers hold m.mu.
func (m *MemoryStore) publish(keys ...string) {
	for w := range m.watchers {
		w.mu.Lock()
		w.pending = append(w.pending, keys...)
		w.mu.Unlock()

		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (w *memoryWatch) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := w.pending
	w.pending = nil
	return keys
}

// Ensure MemoryStore implements Store, Lister and Watcher.
var (
	_ Store   = (*MemoryStore)(nil)
	_ Lister  = (*MemoryStore)(nil)
	_ Watcher = (*MemoryStore)(nil)
)
