package latch

import "context"

// Store is the string key-value backend settings are persisted in.
// Each call must be atomic for its key and immediately visible to later
// calls on the same key.
type Store interface {
	// Get returns the value stored at key. ok is false when no value is
	// present; that is not an error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	// Keys returns the keys beginning with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Watcher is implemented by stores that can observe writes made by other
// processes, such as keyspace notifications or file system events.
type Watcher interface {
	// Watch begins observing the store and returns a channel that emits the
	// storage key of every change, including deletions. The channel is
	// closed when the context is canceled or an unrecoverable error occurs.
	Watch(ctx context.Context) (<-chan string, error)
}
