// Package consul provides a latch.Store for Consul KV. The store also
// implements latch.Watcher using blocking queries.
package consul

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/consul/api"
)

// Store keeps each setting as a Consul KV pair.
type Store struct {
	client *api.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithWatchPrefix limits Watch to keys beginning with prefix.
func WithWatchPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store on the given client.
func New(client *api.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	pair, _, err := s.client.KV().Get(key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if pair == nil {
		return "", false, nil
	}
	return string(pair.Value), true, nil
}

// Set puts value at key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	pair := &api.KVPair{Key: key, Value: []byte(value)}
	if _, err := s.client.KV().Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.KV().Delete(key, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys beginning with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, _, err := s.client.KV().Keys(prefix, "", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch begins watching the key range with blocking queries and returns a
// channel that emits every key added, modified or removed.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	kv := s.client.KV()

	// Get initial snapshot and index
	pairs, meta, err := kv.List(s.prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.prefix, err)
	}

	out := make(chan string)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex
		known := indexes(pairs)

		// Watch for changes using blocking queries
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := &api.QueryOptions{
				WaitIndex: lastIndex,
			}
			opts = opts.WithContext(ctx)

			pairs, meta, err := kv.List(s.prefix, opts)
			if err != nil {
				// Context cancelled
				if ctx.Err() != nil {
					return
				}
				// Other error - continue watching
				continue
			}

			if meta.LastIndex == lastIndex {
				continue
			}
			// Index went backwards, e.g. after a snapshot restore
			if meta.LastIndex < lastIndex {
				lastIndex = 0
				continue
			}
			lastIndex = meta.LastIndex

			current := indexes(pairs)
			for _, key := range changedKeys(known, current) {
				select {
				case out <- key:
				case <-ctx.Done():
					return
				}
			}
			known = current
		}
	}()

	return out, nil
}

func indexes(pairs api.KVPairs) map[string]uint64 {
	m := make(map[string]uint64, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.ModifyIndex
	}
	return m
}

// changedKeys returns the keys whose modify index differs between the two
// snapshots, including keys present in only one of them, sorted.
func changedKeys(prev, next map[string]uint64) []string {
	var keys []string
	for k, idx := range next {
		if old, ok := prev[k]; !ok || old != idx {
			keys = append(keys, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
