// Package etcd provides a latch.Store for etcd keys. The store also
// implements latch.Watcher using the native Watch API.
package etcd

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Store keeps each setting as an etcd key.
type Store struct {
	client *clientv3.Client
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
func New(client *clientv3.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Set puts value at key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.client.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys beginning with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	resp, err := s.client.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithKeysOnly(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return keys, nil
}

// Watch begins watching the key range and returns a channel that emits the
// key of every put or delete event.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	// Anchor the watch at the current revision so no event is lost
	// between setup and the first receive.
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to get current revision: %w", err)
	}

	out := make(chan string)

	go func() {
		defer close(out)

		watchChan := s.client.Watch(ctx, s.prefix,
			clientv3.WithPrefix(),
			clientv3.WithRev(resp.Header.Revision+1),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}

				for _, event := range watchResp.Events {
					select {
					case out <- string(event.Kv.Key):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}
