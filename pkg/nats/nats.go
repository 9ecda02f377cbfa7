// Package nats provides a latch.Store for a NATS JetStream KV bucket. The
// store also implements latch.Watcher using the native Watch API.
//
// Bucket keys are restricted to letters, digits and the characters - / _ = .
// so settings stored here should use a prefix such as "settings." rather
// than "settings:".
package nats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Store keeps each setting as a key in a JetStream KV bucket.
type Store struct {
	kv     jetstream.KeyValue
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

// New creates a Store on the given bucket.
func New(kv jetstream.KeyValue, opts ...Option) *Store {
	s := &Store{kv: kv}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the latest value at key. Deleted and purged keys are absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return string(entry.Value()), true, nil
}

// Set puts value at key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.kv.PutString(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Delete places a delete marker on key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the live keys beginning with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch begins watching the bucket and returns a channel that emits the key
// of every put, delete or purge made after the call.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to watch bucket: %w", err)
	}

	out := make(chan string)

	go func() {
		defer close(out)
		defer watcher.Stop() //nolint:errcheck // Best effort on shutdown

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil entry signals end of initial values
				if entry == nil {
					continue
				}
				if !strings.HasPrefix(entry.Key(), s.prefix) {
					continue
				}

				select {
				case out <- entry.Key():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
