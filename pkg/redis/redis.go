// Package redis provides a latch.Store for Redis string keys. The store
// also implements latch.Watcher using keyspace notifications.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store keeps each setting as a Redis string key.
//
// Watch requires Redis to have keyspace notifications enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
type Store struct {
	client *redis.Client
	db     int
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithDB sets the database number used in keyspace channel names.
// It must match the client's DB. Default: 0.
func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

// WithWatchPrefix limits Watch to keys beginning with prefix.
func WithWatchPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store on the given client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value at key without expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys beginning with prefix, sorted. It uses SCAN so it
// does not block the server.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapePattern(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch subscribes to keyspace notifications and returns a channel that
// emits the name of every key that was written, deleted or expired.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	channelPrefix := fmt.Sprintf("__keyspace@%d__:", s.db)
	pubsub := s.client.PSubscribe(ctx, channelPrefix+escapePattern(s.prefix)+"*")

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan string)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if !relevant(msg.Payload) {
					continue
				}
				key := strings.TrimPrefix(msg.Channel, channelPrefix)
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

// relevant reports whether a keyspace event changes a string key's value.
func relevant(event string) bool {
	switch event {
	case "set", "setrange", "append", "incrby", "incrbyfloat", "del", "expired", "evicted", "rename_to":
		return true
	default:
		return false
	}
}

// escapePattern escapes glob metacharacters for MATCH and PSUBSCRIBE.
func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
