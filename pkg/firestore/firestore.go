// Package firestore provides a latch.Store for a Firestore collection. The
// store also implements latch.Watcher using realtime listeners.
package firestore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	keyField   = "key"
	valueField = "value"
)

// Store keeps each setting as a document in a collection. The document ID
// is the escaped key; the document holds the key and value as fields:
//
//	{"key": "setting:flag", "value": "true"}
type Store struct {
	client     *firestore.Client
	collection string
}

// Option configures a Store.
type Option func(*Store)

// New creates a Store on the given collection.
func New(client *firestore.Client, collection string, opts ...Option) *Store {
	s := &Store{
		client:     client,
		collection: collection,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value field of the document for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	value, ok := stringField(snap.Data(), valueField)
	if !ok {
		return "", false, nil
	}
	return value, true, nil
}

// Set writes the document for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.doc(key).Set(ctx, map[string]interface{}{
		keyField:   key,
		valueField: value,
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes the document for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys beginning with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var keys []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", s.collection, err)
		}
		key, ok := stringField(snap.Data(), keyField)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch listens to the collection and returns a channel that emits the key
// of every document added, modified or removed after the call.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	snapshots := s.client.Collection(s.collection).Snapshots(ctx)

	out := make(chan string)

	go func() {
		defer close(out)
		defer snapshots.Stop()

		initial := true
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				continue
			}

			// The first snapshot lists every existing document as added
			if initial {
				initial = false
				continue
			}

			for _, change := range snap.Changes {
				key, ok := stringField(change.Doc.Data(), keyField)
				if !ok {
					continue
				}
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

func (s *Store) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID(key))
}

func stringField(data map[string]interface{}, field string) (string, bool) {
	switch v := data[field].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// documentID turns a key into a valid document ID: no slashes, not "." or
// "..", and not of the reserved form __name__.
func documentID(key string) string {
	switch key {
	case "":
		return "%"
	case ".", "..":
		return strings.ReplaceAll(key, ".", "%2E")
	}
	id := url.PathEscape(key)
	if strings.HasPrefix(id, "__") {
		id = "%5F" + id[1:]
	}
	return id
}
