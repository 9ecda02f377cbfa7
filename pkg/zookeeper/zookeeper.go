// Package zookeeper provides a latch.Store for ZooKeeper. Each key is a
// child node of a root path. The store also implements latch.Watcher using
// ZooKeeper watches.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

// Store keeps each setting as a child node of a root path. Keys are
// path-escaped to form node names, so any key is allowed.
type Store struct {
	conn  *zk.Conn
	root  string
	acl   []zk.ACL
	retry time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithACL sets the ACL applied to created nodes.
// Defaults to zk.WorldACL(zk.PermAll).
func WithACL(acl []zk.ACL) Option {
	return func(s *Store) {
		s.acl = acl
	}
}

// WithRetryInterval sets how long Watch waits before retrying after a
// failed ZooKeeper call. Defaults to one second.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Store) {
		s.retry = d
	}
}

// New creates a Store whose nodes live under root, e.g. "/latch".
func New(conn *zk.Conn, root string, opts ...Option) *Store {
	s := &Store{
		conn:  conn,
		root:  "/" + strings.Trim(root, "/"),
		acl:   zk.WorldACL(zk.PermAll),
		retry: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the data of the node for key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	data, _, err := s.conn.Get(s.path(key))
	if errors.Is(err, zk.ErrNoNode) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes value to the node for key, creating it and the root if needed.
func (s *Store) Set(_ context.Context, key, value string) error {
	path := s.path(key)
	for {
		_, err := s.conn.Set(path, []byte(value), -1)
		if err == nil {
			return nil
		}
		if !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}

		if err := s.ensureRoot(); err != nil {
			return err
		}
		_, err = s.conn.Create(path, []byte(value), 0, s.acl)
		if err == nil {
			return nil
		}
		// Created concurrently, loop to overwrite
		if !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create %s: %w", key, err)
		}
	}
}

// Delete removes the node for key.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.conn.Delete(s.path(key), -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys beginning with prefix, sorted.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	children, _, err := s.conn.Children(s.root)
	if errors.Is(err, zk.ErrNoNode) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}
	keys := make([]string, 0, len(children))
	for _, child := range children {
		key, ok := unescapeKey(child)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch sets a children watch on the root and a data watch on every child
// and returns a channel that emits the key of every node created, changed
// or deleted after the call.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}

	out := make(chan string)
	ended := make(chan string)

	var wg sync.WaitGroup

	emit := func(key string) bool {
		select {
		case out <- key:
			return true
		case <-ctx.Done():
			return false
		}
	}

	watchNode := func(node string) {
		defer wg.Done()
		defer func() {
			select {
			case ended <- node:
			case <-ctx.Done():
			}
		}()

		key, _ := unescapeKey(node)
		path := s.root + "/" + node
		for {
			_, _, eventCh, err := s.conn.GetW(path)
			if err != nil {
				// Gone before the watch was set; the children watch reports it
				return
			}
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				switch event.Type {
				case zk.EventNodeDataChanged:
					if !emit(key) {
						return
					}
				case zk.EventNodeDeleted:
					emit(key)
					return
				default:
					return
				}
			}
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		known := make(map[string]bool)
		initial := true

		for {
			children, _, eventCh, err := s.conn.ChildrenW(s.root)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.retry):
				}
				continue
			}

			current := make(map[string]bool, len(children))
			for _, child := range children {
				current[child] = true
				if known[child] {
					continue
				}
				if _, ok := unescapeKey(child); !ok {
					continue
				}
				known[child] = true
				wg.Add(1)
				go watchNode(child)
				if !initial {
					key, _ := unescapeKey(child)
					if !emit(key) {
						return
					}
				}
			}
			initial = false

			for child := range known {
				if !current[child] {
					delete(known, child)
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-eventCh:
			case node := <-ended:
				delete(known, node)
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (s *Store) path(key string) string {
	return s.root + "/" + escapeKey(key)
}

// ensureRoot creates the root path and its parents if missing.
func (s *Store) ensureRoot() error {
	path := ""
	for _, part := range strings.Split(strings.Trim(s.root, "/"), "/") {
		if part == "" {
			continue
		}
		path += "/" + part
		_, err := s.conn.Create(path, nil, 0, s.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	return nil
}

// escapeKey turns a key into a valid node name.
func escapeKey(key string) string {
	switch key {
	case "":
		return "%"
	case ".", "..":
		return strings.ReplaceAll(key, ".", "%2E")
	}
	return url.PathEscape(key)
}

func unescapeKey(node string) (string, bool) {
	if node == "%" {
		return "", true
	}
	key, err := url.PathUnescape(node)
	if err != nil {
		return "", false
	}
	return key, true
}
