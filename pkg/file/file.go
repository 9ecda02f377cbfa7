// Package file provides a latch.Store that keeps all settings in a single
// JSON or YAML document on disk. The store also implements latch.Watcher
// using fsnotify, so edits made by hand or by other processes are reported.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Format selects the document encoding.
type Format int

const (
	// JSON stores settings as a flat JSON object of strings.
	JSON Format = iota
	// YAML stores settings as a flat YAML mapping of strings.
	YAML
)

// Store keeps settings as a flat object of string values in one file.
// Writes replace the file atomically. The file is created on the first Set.
type Store struct {
	mu     sync.Mutex
	path   string
	format Format
	perm   fs.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithFormat sets the document format.
// Defaults to YAML for .yaml and .yml paths and JSON otherwise.
func WithFormat(f Format) Option {
	return func(s *Store) {
		s.format = f
	}
}

// WithPerm sets the permissions of a newly created file.
// Defaults to 0600.
func WithPerm(perm fs.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// New creates a Store for the file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		format: formatFor(path),
		perm:   0o600,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value at key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

// Set stores value at key and rewrites the file.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = value
	return s.save(data)
}

// Delete removes key and rewrites the file.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return s.save(data)
}

// Keys returns the keys beginning with prefix, sorted.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch begins watching the file and returns a channel that emits every key
// whose value was added, changed or removed since the previous read. The
// containing directory is watched so atomic replacements are seen.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	s.mu.Lock()
	known, err := s.load()
	s.mu.Unlock()
	if err != nil {
		known = map[string]string{}
	}

	out := make(chan string)
	name := filepath.Clean(s.path)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				// Truncated by an in-place writer; wait for the content
				if info, err := os.Stat(s.path); err == nil && info.Size() == 0 {
					continue
				}

				s.mu.Lock()
				current, err := s.load()
				s.mu.Unlock()
				if err != nil {
					// Partially written or malformed; wait for the next event
					continue
				}

				for _, key := range changedKeys(known, current) {
					select {
					case out <- key:
					case <-ctx.Done():
						return
					}
				}
				known = current

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Continue watching despite errors
			}
		}
	}()

	return out, nil
}

// load reads the file. A missing or empty file holds no settings.
func (s *Store) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	data := map[string]string{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return data, nil
	}

	switch s.format {
	case YAML:
		err = yaml.Unmarshal(raw, &data)
	default:
		err = json.Unmarshal(raw, &data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if data == nil {
		data = map[string]string{}
	}
	return data, nil
}

// save writes data to a temporary file and renames it over the target.
func (s *Store) save(data map[string]string) error {
	var raw []byte
	var err error
	switch s.format {
	case YAML:
		raw, err = yaml.Marshal(data)
	default:
		raw, err = json.MarshalIndent(data, "", "  ")
		raw = append(raw, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Already renamed on success

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(s.perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSON
	}
}

// changedKeys returns the keys whose value differs between the two
// snapshots, including keys present in only one of them, sorted.
func changedKeys(prev, next map[string]string) []string {
	var keys []string
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
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
