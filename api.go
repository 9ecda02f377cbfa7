package latch

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Schema maps setting names to their definitions.
type Schema map[string]Definition

// Settings presents a fixed set of named, typed settings layered on a Store.
// Every read goes to the store; every write and delete notifies the
// setting's callbacks and then the subscription Registry.
type Settings struct {
	store    Store
	settings map[string]binding
	subs     *Registry
	prefix   string
	metrics  MetricsProvider
	debounce time.Duration
	clock    clockz.Clock
	watching atomic.Bool
}

// New creates Settings for the declared schema on top of store. One codec
// instance is bound per declared name; the store is not accessed.
//
// Example:
//
//	settings := latch.New(store, latch.Schema{
//	    "flag":  latch.Bool(false),
//	    "prefs": latch.JSON(Prefs{Theme: "dark"}),
//	}).Prefix("setting:")
//
//	flag, err := latch.Get(ctx, settings, latch.Key[bool]("flag"))
func New(store Store, schema Schema) *Settings {
	s := &Settings{
		store:    store,
		settings: make(map[string]binding, len(schema)),
		subs:     NewRegistry(),
		clock:    clockz.RealClock,
	}
	for name, def := range schema {
		s.settings[name] = def.bind(name)
	}
	return s
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Prefix sets the string prepended to every setting name to form its
// storage key. Default: empty. Must be called before use.
func (s *Settings) Prefix(prefix string) *Settings {
	s.prefix = prefix
	return s
}

// Metrics sets a metrics provider for observability integration.
// Must be called before use.
func (s *Settings) Metrics(provider MetricsProvider) *Settings {
	s.metrics = provider
	return s
}

// Debounce sets the window in which external changes to the same key are
// coalesced by Watch. Default: 0 (no coalescing). Must be called before Watch.
func (s *Settings) Debounce(d time.Duration) *Settings {
	s.debounce = d
	return s
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic debounce testing.
// Must be called before use.
func (s *Settings) Clock(clock clockz.Clock) *Settings {
	s.clock = clock
	return s
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

// Subscriptions returns the registry notified on every change.
func (s *Settings) Subscriptions() *Registry {
	return s.subs
}

// Names returns the declared setting names, sorted.
func (s *Settings) Names() []string {
	names := make([]string, 0, len(s.settings))
	for name := range s.settings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kind returns the codec variant a setting was declared with.
func (s *Settings) Kind(name string) (Kind, error) {
	b, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	return b.Kind(), nil
}

// StorageKey returns the store key for a setting name.
func (s *Settings) StorageKey(name string) string {
	return s.prefix + name
}

// -----------------------------------------------------------------------------
// Access
// -----------------------------------------------------------------------------

// Get reads and decodes a setting. Absent or malformed stored values yield
// the declared default.
func (s *Settings) Get(ctx context.Context, name string) (any, error) {
	b, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	raw, ok, err := s.read(ctx, name)
	if err != nil {
		return nil, err
	}
	v, derr := b.decodeAny(raw, ok)
	s.observeRead(ctx, b, derr)
	return v, nil
}

// Set encodes value and writes it, then runs the setting's callbacks and
// notifies subscribers. A nil value stores the default. The store is written
// before anyone is notified, so listeners reading the setting see value.
func (s *Settings) Set(ctx context.Context, name string, value any) error {
	b, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.set(ctx, b, value)
}

// Delete removes a setting from the store, then runs the setting's callbacks
// and notifies subscribers with the default and set=false.
func (s *Settings) Delete(ctx context.Context, name string) error {
	b, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.delete(ctx, b)
}

// Reset deletes every declared setting in name order. It stops at the first
// store error.
func (s *Settings) Reset(ctx context.Context) error {
	for _, name := range s.Names() {
		if err := s.delete(ctx, s.settings[name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Settings) lookup(name string) (binding, error) {
	b, ok := s.settings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}
	return b, nil
}

func (s *Settings) read(ctx context.Context, name string) (string, bool, error) {
	raw, ok, err := s.store.Get(ctx, s.StorageKey(name))
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", name, err)
	}
	return raw, ok, nil
}

func (s *Settings) observeRead(ctx context.Context, b binding, decodeErr error) {
	if s.metrics != nil {
		s.metrics.OnRead(b.Name())
	}
	if decodeErr == nil {
		return
	}
	capitan.Emit(ctx, SettingDecodeFailed,
		KeySetting.Field(b.Name()),
		KeyStorageKey.Field(s.StorageKey(b.Name())),
		KeyKind.Field(b.Kind().String()),
		KeyError.Field(decodeErr.Error()),
	)
	if s.metrics != nil {
		s.metrics.OnDecodeFallback(b.Name())
	}
}

func (s *Settings) set(ctx context.Context, b binding, value any) error {
	start := s.clock.Now()
	name := b.Name()

	raw, effective, err := b.encodeAny(value)
	if err != nil {
		capitan.Emit(ctx, SettingEncodeFailed,
			KeySetting.Field(name),
			KeyKind.Field(b.Kind().String()),
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("failed to encode setting %s: %w", name, err)
	}

	if err := s.store.Set(ctx, s.StorageKey(name), raw); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", name, err)
	}

	b.changeAny(effective, true)
	s.subs.Notify(name, effective, true)

	capitan.Emit(ctx, SettingChanged,
		KeySetting.Field(name),
		KeyStorageKey.Field(s.StorageKey(name)),
		KeyKind.Field(b.Kind().String()),
	)
	if s.metrics != nil {
		s.metrics.OnWrite(name, s.clock.Since(start))
	}
	return nil
}

func (s *Settings) delete(ctx context.Context, b binding) error {
	name := b.Name()
	if err := s.store.Delete(ctx, s.StorageKey(name)); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", name, err)
	}

	def := b.defaultAny()
	b.changeAny(def, false)
	s.subs.Notify(name, def, false)

	capitan.Emit(ctx, SettingDeleted,
		KeySetting.Field(name),
		KeyStorageKey.Field(s.StorageKey(name)),
	)
	if s.metrics != nil {
		s.metrics.OnDelete(name)
	}
	return nil
}
