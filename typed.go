package latch

import (
	"context"
	"fmt"
)

// Key names a setting together with its Go type, so reads and writes through
// the typed helpers are checked by the compiler:
//
//	var Flag = latch.Key[bool]("flag")
//
//	on, err := latch.Get(ctx, settings, Flag)
//	err = latch.Set(ctx, settings, Flag, true)
type Key[T any] string

// Name returns the setting name.
func (k Key[T]) Name() string {
	return string(k)
}

// Lookup returns the codec instance bound to key.
// It fails with ErrUnknownSetting or ErrTypeMismatch.
func Lookup[T any](s *Settings, key Key[T]) (*Setting[T], error) {
	b, err := s.lookup(key.Name())
	if err != nil {
		return nil, err
	}
	setting, ok := b.(*Setting[T])
	if !ok {
		return nil, fmt.Errorf("%w: setting %s is not %s", ErrTypeMismatch, key.Name(), typeName[T]())
	}
	return setting, nil
}

// Get reads and decodes the setting named by key.
func Get[T any](ctx context.Context, s *Settings, key Key[T]) (T, error) {
	setting, err := Lookup(s, key)
	if err != nil {
		var zero T
		return zero, err
	}
	raw, ok, err := s.read(ctx, key.Name())
	if err != nil {
		var zero T
		return zero, err
	}
	v, derr := setting.decode(raw, ok)
	s.observeRead(ctx, setting, derr)
	return v, nil
}

// Set writes value to the setting named by key.
func Set[T any](ctx context.Context, s *Settings, key Key[T], value T) error {
	setting, err := Lookup(s, key)
	if err != nil {
		return err
	}
	return s.set(ctx, setting, value)
}

// Delete removes the setting named by key.
func Delete[T any](ctx context.Context, s *Settings, key Key[T]) error {
	setting, err := Lookup(s, key)
	if err != nil {
		return err
	}
	return s.delete(ctx, setting)
}

// Subscribe registers a typed callback on the setting named by key.
func Subscribe[T any](s *Settings, key Key[T], fn Callback[T]) (Cancel, error) {
	if _, err := Lookup(s, key); err != nil {
		return nil, err
	}
	return s.subs.Subscribe(key.Name(), func(value any, set bool) {
		v, _ := value.(T) //nolint:errcheck // Registry values for key are T
		fn(v, set)
	}), nil
}
