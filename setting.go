package latch

import (
	"fmt"
	"reflect"
)

// binding is the type-erased view of a Setting used by the Settings façade.
type binding interface {
	Name() string
	Kind() Kind
	decodeAny(raw string, ok bool) (any, error)
	encodeAny(value any) (raw string, effective any, err error)
	changeAny(value any, set bool)
	defaultAny() any
}

// Setting is the codec instance bound to one declared name. It converts
// between the stored string and T, substitutes the default for absent or
// malformed values, and fans out change callbacks.
type Setting[T any] struct {
	name      string
	kind      Kind
	codec     Codec[T]
	def       T
	callbacks []Callback[T]
}

// Name returns the declared setting name.
func (s *Setting[T]) Name() string {
	return s.name
}

// Kind returns the codec variant.
func (s *Setting[T]) Kind() Kind {
	return s.kind
}

// Default returns the declared default value.
func (s *Setting[T]) Default() T {
	return s.def
}

// Decode converts a stored value. When ok is false, or raw cannot be
// parsed, the default value is returned.
func (s *Setting[T]) Decode(raw string, ok bool) T {
	v, _ := s.decode(raw, ok) //nolint:errcheck // Fallback already applied
	return v
}

// decode is Decode that also reports the parse error behind a fallback.
func (s *Setting[T]) decode(raw string, ok bool) (T, error) {
	if !ok {
		return s.def, nil
	}
	v, err := s.codec.Decode(raw)
	if err != nil {
		return s.def, err
	}
	return v, nil
}

// Encode converts value to its stored form. A nil value encodes the default.
// Errors from the codec are returned unchanged.
func (s *Setting[T]) Encode(value T) (string, error) {
	return s.codec.Encode(s.resolve(value))
}

// HandleChange invokes every callback in declaration order.
func (s *Setting[T]) HandleChange(value T, set bool) {
	for _, cb := range s.callbacks {
		cb(value, set)
	}
}

// resolve substitutes the default for an absent value.
func (s *Setting[T]) resolve(value T) T {
	if isAbsent(value) {
		return s.def
	}
	return value
}

func (s *Setting[T]) decodeAny(raw string, ok bool) (any, error) {
	return s.decode(raw, ok)
}

func (s *Setting[T]) encodeAny(value any) (string, any, error) {
	var v T
	if value != nil {
		tv, ok := coerce[T](value)
		if !ok {
			return "", nil, fmt.Errorf("%w: setting %s is %s, got %T", ErrTypeMismatch, s.name, typeName[T](), value)
		}
		v = tv
	}
	v = s.resolve(v)
	raw, err := s.codec.Encode(v)
	if err != nil {
		return "", nil, err
	}
	return raw, v, nil
}

func (s *Setting[T]) changeAny(value any, set bool) {
	v, _ := value.(T) //nolint:errcheck // Values originate from this setting
	s.HandleChange(v, set)
}

func (s *Setting[T]) defaultAny() any {
	return s.def
}

// coerce converts value to T, allowing conversions between numeric kinds so
// that an untyped constant like 3 can be assigned to a Number setting.
// Conversions that would truncate, overflow or flip the sign are refused.
func coerce[T any](value any) (T, bool) {
	if v, ok := value.(T); ok {
		return v, true
	}
	var zero T
	target := reflect.TypeOf(&zero).Elem()
	rv := reflect.ValueOf(value)
	if !isNumeric(rv.Kind()) || !isNumeric(target.Kind()) {
		return zero, false
	}
	converted := rv.Convert(target)
	if !converted.Convert(rv.Type()).Equal(rv) || isNegative(converted) != isNegative(rv) {
		return zero, false
	}
	return converted.Interface().(T), true //nolint:errcheck // Converted to T above
}

func isNegative(v reflect.Value) bool {
	switch {
	case v.CanInt():
		return v.Int() < 0
	case v.CanFloat():
		return v.Float() < 0
	default:
		return false
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// isAbsent reports whether v is nil or a nil pointer, map, slice,
// interface, channel or func.
func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
