package latch

import "math/big"

// Callback observes changes to a single setting. set is false when the
// setting was deleted, in which case value is the setting's default.
type Callback[T any] func(value T, set bool)

// Definition declares one setting in a Schema. Definitions are created with
// Bool, Number, BigInt, String, JSON, YAML or Custom and cannot be
// implemented outside this package.
type Definition interface {
	// Kind reports the codec variant of the definition.
	Kind() Kind

	bind(name string) binding
}

// Def is the immutable declaration of a setting of type T: its codec, its
// default value and the callbacks run on every change.
//
// The default value is handed out as-is on reads of absent or malformed
// values; treat reference-typed defaults as read-only.
type Def[T any] struct {
	kind      Kind
	codec     Codec[T]
	def       T
	callbacks []Callback[T]
}

// Kind reports the codec variant of the definition.
func (d Def[T]) Kind() Kind {
	return d.kind
}

// Default returns the declared default value.
func (d Def[T]) Default() T {
	return d.def
}

func (d Def[T]) bind(name string) binding {
	return &Setting[T]{
		name:      name,
		kind:      d.kind,
		codec:     d.codec,
		def:       d.def,
		callbacks: d.callbacks,
	}
}

func newDef[T any](kind Kind, codec Codec[T], def T, callbacks []Callback[T]) Def[T] {
	return Def[T]{
		kind:      kind,
		codec:     codec,
		def:       def,
		callbacks: append([]Callback[T](nil), callbacks...),
	}
}

// Bool declares a boolean setting.
func Bool(def bool, callbacks ...Callback[bool]) Def[bool] {
	return newDef[bool](KindBool, BoolCodec{}, def, callbacks)
}

// Number declares a floating point setting.
func Number(def float64, callbacks ...Callback[float64]) Def[float64] {
	return newDef[float64](KindNumber, NumberCodec{}, def, callbacks)
}

// BigInt declares an arbitrary precision integer setting. A nil default is
// replaced with zero.
func BigInt(def *big.Int, callbacks ...Callback[*big.Int]) Def[*big.Int] {
	if def == nil {
		def = new(big.Int)
	}
	return newDef[*big.Int](KindBigInt, BigIntCodec{}, def, callbacks)
}

// String declares a text setting.
func String(def string, callbacks ...Callback[string]) Def[string] {
	return newDef[string](KindString, StringCodec{}, def, callbacks)
}

// JSON declares a structured setting stored as compact JSON.
func JSON[T any](def T, callbacks ...Callback[T]) Def[T] {
	return newDef[T](KindJSON, JSONCodec[T]{}, def, callbacks)
}

// YAML declares a structured setting stored as a YAML document.
func YAML[T any](def T, callbacks ...Callback[T]) Def[T] {
	return newDef[T](KindYAML, YAMLCodec[T]{}, def, callbacks)
}

// Custom declares a setting stored with a caller supplied codec.
func Custom[T any](codec Codec[T], def T, callbacks ...Callback[T]) Def[T] {
	return newDef[T](KindCustom, codec, def, callbacks)
}
