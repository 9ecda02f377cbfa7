package latch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Codec defines the string serialization contract for a single setting type.
// Implement this interface to store types the built-in codecs do not cover.
type Codec[T any] interface {
	// Decode parses the stored representation. A returned error makes the
	// owning setting fall back to its default value.
	Decode(raw string) (T, error)

	// Encode renders the stored representation of value.
	Encode(value T) (string, error)
}

// Validator may be implemented by values stored with a structured codec.
// A value failing validation is treated like a malformed stored value.
type Validator interface {
	Validate() error
}

// validate is the shared validator instance for struct tags.
var validate = validator.New()

var (
	errNotBool   = errors.New("not a boolean literal")
	errNotNumber = errors.New("not a number")
	errNotInt    = errors.New("not a base-10 integer")
	errNilInt    = errors.New("nil integer")
)

// BoolCodec stores booleans as the literals "true" and "false".
type BoolCodec struct{}

// Decode accepts only the exact literals "true" and "false".
func (BoolCodec) Decode(raw string) (bool, error) {
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", errNotBool, raw)
	}
}

// Encode returns "true" or "false".
func (BoolCodec) Encode(value bool) (string, error) {
	if value {
		return "true", nil
	}
	return "false", nil
}

// NumberCodec stores float64 values.
type NumberCodec struct{}

// decimalLiteral matches the number syntax ECMAScript writes and reads back:
// no hex, no underscores, no Go spellings of infinity.
var decimalLiteral = regexp.MustCompile(`^[+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)

// Decode parses a decimal literal or Infinity, -Infinity and +Infinity.
// Surrounding whitespace is ignored. NaN is rejected. Literals beyond the
// float64 range decode as infinities.
func (NumberCodec) Decode(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	if !decimalLiteral.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", errNotNumber, raw)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, err
	}
	return n, nil
}

// Encode formats value the way ECMAScript Number.prototype.toString does,
// so values written by browser clients and by this package are identical.
func (NumberCodec) Encode(value float64) (string, error) {
	return formatNumber(value), nil
}

func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}

	abs := math.Abs(v)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	// Go pads exponents to two digits ("1e-07"); ECMAScript does not.
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(v, 'e', -1, 64), "e")
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mantissa + "e" + exp[:1] + digits
}

// BigIntCodec stores arbitrary precision integers as base-10 digits.
type BigIntCodec struct{}

// Decode parses a base-10 integer, ignoring surrounding whitespace.
func (BigIntCodec) Decode(raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errNotInt, raw)
	}
	return n, nil
}

// Encode returns the base-10 digits of value.
func (BigIntCodec) Encode(value *big.Int) (string, error) {
	if value == nil {
		return "", errNilInt
	}
	return value.String(), nil
}

// StringCodec stores strings verbatim.
type StringCodec struct{}

// Decode returns raw unchanged.
func (StringCodec) Decode(raw string) (string, error) {
	return raw, nil
}

// Encode returns value unchanged.
func (StringCodec) Encode(value string) (string, error) {
	return value, nil
}

// JSONCodec stores T as compact JSON using encoding/json.
type JSONCodec[T any] struct{}

// Decode unmarshals raw into a fresh T and validates it.
func (JSONCodec[T]) Decode(raw string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		var zero T
		return zero, err
	}
	if err := validateValue(v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Encode marshals value without HTML escaping or a trailing newline, and
// writes U+2028 and U+2029 unescaped, byte for byte what JSON.stringify
// produces. Values JSON cannot represent, such as channels or NaN, return an
// error.
func (JSONCodec[T]) Encode(value T) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return unescapeLineSeparators(strings.TrimSuffix(buf.String(), "\n")), nil
}

// unescapeLineSeparators replaces the \u2028 and \u2029 escapes that
// encoding/json always emits with the raw characters. Escaped backslashes
// are skipped whole so a literal `\\u2028` in a string is left alone.
func unescapeLineSeparators(s string) string {
	if !strings.Contains(s, `\u202`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		if s[i+1] == 'u' && i+6 <= len(s) {
			switch s[i+2 : i+6] {
			case "2028":
				b.WriteRune('\u2028')
				i += 5
				continue
			case "2029":
				b.WriteRune('\u2029')
				i += 5
				continue
			}
		}
		b.WriteByte(s[i])
		b.WriteByte(s[i+1])
		i++
	}
	return b.String()
}

// YAMLCodec stores T as a YAML document using gopkg.in/yaml.v3.
type YAMLCodec[T any] struct{}

// Decode unmarshals raw into a fresh T and validates it.
func (YAMLCodec[T]) Decode(raw string) (T, error) {
	var v T
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		var zero T
		return zero, err
	}
	if err := validateValue(v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Encode marshals value as YAML.
func (YAMLCodec[T]) Encode(value T) (string, error) {
	out, err := yaml.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// validateValue runs struct tag validation on structs and calls Validate
// on values implementing Validator.
func validateValue(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if err := validate.Struct(rv.Interface()); err != nil {
			return err
		}
	}
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}

// Ensure the built-in codecs implement Codec.
var (
	_ Codec[bool]     = BoolCodec{}
	_ Codec[float64]  = NumberCodec{}
	_ Codec[*big.Int] = BigIntCodec{}
	_ Codec[string]   = StringCodec{}
	_ Codec[any]      = JSONCodec[any]{}
	_ Codec[any]      = YAMLCodec[any]{}
)
