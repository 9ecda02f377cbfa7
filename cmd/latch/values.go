package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/zoobzio/latch"
)

// definitionFor returns the definition used to route a value of kind
// through Settings.
func definitionFor(kind latch.Kind) (latch.Definition, error) {
	switch kind {
	case latch.KindBool:
		return latch.Bool(false), nil
	case latch.KindNumber:
		return latch.Number(0), nil
	case latch.KindBigInt:
		return latch.BigInt(nil), nil
	case latch.KindString:
		return latch.String(""), nil
	case latch.KindJSON:
		return latch.JSON[any](nil), nil
	case latch.KindYAML:
		return latch.YAML[any](nil), nil
	default:
		return nil, fmt.Errorf("kind %s cannot be used from the command line", kind)
	}
}

// parseValue decodes raw strictly with the codec for kind.
func parseValue(kind latch.Kind, raw string) (any, error) {
	var (
		v   any
		err error
	)
	switch kind {
	case latch.KindBool:
		v, err = decode[bool](latch.BoolCodec{}, raw)
	case latch.KindNumber:
		v, err = decode[float64](latch.NumberCodec{}, raw)
	case latch.KindBigInt:
		v, err = decode[*big.Int](latch.BigIntCodec{}, raw)
	case latch.KindString:
		v, err = raw, nil
	case latch.KindJSON:
		v, err = decode[any](latch.JSONCodec[any]{}, raw)
	case latch.KindYAML:
		v, err = decode[any](latch.YAMLCodec[any]{}, raw)
	default:
		return nil, fmt.Errorf("kind %s cannot be used from the command line", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", kind, raw, err)
	}
	return v, nil
}

// formatValue renders a value produced by parseValue in its canonical
// stored form.
func formatValue(kind latch.Kind, v any) (string, error) {
	switch kind {
	case latch.KindBool:
		return latch.BoolCodec{}.Encode(v.(bool)) //nolint:errcheck // Produced by parseValue
	case latch.KindNumber:
		return latch.NumberCodec{}.Encode(v.(float64)) //nolint:errcheck // Produced by parseValue
	case latch.KindBigInt:
		return latch.BigIntCodec{}.Encode(v.(*big.Int)) //nolint:errcheck // Produced by parseValue
	case latch.KindJSON:
		return latch.JSONCodec[any]{}.Encode(v)
	case latch.KindYAML:
		out, err := latch.YAMLCodec[any]{}.Encode(v)
		return strings.TrimSuffix(out, "\n"), err
	default:
		s, _ := v.(string) //nolint:errcheck // Produced by parseValue
		return s, nil
	}
}

func decode[T any](codec latch.Codec[T], raw string) (any, error) {
	v, err := codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	return v, nil
}
