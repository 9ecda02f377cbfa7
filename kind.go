package latch

// Kind tags the codec variant a setting was declared with.
type Kind int

const (
	// KindBool stores "true" or "false".
	KindBool Kind = iota

	// KindNumber stores a float64 in ECMAScript number notation.
	KindNumber

	// KindBigInt stores an arbitrary precision integer as base-10 digits.
	KindBigInt

	// KindString stores the value verbatim.
	KindString

	// KindJSON stores compact JSON.
	KindJSON

	// KindYAML stores a YAML document.
	KindYAML

	// KindCustom uses a caller supplied Codec.
	KindCustom
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindBigInt:
		return "bigint"
	case KindString:
		return "string"
	case KindJSON:
		return "json"
	case KindYAML:
		return "yaml"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseKind returns the Kind named by s, as produced by Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k := KindBool; k <= KindCustom; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
