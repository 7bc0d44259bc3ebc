package ir

import "fmt"

// Kind classifies a structural violation found while decoding or
// verifying untrusted model bytes.
type Kind uint8

const (
	KindTruncated Kind = iota
	KindBadMagic
	KindBadVersion
	KindBadOpcode
	KindBadArity
	KindForwardRef
	KindRedefinedSlot
	KindUndefinedSlot
	KindUnresolvedShape
	KindShapeMismatch
	KindDTypeMismatch
	KindBadConst
	KindBadBinding
	KindOutOfBounds
)

func (k Kind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindBadMagic:
		return "bad magic"
	case KindBadVersion:
		return "unsupported version"
	case KindBadOpcode:
		return "disallowed opcode"
	case KindBadArity:
		return "wrong input count"
	case KindForwardRef:
		return "forward reference"
	case KindRedefinedSlot:
		return "slot redefined"
	case KindUndefinedSlot:
		return "slot never defined"
	case KindUnresolvedShape:
		return "unresolved shape"
	case KindShapeMismatch:
		return "shape mismatch"
	case KindDTypeMismatch:
		return "dtype mismatch"
	case KindBadConst:
		return "bad constant payload"
	case KindBadBinding:
		return "bad binding"
	case KindOutOfBounds:
		return "out of bounds"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ValidationError reports a single structural violation with the byte
// offset of the offending record. Validation never partially succeeds:
// the first violation aborts the whole load.
type ValidationError struct {
	Kind   Kind
	Offset int64
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("model validation: %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("model validation: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

func Errf(kind Kind, offset int64, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}
