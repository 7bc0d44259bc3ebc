package engine

import (
	"errors"

	"github.com/tessera-ml/tessera/internal/backend"
	"github.com/tessera-ml/tessera/internal/format"
	"github.com/tessera-ml/tessera/internal/ir"
)

var (
	// ErrContextDisposed rejects any operation against a torn-down
	// execution context. Not retryable; the context must be recreated.
	ErrContextDisposed = errors.New("execution context disposed")

	// ErrMissingBinding means a declared tensor name was not supplied.
	ErrMissingBinding = errors.New("missing tensor binding")

	// ErrUnknownBinding means a supplied tensor name is not declared
	// by the compiled model.
	ErrUnknownBinding = errors.New("unknown tensor binding")

	// ErrShapeMismatch means a supplied buffer disagrees with the
	// compiled model's declared shape or dtype for that binding.
	ErrShapeMismatch = errors.New("tensor shape mismatch")

	// ErrComputeCancelled resolves a compute torn down by the
	// lifecycle controller. Terminal but not a true failure.
	ErrComputeCancelled = errors.New("compute cancelled")
)

// Re-exported so engine consumers can classify failures without
// reaching into internal packages.
var (
	ErrUnsupportedFormat  = format.ErrUnsupportedFormat
	ErrUnsupportedOp      = backend.ErrUnsupportedOp
	ErrBackendUnavailable = backend.ErrBackendUnavailable
)

// ValidationError is the structural rejection produced when untrusted
// model bytes fail validation. Match with errors.As.
type ValidationError = ir.ValidationError
