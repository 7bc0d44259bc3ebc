// Package backend selects and abstracts the execution strategy a
// graph is compiled against.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
)

const (
	CPU     = "cpu"
	GPU     = "gpu"
	Default = "default"
)

var (
	// ErrUnsupportedOp means the selected backend cannot represent an
	// op in the graph. Compilation fails rather than substituting a
	// different execution path.
	ErrUnsupportedOp = errors.New("operation not supported by backend")

	// ErrBackendUnavailable means the requested device has no usable
	// backend in this build or on this host.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Options carries the per-context compilation knobs.
type Options struct {
	// Workers bounds kernel parallelism; 0 lets the backend choose.
	Workers int
	// LowPower asks the backend to trade throughput for power.
	LowPower bool
}

type Backend interface {
	Name() string
	// Placement says where tensors produced by this backend live.
	Placement() tensor.Placement
	// Compile lowers a verified graph into an executable plan. The
	// graph must not be mutated afterwards.
	Compile(g *ir.Graph, opts Options) (Executable, error)
}

// Executable is an immutable compiled plan. Run may be called
// concurrently; each call gets independent scratch state.
type Executable interface {
	Run(ctx context.Context, in []*tensor.Buffer, out []*tensor.Buffer) error
	Close() error
}

// Normalize canonicalizes a device preference string.
func Normalize(name string) (string, error) {
	device := strings.ToLower(strings.TrimSpace(name))
	if device == "" {
		return Default, nil
	}
	switch device {
	case CPU, GPU, Default:
		return device, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected default, cpu, or gpu)", device)
	}
}

// Selection records which backend Select chose and whether the choice
// was a fallback from the preferred device.
type Selection struct {
	Backend  Backend
	FellBack bool
}

// Select resolves a device preference to a backend. The policy is
// deterministic: default always means cpu; gpu means the accelerator
// backend or, only when allowFallback is set, cpu with FellBack
// recorded. It never silently substitutes.
func Select(device string, lowPower bool, allowFallback bool) (Selection, error) {
	switch device {
	case CPU, Default:
		b, err := newCPU()
		if err != nil {
			return Selection{}, err
		}
		return Selection{Backend: b}, nil
	case GPU:
		b, err := newGPU(lowPower)
		if err == nil {
			return Selection{Backend: b}, nil
		}
		if !allowFallback {
			return Selection{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		cpu, cerr := newCPU()
		if cerr != nil {
			return Selection{}, cerr
		}
		return Selection{Backend: cpu, FellBack: true}, nil
	default:
		return Selection{}, fmt.Errorf("unknown device %q", device)
	}
}

// Available returns a comma-separated list of usable devices.
func Available() string {
	entries := []string{CPU}
	if gpuEnabled {
		entries = append(entries, GPU)
	}
	return strings.Join(entries, ",")
}
