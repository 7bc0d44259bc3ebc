//go:build gpu

package backend

import (
	"errors"
	"fmt"

	"github.com/tessera-ml/tessera/internal/backend/gpu"
	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
)

const gpuEnabled = true

func newGPU(lowPower bool) (Backend, error) {
	b, err := gpu.New(lowPower)
	if err != nil {
		return nil, err
	}
	return gpuBackend{b: b}, nil
}

// gpuBackend adapts the gpu package to the Backend interface and maps
// its errors into the shared taxonomy.
type gpuBackend struct {
	b *gpu.Backend
}

func (g gpuBackend) Name() string {
	return g.b.Name()
}

func (g gpuBackend) Placement() tensor.Placement {
	return g.b.Placement()
}

func (g gpuBackend) Compile(graph *ir.Graph, opts Options) (Executable, error) {
	plan, err := g.b.Compile(graph, opts.Workers, opts.LowPower)
	if err != nil {
		if errors.Is(err, gpu.ErrUnsupported) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedOp, err)
		}
		return nil, err
	}
	return plan, nil
}
