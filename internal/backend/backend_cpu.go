package backend

import (
	"errors"
	"fmt"

	"github.com/tessera-ml/tessera/internal/backend/cpu"
	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
)

func newCPU() (Backend, error) {
	return cpuBackend{b: cpu.New()}, nil
}

// cpuBackend adapts the cpu package to the Backend interface and maps
// its errors into the shared taxonomy.
type cpuBackend struct {
	b *cpu.Backend
}

func (c cpuBackend) Name() string {
	return c.b.Name()
}

func (c cpuBackend) Placement() tensor.Placement {
	return c.b.Placement()
}

func (c cpuBackend) Compile(g *ir.Graph, opts Options) (Executable, error) {
	plan, err := c.b.Compile(g, opts.Workers, opts.LowPower)
	if err != nil {
		if errors.Is(err, cpu.ErrUnsupported) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedOp, err)
		}
		return nil, err
	}
	return plan, nil
}
