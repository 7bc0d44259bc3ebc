// Package cpu compiles verified graphs into kernel plans executed on
// the host CPU.
package cpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
)

// ErrUnsupported marks a graph the cpu backend cannot represent.
var ErrUnsupported = errors.New("cpu backend cannot represent operation")

type Backend struct{}

func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string {
	return "cpu"
}

func (b *Backend) Placement() tensor.Placement {
	return tensor.Host
}

// Plan is the compiled form of a graph: a fixed step list over a slot
// table, with constants decoded once. Immutable after Compile; Run
// allocates its own scratch slots so concurrent runs share nothing
// mutable.
type Plan struct {
	graph   *ir.Graph
	consts  map[int][]float32
	inputs  []int
	outputs []int
	workers int
}

// Compile lowers the graph. All compute slots must be f32; f16 is
// accepted for constant slots and widened at compile time.
func (b *Backend) Compile(g *ir.Graph, workers int, lowPower bool) (*Plan, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if lowPower && workers > 1 {
		workers /= 2
	}

	p := &Plan{
		graph:   g,
		consts:  make(map[int][]float32, len(g.Consts)),
		inputs:  g.InputSlots(),
		outputs: g.OutputSlots(),
		workers: workers,
	}

	constSlot := make(map[int]bool, len(g.Consts))
	for _, op := range g.Ops {
		if op.Code == ir.OpConst {
			constSlot[op.Out] = true
		}
	}
	for i, s := range g.Slots {
		switch s.DType {
		case ir.F32:
		case ir.F16:
			if !constSlot[i] {
				return nil, fmt.Errorf("%w: f16 slot %d outside constants", ErrUnsupported, i)
			}
		default:
			return nil, fmt.Errorf("%w: dtype %s (slot %d)", ErrUnsupported, s.DType, i)
		}
	}

	for slot, raw := range g.Consts {
		var vals []float32
		var err error
		switch g.Slots[slot].DType {
		case ir.F16:
			vals, err = tensor.WidenF16(raw)
		default:
			vals, err = tensor.F32Payload(raw)
		}
		if err != nil {
			return nil, fmt.Errorf("const slot %d: %w", slot, err)
		}
		p.consts[slot] = vals
	}
	return p, nil
}

// Run executes the plan. Inputs are positional, matching the graph's
// input binding order; outputs are written into the caller's buffers,
// which must already have the declared output shapes. The context is
// checked between kernels: cancellation never interrupts a kernel
// mid-step but no further step starts once it is observed.
func (p *Plan) Run(ctx context.Context, in []*tensor.Buffer, out []*tensor.Buffer) error {
	if len(in) != len(p.inputs) {
		return fmt.Errorf("plan needs %d inputs, got %d", len(p.inputs), len(in))
	}
	if len(out) != len(p.outputs) {
		return fmt.Errorf("plan needs %d outputs, got %d", len(p.outputs), len(out))
	}

	slots := make([][]float32, len(p.graph.Slots))
	for slot, vals := range p.consts {
		slots[slot] = vals // shared read-only
	}
	for i, slot := range p.inputs {
		vals, err := in[i].F32s()
		if err != nil {
			return err
		}
		slots[slot] = vals
	}

	for i, op := range p.graph.Ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if op.Code == ir.OpInput || op.Code == ir.OpConst {
			continue
		}
		if err := p.exec(op, slots); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Code, err)
		}
	}

	for i, slot := range p.outputs {
		if err := out[i].StoreF32s(slots[slot]); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}

func (p *Plan) Close() error {
	return nil
}
