//go:build gpu

// Package gpu compiles verified graphs into WebGPU compute pipelines.
// It is an optional build: without the gpu tag the selector reports
// the device unavailable.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
)

// ErrUnsupported marks a graph the gpu backend cannot represent.
var ErrUnsupported = errors.New("gpu backend cannot represent operation")

type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	mu        sync.Mutex
	pipelines map[string]*wgpu.ComputePipeline
}

// New initializes a WebGPU device. It fails cleanly when no adapter
// or native library is present so the selector can apply its fallback
// policy.
func New(lowPower bool) (b *Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = fmt.Errorf("webgpu native library not available: %v", r)
		}
	}()

	power := wgpu.PowerPreferenceHighPerformance
	if lowPower {
		power = wgpu.PowerPreferenceLowPower
	}

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: power,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.New("no device queue")
	}
	return &Backend{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}, nil
}

func (b *Backend) Name() string {
	return "gpu"
}

func (b *Backend) Placement() tensor.Placement {
	return tensor.Device
}

func (b *Backend) Release() {
	b.mu.Lock()
	for _, p := range b.pipelines {
		p.Release()
	}
	b.pipelines = nil
	b.mu.Unlock()
	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
}

func (b *Backend) pipeline(name, wgsl string) *wgpu.ComputePipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pipelines[name]; ok {
		return p
	}
	shader := b.device.CreateShaderModuleWGSL(wgsl)
	p := b.device.CreateComputePipelineSimple(nil, shader, "main")
	b.pipelines[name] = p
	return p
}

// Plan keeps constant tensors resident on the device; per-run slot
// buffers are created fresh so concurrent runs never alias.
type Plan struct {
	backend *Backend
	graph   *ir.Graph
	consts  map[int]*wgpu.Buffer
	inputs  []int
	outputs []int
}

func (b *Backend) Compile(g *ir.Graph, workers int, lowPower bool) (*Plan, error) {
	_ = workers // dispatch width is the driver's concern

	for i, s := range g.Slots {
		switch s.DType {
		case ir.F32:
		case ir.F16:
			if _, ok := g.Consts[i]; !ok {
				return nil, fmt.Errorf("%w: f16 slot %d outside constants", ErrUnsupported, i)
			}
		default:
			return nil, fmt.Errorf("%w: dtype %s (slot %d)", ErrUnsupported, s.DType, i)
		}
	}

	p := &Plan{
		backend: b,
		graph:   g,
		consts:  make(map[int]*wgpu.Buffer, len(g.Consts)),
		inputs:  g.InputSlots(),
		outputs: g.OutputSlots(),
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
			p.Close()
			return nil, fmt.Errorf("const slot %d: %w", slot, err)
		}
		p.consts[slot] = b.uploadF32(vals)
	}
	return p, nil
}

func (b *Backend) uploadF32(vals []float32) *wgpu.Buffer {
	size := uint64(len(vals) * 4)
	buf := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buf.GetMappedRange(0, size)), size)
	copy(mapped, unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), size))
	buf.Unmap()
	return buf
}

func (b *Backend) scratch(elems int) *wgpu.Buffer {
	return b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  uint64(elems * 4),
	})
}

func (b *Backend) uniform(words ...uint32) *wgpu.Buffer {
	data := make([]byte, 16)
	for i, w := range words {
		data[i*4] = byte(w)
		data[i*4+1] = byte(w >> 8)
		data[i*4+2] = byte(w >> 16)
		data[i*4+3] = byte(w >> 24)
	}
	buf := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             16,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buf.GetMappedRange(0, 16)), 16)
	copy(mapped, data)
	buf.Unmap()
	return buf
}

func (p *Plan) Run(ctx context.Context, in []*tensor.Buffer, out []*tensor.Buffer) error {
	if len(in) != len(p.inputs) {
		return fmt.Errorf("plan needs %d inputs, got %d", len(p.inputs), len(in))
	}
	if len(out) != len(p.outputs) {
		return fmt.Errorf("plan needs %d outputs, got %d", len(p.outputs), len(out))
	}

	slots := make([]*wgpu.Buffer, len(p.graph.Slots))
	scratch := make([]*wgpu.Buffer, 0, len(p.graph.Slots))
	defer func() {
		for _, buf := range scratch {
			buf.Release()
		}
	}()

	for slot, buf := range p.consts {
		slots[slot] = buf
	}
	for i, slot := range p.inputs {
		vals, err := in[i].F32s()
		if err != nil {
			return err
		}
		buf := p.backend.uploadF32(vals)
		scratch = append(scratch, buf)
		slots[slot] = buf
	}

	for i, op := range p.graph.Ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if op.Code == ir.OpInput || op.Code == ir.OpConst {
			continue
		}
		buf, err := p.dispatch(op, slots)
		if err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Code, err)
		}
		scratch = append(scratch, buf)
		slots[op.Out] = buf
	}

	for i, slot := range p.outputs {
		n, _ := p.graph.Slots[slot].Shape.Elements()
		raw, err := p.backend.readBuffer(slots[slot], uint64(n*4))
		if err != nil {
			return err
		}
		vals, err := tensor.F32Payload(raw)
		if err != nil {
			return err
		}
		if err := out[i].StoreF32s(vals); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}

func (p *Plan) Close() error {
	for _, buf := range p.consts {
		buf.Release()
	}
	p.consts = nil
	return nil
}

func (b *Backend) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}
	mapped := unsafe.Slice((*byte)(staging.GetMappedRange(0, size)), size)
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}
