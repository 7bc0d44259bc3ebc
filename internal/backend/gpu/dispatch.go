//go:build gpu

package gpu

import (
	"fmt"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/tessera-ml/tessera/internal/ir"
)

func (p *Plan) dispatch(op ir.Op, slots []*wgpu.Buffer) (*wgpu.Buffer, error) {
	g := p.graph
	outShape := g.Slots[op.Out].Shape
	n, _ := outShape.Elements()

	switch op.Code {
	case ir.OpAdd:
		return p.binary(addShader, "add", slots[op.In[0]], slots[op.In[1]], n)
	case ir.OpMul:
		return p.binary(mulShader, "mul", slots[op.In[0]], slots[op.In[1]], n)
	case ir.OpRelu:
		return p.unary(reluShader, "relu", slots[op.In[0]], n)
	case ir.OpSigmoid:
		return p.unary(sigmoidShader, "sigmoid", slots[op.In[0]], n)
	case ir.OpTanh:
		return p.unary(tanhShader, "tanh", slots[op.In[0]], n)
	case ir.OpMatMul:
		as := g.Slots[op.In[0]].Shape
		bs := g.Slots[op.In[1]].Shape
		return p.matmul(slots[op.In[0]], slots[op.In[1]], as[0], as[1], bs[1])
	case ir.OpSoftmax:
		in := g.Slots[op.In[0]].Shape
		inner := in[len(in)-1]
		return p.softmax(slots[op.In[0]], n/inner, inner)
	case ir.OpReshape:
		return p.copyBuffer(slots[op.In[0]], n)
	case ir.OpTranspose:
		in := g.Slots[op.In[0]].Shape
		return p.transpose(slots[op.In[0]], in[0], in[1])
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, op.Code)
	}
}

func (p *Plan) run(name, wgsl string, entries []wgpu.BindGroupEntry, groupsX uint32) (*wgpu.Buffer, error) {
	b := p.backend
	pipeline := b.pipeline(name, wgsl)
	bindGroup, err := b.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), entries)
	if err != nil {
		return nil, fmt.Errorf("bind group %s: %w", name, err)
	}
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groupsX, 1, 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))
	return nil, nil
}

func (p *Plan) binary(wgsl, name string, a, bBuf *wgpu.Buffer, n int) (*wgpu.Buffer, error) {
	b := p.backend
	dst := b.scratch(n)
	params := b.uniform(uint32(n))
	defer params.Release()
	size := uint64(n * 4)
	_, err := p.run(name, wgsl, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, a, 0, size),
		wgpu.BufferBindingEntry(1, bBuf, 0, size),
		wgpu.BufferBindingEntry(2, dst, 0, size),
		wgpu.BufferBindingEntry(3, params, 0, 16),
	}, groups(n, workgroupSize))
	if err != nil {
		dst.Release()
		return nil, err
	}
	return dst, nil
}

func (p *Plan) unary(wgsl, name string, a *wgpu.Buffer, n int) (*wgpu.Buffer, error) {
	b := p.backend
	dst := b.scratch(n)
	params := b.uniform(uint32(n))
	defer params.Release()
	size := uint64(n * 4)
	_, err := p.run(name, wgsl, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, a, 0, size),
		wgpu.BufferBindingEntry(1, dst, 0, size),
		wgpu.BufferBindingEntry(2, params, 0, 16),
	}, groups(n, workgroupSize))
	if err != nil {
		dst.Release()
		return nil, err
	}
	return dst, nil
}

func (p *Plan) matmul(a, bBuf *wgpu.Buffer, m, k, n int) (*wgpu.Buffer, error) {
	b := p.backend
	dst := b.scratch(m * n)
	params := b.uniform(uint32(m), uint32(k), uint32(n))
	defer params.Release()
	_, err := p.run("matmul", matmulShader, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, a, 0, uint64(m*k*4)),
		wgpu.BufferBindingEntry(1, bBuf, 0, uint64(k*n*4)),
		wgpu.BufferBindingEntry(2, dst, 0, uint64(m*n*4)),
		wgpu.BufferBindingEntry(3, params, 0, 16),
	}, groups(m*n, workgroupSize))
	if err != nil {
		dst.Release()
		return nil, err
	}
	return dst, nil
}

func (p *Plan) softmax(a *wgpu.Buffer, rows, cols int) (*wgpu.Buffer, error) {
	b := p.backend
	dst := b.scratch(rows * cols)
	params := b.uniform(uint32(rows), uint32(cols))
	defer params.Release()
	size := uint64(rows * cols * 4)
	_, err := p.run("softmax", softmaxShader, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, a, 0, size),
		wgpu.BufferBindingEntry(1, dst, 0, size),
		wgpu.BufferBindingEntry(2, params, 0, 16),
	}, groups(rows, 64))
	if err != nil {
		dst.Release()
		return nil, err
	}
	return dst, nil
}

func (p *Plan) transpose(a *wgpu.Buffer, rows, cols int) (*wgpu.Buffer, error) {
	b := p.backend
	n := rows * cols
	dst := b.scratch(n)
	params := b.uniform(uint32(rows), uint32(cols))
	defer params.Release()
	size := uint64(n * 4)
	_, err := p.run("transpose", transposeShader, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, a, 0, size),
		wgpu.BufferBindingEntry(1, dst, 0, size),
		wgpu.BufferBindingEntry(2, params, 0, 16),
	}, groups(n, workgroupSize))
	if err != nil {
		dst.Release()
		return nil, err
	}
	return dst, nil
}

func (p *Plan) copyBuffer(src *wgpu.Buffer, n int) (*wgpu.Buffer, error) {
	b := p.backend
	dst := b.scratch(n)
	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, dst, 0, uint64(n*4))
	b.queue.Submit(encoder.Finish(nil))
	return dst, nil
}

func groups(n, per int) uint32 {
	return uint32((n + per - 1) / per)
}
