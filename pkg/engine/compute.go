package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
)

// Feed is the closed set of compute argument forms: a single bare
// tensor, legal only when the model declares exactly one binding on
// that side, or a name-to-tensor map. The form is resolved against the
// model's fixed binding table, never by inspecting tensor shapes.
type Feed struct {
	single *tensor.Buffer
	named  map[string]*tensor.Buffer
}

// Single feeds one bare tensor.
func Single(t *tensor.Buffer) Feed {
	return Feed{single: t}
}

// Named feeds tensors by binding name.
func Named(m map[string]*tensor.Buffer) Feed {
	return Feed{named: m}
}

// None is the empty feed: for outputs it asks the engine to allocate
// fresh result buffers.
func None() Feed {
	return Feed{}
}

func (f Feed) empty() bool {
	return f.single == nil && f.named == nil
}

// Status is the terminal state of a compute session.
type Status int32

const (
	StatusPending   Status = 0
	StatusDone      Status = 1
	StatusFailed    Status = 2
	StatusCancelled Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Pending is the handle for one in-flight compute. It resolves exactly
// once: with outputs, with an error, or cancelled by context teardown.
type Pending struct {
	done    chan struct{}
	status  atomic.Int32
	outputs map[string]*tensor.Buffer
	err     error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Status returns the session's current state without blocking.
func (p *Pending) Status() Status {
	return Status(p.status.Load())
}

// Wait blocks until the session resolves or ctx expires. When the
// caller supplied output buffers, a successful wait returns a nil map:
// results were written in place.
func (p *Pending) Wait(ctx context.Context) (map[string]*tensor.Buffer, error) {
	select {
	case <-p.done:
		return p.outputs, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) resolve(status Status, outputs map[string]*tensor.Buffer, err error) {
	p.status.Store(int32(status))
	p.outputs = outputs
	p.err = err
	close(p.done)
}

// Compute submits one inference over the compiled model. Inputs (and
// optional caller-supplied outputs) are resolved against the binding
// table and shape-checked before submission; those failures are
// returned immediately and leave supplied buffers untouched. On
// acceptance the returned Pending resolves off the caller's
// goroutine. Concurrent computes against one model are independently
// scheduled; completion order is not submission order. The caller
// must not mutate fed buffers until the session resolves.
func (m *Model) Compute(inputs Feed, into Feed) (*Pending, error) {
	if m.closed.Load() || m.ctx.Disposed() {
		return nil, ErrContextDisposed
	}

	ins, err := resolveFeed(inputs, m.inputs, m.graph, "input")
	if err != nil {
		return nil, err
	}

	var outs []*tensor.Buffer
	callerOut := !into.empty()
	if callerOut {
		outs, err = resolveFeed(into, m.outputs, m.graph, "output")
		if err != nil {
			return nil, err
		}
	} else {
		outs = make([]*tensor.Buffer, len(m.outputs))
		for i, b := range m.outputs {
			def := m.graph.Slots[b.Slot]
			buf, err := tensor.New(def.DType, def.Shape, m.ctx.sel.Backend.Placement())
			if err != nil {
				return nil, err
			}
			outs[i] = buf
		}
	}

	// Enter the drain group before the final closed check so Close can
	// never free the executable between acceptance and the run.
	m.inflight.Add(1)
	if m.closed.Load() {
		m.inflight.Done()
		return nil, ErrContextDisposed
	}
	p := newPending()
	if err := m.ctx.track(p); err != nil {
		m.inflight.Done()
		return nil, err
	}

	go m.run(p, ins, outs, callerOut)
	return p, nil
}

func (m *Model) run(p *Pending, ins, outs []*tensor.Buffer, callerOut bool) {
	c := m.ctx
	defer m.inflight.Done()
	defer c.untrack(p)

	if err := c.sem.Acquire(c.root, 1); err != nil {
		p.resolve(StatusCancelled, nil, ErrComputeCancelled)
		return
	}
	err := m.exec.Run(c.root, ins, outs)
	c.sem.Release(1)

	switch {
	case c.root.Err() != nil:
		// Teardown raced the kernel; a finished result must not be
		// delivered as success after cancellation was observed.
		p.resolve(StatusCancelled, nil, ErrComputeCancelled)
	case err != nil:
		p.resolve(StatusFailed, nil, err)
	case callerOut:
		p.resolve(StatusDone, nil, nil)
	default:
		named := make(map[string]*tensor.Buffer, len(m.outputs))
		for i, b := range m.outputs {
			named[b.Name] = outs[i]
		}
		p.resolve(StatusDone, named, nil)
	}
}

// resolveFeed maps a feed onto the binding table, producing positional
// buffers in binding order.
func resolveFeed(f Feed, bindings []ir.Binding, g *ir.Graph, role string) ([]*tensor.Buffer, error) {
	if f.single != nil {
		if len(bindings) != 1 {
			return nil, fmt.Errorf("%w: model declares %d %ss, a bare tensor needs exactly one",
				ErrMissingBinding, len(bindings), role)
		}
		if err := checkBuffer(f.single, g.Slots[bindings[0].Slot], bindings[0].Name); err != nil {
			return nil, err
		}
		return []*tensor.Buffer{f.single}, nil
	}

	for name := range f.named {
		if !bindingDeclared(bindings, name) {
			return nil, fmt.Errorf("%w: %q is not a declared %s", ErrUnknownBinding, name, role)
		}
	}
	out := make([]*tensor.Buffer, len(bindings))
	for i, b := range bindings {
		buf, ok := f.named[b.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s %q not supplied", ErrMissingBinding, role, b.Name)
		}
		if err := checkBuffer(buf, g.Slots[b.Slot], b.Name); err != nil {
			return nil, err
		}
		out[i] = buf
	}
	return out, nil
}

func bindingDeclared(bindings []ir.Binding, name string) bool {
	for _, b := range bindings {
		if b.Name == name {
			return true
		}
	}
	return false
}

func checkBuffer(buf *tensor.Buffer, def ir.SlotDef, name string) error {
	if err := buf.Check(); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrShapeMismatch, name, err)
	}
	if !buf.Dims.Equal(def.Shape) {
		return fmt.Errorf("%w: %q has dimensions %s, model declares %s",
			ErrShapeMismatch, name, buf.Dims, def.Shape)
	}
	if buf.DType != def.DType {
		return fmt.Errorf("%w: %q is %s, model declares %s",
			ErrShapeMismatch, name, buf.DType, def.DType)
	}
	return nil
}
