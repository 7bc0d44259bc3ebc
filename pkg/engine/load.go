package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tessera-ml/tessera/internal/backend"
	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/validate"
)

// BindingHints optionally pre-declares the tensor names the caller
// expects. Load cross-checks them against the model's own declared
// bindings and rejects the load on any disagreement.
type BindingHints struct {
	Inputs  map[string]int
	Outputs map[string]int
}

// Model is a compiled model bound to one execution context. Its named
// input/output bindings are fixed at compile time; it is immutable and
// safe for concurrent Compute calls.
type Model struct {
	ctx     *Context
	graph   *ir.Graph
	exec    backend.Executable
	inputs  []ir.Binding
	outputs []ir.Binding
	closed  atomic.Bool

	// inflight counts accepted computes; Close and release wait for it
	// to drain before freeing the executable.
	inflight sync.WaitGroup
}

// Load validates untrusted model bytes against the context's format,
// compiles the verified graph on the context's backend, and registers
// the model for teardown. A failed load never yields a partial model
// and leaves the context fully usable. The input bytes are not
// retained past the call.
func (c *Context) Load(ctx context.Context, data []byte, hints *BindingHints) (*Model, error) {
	if c.Disposed() {
		return nil, ErrContextDisposed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := validate.Validate(data, c.fmt)
	if err != nil {
		c.log.Debug("model rejected", "error", err)
		return nil, err
	}
	if err := checkHints(g, hints); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exec, err := c.sel.Backend.Compile(g, backend.Options{
		Workers:  c.threads,
		LowPower: c.power == PowerLowPower,
	})
	if err != nil {
		c.log.Debug("compile failed", "backend", c.sel.Backend.Name(), "error", err)
		return nil, err
	}

	m := &Model{
		ctx:     c,
		graph:   g,
		exec:    exec,
		inputs:  g.Inputs,
		outputs: g.Outputs,
	}
	if err := c.register(m); err != nil {
		_ = exec.Close()
		return nil, err
	}
	c.log.Debug("model loaded", "inputs", len(m.inputs), "outputs", len(m.outputs), "ops", len(g.Ops))
	return m, nil
}

func checkHints(g *ir.Graph, hints *BindingHints) error {
	if hints == nil {
		return nil
	}
	if err := checkHintMap(g.Inputs, hints.Inputs, "input"); err != nil {
		return err
	}
	return checkHintMap(g.Outputs, hints.Outputs, "output")
}

func checkHintMap(declared []ir.Binding, hinted map[string]int, role string) error {
	if hinted == nil {
		return nil
	}
	if len(hinted) != len(declared) {
		return ir.Errf(ir.KindBadBinding, 0, "%s hints declare %d bindings, model has %d", role, len(hinted), len(declared))
	}
	for _, b := range declared {
		idx, ok := hinted[b.Name]
		if !ok {
			return ir.Errf(ir.KindBadBinding, 0, "%s hints miss declared binding %q", role, b.Name)
		}
		if idx != b.Slot {
			return ir.Errf(ir.KindBadBinding, 0, "%s hint %q names slot %d, model declares %d", role, b.Name, idx, b.Slot)
		}
	}
	return nil
}

// InputNames returns the declared input binding names in order.
func (m *Model) InputNames() []string {
	return bindingNames(m.inputs)
}

// OutputNames returns the declared output binding names in order.
func (m *Model) OutputNames() []string {
	return bindingNames(m.outputs)
}

func bindingNames(bs []ir.Binding) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name
	}
	return out
}

// Close releases the compiled model. New computes are rejected first,
// then Close blocks until every in-flight compute resolves before the
// executable is freed.
func (m *Model) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.ctx.unregister(m)
	m.inflight.Wait()
	return m.exec.Close()
}

// release is the dispose path: the context already dropped its
// registry, only the executable needs freeing.
func (m *Model) release() {
	if m.closed.Swap(true) {
		return
	}
	m.inflight.Wait()
	_ = m.exec.Close()
}
