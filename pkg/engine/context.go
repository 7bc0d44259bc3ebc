// Package engine is the public surface of the model execution engine:
// isolated execution contexts, model loading, named-tensor compute,
// and lifecycle teardown.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tessera-ml/tessera/internal/backend"
	"github.com/tessera-ml/tessera/internal/format"
	"github.com/tessera-ml/tessera/internal/logger"
)

const (
	PowerDefault         = "default"
	PowerLowPower        = "low-power"
	PowerHighPerformance = "high-performance"
)

// Options configures a new execution context. The zero value means:
// default device (cpu), default power, implementation-chosen thread
// count, TGF model format, no fallback.
type Options struct {
	// Device is the device preference: "default", "cpu", or "gpu".
	Device string
	// Power is the power preference: "default", "low-power", or
	// "high-performance".
	Power string
	// ThreadHint bounds kernel and compute parallelism; 0 lets the
	// implementation choose.
	ThreadHint int
	// Format names the model format every load through this context
	// uses. Empty means TGF.
	Format string
	// AllowFallback permits compiling on the cpu when the preferred
	// device is unavailable. Off by default: no silent substitution.
	AllowFallback bool
	// Logger receives engine diagnostics; nil means the default.
	Logger logger.Logger
}

// Context is an isolated execution domain. Models compiled under one
// context never share state with another context, even within the
// same process; disposing the context releases everything it owns.
type Context struct {
	id     string
	device string
	power  string
	fmt    format.Format
	sel    backend.Selection
	log    logger.Logger

	threads int
	sem     *semaphore.Weighted

	// root is cancelled exactly once, on dispose; every compute
	// submitted through this context runs under it.
	root   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	disposed bool
	models   map[*Model]struct{}
	pending  map[*Pending]struct{}
}

// NewContext validates the options, selects a backend for the device
// and power preferences, and returns an isolated context.
func NewContext(opts Options) (*Context, error) {
	device, err := backend.Normalize(opts.Device)
	if err != nil {
		return nil, err
	}
	power, err := normalizePower(opts.Power)
	if err != nil {
		return nil, err
	}
	if opts.ThreadHint < 0 {
		return nil, fmt.Errorf("thread hint must be >= 0, got %d", opts.ThreadHint)
	}
	f, err := format.Normalize(opts.Format)
	if err != nil {
		return nil, err
	}

	sel, err := backend.Select(device, power == PowerLowPower, opts.AllowFallback)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	threads := opts.ThreadHint
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	id := uuid.NewString()
	root, cancel := context.WithCancel(context.Background())
	c := &Context{
		id:      id,
		device:  device,
		power:   power,
		fmt:     f,
		sel:     sel,
		log:     log.With("context", id),
		threads: threads,
		sem:     semaphore.NewWeighted(int64(threads)),
		root:    root,
		cancel:  cancel,
		models:  make(map[*Model]struct{}),
		pending: make(map[*Pending]struct{}),
	}
	if sel.FellBack {
		c.log.Warn("preferred device unavailable, fell back", "preferred", device, "backend", sel.Backend.Name())
	}
	c.log.Debug("context created", "backend", sel.Backend.Name(), "format", string(f), "threads", threads)
	return c, nil
}

func normalizePower(name string) (string, error) {
	switch name {
	case "":
		return PowerDefault, nil
	case PowerDefault, PowerLowPower, PowerHighPerformance:
		return name, nil
	default:
		return "", fmt.Errorf("unknown power preference %q", name)
	}
}

// ID returns the context's unique identity.
func (c *Context) ID() string {
	return c.id
}

// Backend returns the name of the backend actually selected.
func (c *Context) Backend() string {
	return c.sel.Backend.Name()
}

// FellBack reports whether the preferred device was substituted under
// the AllowFallback policy.
func (c *Context) FellBack() bool {
	return c.sel.FellBack
}

// Disposed reports whether the context has been torn down.
func (c *Context) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Dispose synchronously marks the context terminal: no new load or
// compute is accepted afterwards, and every pending compute resolves
// cancelled. Compiled models are released asynchronously once their
// in-flight work drains.
func (c *Context) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	models := make([]*Model, 0, len(c.models))
	for m := range c.models {
		models = append(models, m)
	}
	c.mu.Unlock()

	// Cancellation is globally ordered after the disposed flag: any
	// submission that observes the flag is rejected, any compute
	// already in flight observes the cancelled root context.
	c.cancel()
	c.log.Debug("context disposed", "models", len(models))

	go func() {
		// Drain the worker slots so no kernel is mid-run, then free.
		_ = c.sem.Acquire(context.Background(), int64(c.threads))
		c.sem.Release(int64(c.threads))
		for _, m := range models {
			m.release()
		}
	}()
}

func (c *Context) register(m *Model) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrContextDisposed
	}
	c.models[m] = struct{}{}
	return nil
}

func (c *Context) unregister(m *Model) {
	c.mu.Lock()
	delete(c.models, m)
	c.mu.Unlock()
}

func (c *Context) track(p *Pending) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrContextDisposed
	}
	c.pending[p] = struct{}{}
	return nil
}

func (c *Context) untrack(p *Pending) {
	c.mu.Lock()
	delete(c.pending, p)
	c.mu.Unlock()
}
