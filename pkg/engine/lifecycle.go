package engine

import "sync"

// Lifecycle ties a set of contexts to an external liveness signal, the
// way an embedder tears down all engine state when its host surface
// goes away. Deactivation disposes every attached context; pending
// computes resolve cancelled, never with stale results.
type Lifecycle struct {
	mu       sync.Mutex
	active   bool
	contexts map[*Context]struct{}
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		active:   true,
		contexts: make(map[*Context]struct{}),
	}
}

// Attach registers a context with the controller. Attaching to an
// inactive controller disposes the context immediately.
func (l *Lifecycle) Attach(c *Context) {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		c.Dispose()
		return
	}
	l.contexts[c] = struct{}{}
	l.mu.Unlock()
}

// Detach removes a context without disposing it. Disposing a context
// does not require detaching it first; Dispose is idempotent.
func (l *Lifecycle) Detach(c *Context) {
	l.mu.Lock()
	delete(l.contexts, c)
	l.mu.Unlock()
}

// Active reports the current liveness state.
func (l *Lifecycle) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// SetActive flips the liveness signal. Transitioning to inactive
// disposes every attached context and drops them from the set.
// Reactivation does not revive disposed contexts.
func (l *Lifecycle) SetActive(active bool) {
	l.mu.Lock()
	if l.active == active {
		l.mu.Unlock()
		return
	}
	l.active = active
	if active {
		l.mu.Unlock()
		return
	}
	contexts := make([]*Context, 0, len(l.contexts))
	for c := range l.contexts {
		contexts = append(contexts, c)
	}
	l.contexts = make(map[*Context]struct{})
	l.mu.Unlock()

	for _, c := range contexts {
		c.Dispose()
	}
}
