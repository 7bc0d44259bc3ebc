package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tessera-ml/tessera/pkg/engine"
)

// contextEntry pairs one engine context with the models loaded into
// it, keyed by the server-assigned model ID.
type contextEntry struct {
	ctx    *engine.Context
	mu     sync.Mutex
	models map[string]*engine.Model
}

// ContextStore indexes live contexts by ID. Disposal removes the
// entry; later requests against the ID see not-found, never a
// half-torn-down context.
type ContextStore struct {
	mu       sync.Mutex
	contexts map[string]*contextEntry
}

func NewContextStore() *ContextStore {
	return &ContextStore{contexts: make(map[string]*contextEntry)}
}

func (s *ContextStore) Add(ctx *engine.Context) {
	s.mu.Lock()
	s.contexts[ctx.ID()] = &contextEntry{
		ctx:    ctx,
		models: make(map[string]*engine.Model),
	}
	s.mu.Unlock()
}

func (s *ContextStore) Get(id string) (*contextEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.contexts[id]
	return e, ok
}

func (s *ContextStore) Remove(id string) (*contextEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.contexts[id]
	if ok {
		delete(s.contexts, id)
	}
	return e, ok
}

func (e *contextEntry) addModel(m *engine.Model) string {
	id := "mdl_" + uuid.NewString()
	e.mu.Lock()
	e.models[id] = m
	e.mu.Unlock()
	return id
}

func (e *contextEntry) model(id string) (*engine.Model, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.models[id]
	return m, ok
}

func (e *contextEntry) removeModel(id string) (*engine.Model, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.models[id]
	if ok {
		delete(e.models, id)
	}
	return m, ok
}
