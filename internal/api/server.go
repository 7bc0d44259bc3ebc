// Package api exposes the engine over HTTP: contexts, model loads,
// and synchronous compute calls.
package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/logger"
	"github.com/tessera-ml/tessera/internal/tensor"
	"github.com/tessera-ml/tessera/internal/version"
	"github.com/tessera-ml/tessera/pkg/engine"
)

type Server struct {
	store *ContextStore
	life  *engine.Lifecycle
	log   logger.Logger
}

func NewServer(life *engine.Lifecycle, log logger.Logger) *Server {
	if life == nil {
		life = engine.NewLifecycle()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		store: NewContextStore(),
		life:  life,
		log:   log,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/version", s.handleVersion)
	e.POST("/v1/contexts", s.handleCreateContext)
	e.GET("/v1/contexts/:id", s.handleGetContext)
	e.DELETE("/v1/contexts/:id", s.handleDeleteContext)
	e.POST("/v1/contexts/:id/models", s.handleLoadModel)
	e.DELETE("/v1/contexts/:id/models/:model", s.handleDeleteModel)
	e.POST("/v1/contexts/:id/models/:model/compute", s.handleCompute)
}

// Shutdown disposes every live context. Used on server teardown so
// pending computes resolve instead of leaking.
func (s *Server) Shutdown() {
	s.life.SetActive(false)
}

func (s *Server) handleVersion(c *echo.Context) error {
	info := version.Resolve()
	return c.JSON(http.StatusOK, VersionResponse{Version: info.Version, Commit: info.Commit})
}

func (s *Server) handleCreateContext(c *echo.Context) error {
	req, err := decodeJSON[CreateContextRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	opts := engine.Options{
		Device:     req.Device,
		Power:      req.Power,
		ThreadHint: req.Threads,
		Format:     req.Format,
		Logger:     s.log,
	}
	if req.AllowFallback != nil {
		opts.AllowFallback = *req.AllowFallback
	}
	ctx, err := engine.NewContext(opts)
	if err != nil {
		return writeEngineError(c, err)
	}
	s.life.Attach(ctx)
	s.store.Add(ctx)
	s.log.Info("context created", "context", ctx.ID(), "backend", ctx.Backend())
	return c.JSON(http.StatusOK, contextResponse(ctx))
}

func (s *Server) handleGetContext(c *echo.Context) error {
	entry, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "context not found")
	}
	return c.JSON(http.StatusOK, contextResponse(entry.ctx))
}

func (s *Server) handleDeleteContext(c *echo.Context) error {
	id := c.Param("id")
	entry, ok := s.store.Remove(id)
	if !ok {
		return writeNotFound(c, "context not found")
	}
	s.life.Detach(entry.ctx)
	entry.ctx.Dispose()
	s.log.Info("context disposed", "context", id)
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Deleted: true})
}

func (s *Server) handleLoadModel(c *echo.Context) error {
	entry, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "context not found")
	}
	req, err := decodeJSON[LoadModelRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	var hints *engine.BindingHints
	if len(req.Inputs) > 0 || len(req.Outputs) > 0 {
		hints = &engine.BindingHints{Inputs: req.Inputs, Outputs: req.Outputs}
	}
	m, err := entry.ctx.Load(c.Request().Context(), req.Data, hints)
	if err != nil {
		return writeEngineError(c, err)
	}
	id := entry.addModel(m)
	return c.JSON(http.StatusOK, ModelResponse{
		ID:      id,
		Inputs:  m.InputNames(),
		Outputs: m.OutputNames(),
	})
}

func (s *Server) handleDeleteModel(c *echo.Context) error {
	entry, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "context not found")
	}
	id := c.Param("model")
	m, ok := entry.removeModel(id)
	if !ok {
		return writeNotFound(c, "model not found")
	}
	if err := m.Close(); err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Deleted: true})
}

func (s *Server) handleCompute(c *echo.Context) error {
	entry, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "context not found")
	}
	m, ok := entry.model(c.Param("model"))
	if !ok {
		return writeNotFound(c, "model not found")
	}
	req, err := decodeJSON[ComputeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	inputs := make(map[string]*tensor.Buffer, len(req.Inputs))
	for name, p := range req.Inputs {
		buf, err := payloadToBuffer(p)
		if err != nil {
			return writeBadRequest(c, name+": "+err.Error())
		}
		inputs[name] = buf
	}

	pending, err := m.Compute(engine.Named(inputs), engine.None())
	if err != nil {
		return writeEngineError(c, err)
	}
	outputs, err := pending.Wait(c.Request().Context())
	if err != nil {
		return writeEngineError(c, err)
	}

	resp := ComputeResponse{Outputs: make(map[string]TensorPayload, len(outputs))}
	for name, buf := range outputs {
		p, err := bufferToPayload(buf)
		if err != nil {
			return writeServerError(c, err.Error())
		}
		resp.Outputs[name] = p
	}
	return c.JSON(http.StatusOK, resp)
}

func contextResponse(ctx *engine.Context) ContextResponse {
	return ContextResponse{
		ID:       ctx.ID(),
		Backend:  ctx.Backend(),
		FellBack: ctx.FellBack(),
	}
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, nil)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, nil)
}

func writeServerError(c *echo.Context, msg string) error {
	return writeError(c, http.StatusInternalServerError, "server_error", msg, nil)
}

func writeError(c *echo.Context, status int, errType, msg string, offset *int64) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType, Offset: offset},
	})
}

// writeEngineError maps engine failures onto HTTP statuses. Validation
// failures carry the byte offset of the defect so clients can report
// precisely which part of a model file was rejected.
func writeEngineError(c *echo.Context, err error) error {
	var verr *ir.ValidationError
	switch {
	case errors.As(err, &verr):
		off := verr.Offset
		return writeError(c, http.StatusBadRequest, "validation_error", verr.Error(), &off)
	case errors.Is(err, engine.ErrContextDisposed):
		return writeError(c, http.StatusGone, "context_disposed", err.Error(), nil)
	case errors.Is(err, engine.ErrComputeCancelled):
		return writeError(c, http.StatusConflict, "compute_cancelled", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownBinding),
		errors.Is(err, engine.ErrMissingBinding),
		errors.Is(err, engine.ErrShapeMismatch),
		errors.Is(err, engine.ErrUnsupportedFormat),
		errors.Is(err, engine.ErrUnsupportedOp),
		errors.Is(err, engine.ErrBackendUnavailable):
		return writeBadRequest(c, err.Error())
	default:
		return writeServerError(c, err.Error())
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
