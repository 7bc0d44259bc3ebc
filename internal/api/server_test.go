package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/tessera-ml/tessera/internal/logger"
	"github.com/tessera-ml/tessera/pkg/engine"
)

// addGraphJSON is a two-input elementwise add over [2] vectors.
const addGraphJSON = `{
	"version": 1,
	"slots": [
		{"dtype": "f32", "shape": [2]},
		{"dtype": "f32", "shape": [2]},
		{"dtype": "f32", "shape": [2]}
	],
	"ops": [
		{"op": "input", "out": 0},
		{"op": "input", "out": 1},
		{"op": "add", "in": [0, 1], "out": 2}
	],
	"inputs": {"a": 0, "b": 1},
	"outputs": {"sum": 2}
}`

func newTestEcho(t *testing.T) (*echo.Echo, *Server) {
	t.Helper()
	server := NewServer(engine.NewLifecycle(), logger.Discard())
	e := echo.New()
	server.Register(e)
	t.Cleanup(server.Shutdown)
	return e, server
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func createContext(t *testing.T, e *echo.Echo) ContextResponse {
	t.Helper()
	rec := doJSON(t, e, http.MethodPost, "/v1/contexts", `{"format":"graph-json"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create context: got %d body=%s", rec.Code, rec.Body.String())
	}
	var ctx ContextResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ctx); err != nil {
		t.Fatalf("decode context response: %v", err)
	}
	if ctx.ID == "" {
		t.Fatal("expected context id")
	}
	return ctx
}

func loadModel(t *testing.T, e *echo.Echo, ctxID, graph string) ModelResponse {
	t.Helper()
	body := fmt.Sprintf(`{"data":%q}`, base64.StdEncoding.EncodeToString([]byte(graph)))
	rec := doJSON(t, e, http.MethodPost, "/v1/contexts/"+ctxID+"/models", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("load model: got %d body=%s", rec.Code, rec.Body.String())
	}
	var m ModelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode model response: %v", err)
	}
	return m
}

func TestContextModelComputeLifecycle(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	ctx := createContext(t, e)
	if ctx.Backend != "cpu" {
		t.Fatalf("expected cpu backend, got %q", ctx.Backend)
	}

	m := loadModel(t, e, ctx.ID, addGraphJSON)
	if len(m.Inputs) != 2 || len(m.Outputs) != 1 {
		t.Fatalf("unexpected bindings: in=%v out=%v", m.Inputs, m.Outputs)
	}

	computeBody := `{"inputs":{
		"a": {"dtype":"f32","shape":[2],"data":[1,2]},
		"b": {"dtype":"f32","shape":[2],"data":[10,20]}
	}}`
	rec := doJSON(t, e, http.MethodPost, "/v1/contexts/"+ctx.ID+"/models/"+m.ID+"/compute", computeBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("compute: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp ComputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode compute response: %v", err)
	}
	sum, ok := resp.Outputs["sum"]
	if !ok {
		t.Fatalf("missing sum output: %s", rec.Body.String())
	}
	if len(sum.Data) != 2 || sum.Data[0] != 11 || sum.Data[1] != 22 {
		t.Fatalf("unexpected sum: %v", sum.Data)
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/contexts/"+ctx.ID+"/models/"+m.ID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete model: got %d body=%s", delRec.Code, delRec.Body.String())
	}

	delCtx := doJSON(t, e, http.MethodDelete, "/v1/contexts/"+ctx.ID, "")
	if delCtx.Code != http.StatusOK {
		t.Fatalf("delete context: got %d body=%s", delCtx.Code, delCtx.Body.String())
	}
	if !strings.Contains(delCtx.Body.String(), `"deleted":true`) {
		t.Fatalf("delete response missing deleted=true: %s", delCtx.Body.String())
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/contexts/"+ctx.ID, "")
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d body=%s", getRec.Code, getRec.Body.String())
	}
}

func TestLoadRejectsMalformedModel(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	ctx := createContext(t, e)

	badVersion := `{"version": 99, "slots": [], "ops": []}`
	body := fmt.Sprintf(`{"data":%q}`, base64.StdEncoding.EncodeToString([]byte(badVersion)))
	rec := doJSON(t, e, http.MethodPost, "/v1/contexts/"+ctx.ID+"/models", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "validation_error") {
		t.Fatalf("expected validation_error type, got: %s", rec.Body.String())
	}
}

func TestComputeUnknownBinding(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	ctx := createContext(t, e)
	m := loadModel(t, e, ctx.ID, addGraphJSON)

	body := `{"inputs":{
		"a": {"dtype":"f32","shape":[2],"data":[1,2]},
		"nope": {"dtype":"f32","shape":[2],"data":[3,4]}
	}}`
	rec := doJSON(t, e, http.MethodPost, "/v1/contexts/"+ctx.ID+"/models/"+m.ID+"/compute", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "nope") {
		t.Fatalf("error body should name the binding: %s", rec.Body.String())
	}
}

func TestComputeShapeMismatch(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	ctx := createContext(t, e)
	m := loadModel(t, e, ctx.ID, addGraphJSON)

	body := `{"inputs":{
		"a": {"dtype":"f32","shape":[3],"data":[1,2,3]},
		"b": {"dtype":"f32","shape":[2],"data":[1,2]}
	}}`
	rec := doJSON(t, e, http.MethodPost, "/v1/contexts/"+ctx.ID+"/models/"+m.ID+"/compute", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUnknownContext(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/contexts/ctx_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("version: got %d body=%s", rec.Code, rec.Body.String())
	}
	var v VersionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode version response: %v", err)
	}
	if v.Version == "" {
		t.Fatal("expected non-empty version")
	}
}
