package api

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
)

type CreateContextRequest struct {
	Device        string `json:"device,omitempty"`
	Power         string `json:"power,omitempty"`
	Threads       int    `json:"threads,omitempty"`
	Format        string `json:"format,omitempty"`
	AllowFallback *bool  `json:"allow_fallback,omitempty"`
}

type ContextResponse struct {
	ID       string `json:"id"`
	Backend  string `json:"backend"`
	FellBack bool   `json:"fell_back"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// LoadModelRequest carries the model bytes base64-encoded in Data,
// plus optional external binding hints. The format is fixed per
// context at creation time.
type LoadModelRequest struct {
	Data    []byte         `json:"data"`
	Inputs  map[string]int `json:"inputs,omitempty"`
	Outputs map[string]int `json:"outputs,omitempty"`
}

type ModelResponse struct {
	ID      string   `json:"id"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// TensorPayload is the wire form of one tensor. Data travels as JSON
// numbers and is narrowed to the declared dtype on receipt.
type TensorPayload struct {
	DType string    `json:"dtype"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type ComputeRequest struct {
	Inputs map[string]TensorPayload `json:"inputs"`
}

type ComputeResponse struct {
	Outputs map[string]TensorPayload `json:"outputs"`
}

type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Offset  *int64 `json:"offset,omitempty"`
}

func parseDType(s string) (ir.DType, error) {
	switch s {
	case "f32", "":
		return ir.F32, nil
	case "f16":
		return ir.F16, nil
	case "i32":
		return ir.I32, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

func payloadToBuffer(p TensorPayload) (*tensor.Buffer, error) {
	dt, err := parseDType(p.DType)
	if err != nil {
		return nil, err
	}
	if dt == ir.F32 {
		return tensor.FromF32(ir.Shape(p.Shape), p.Data)
	}
	buf, err := tensor.New(dt, ir.Shape(p.Shape), tensor.Host)
	if err != nil {
		return nil, err
	}
	if buf.Elements() != len(p.Data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", p.Shape, buf.Elements(), len(p.Data))
	}
	switch dt {
	case ir.F16:
		for i, v := range p.Data {
			binary.LittleEndian.PutUint16(buf.Data[i*2:], float16.Fromfloat32(v).Bits())
		}
	case ir.I32:
		for i, v := range p.Data {
			binary.LittleEndian.PutUint32(buf.Data[i*4:], uint32(int32(v)))
		}
	}
	return buf, nil
}

func bufferToPayload(b *tensor.Buffer) (TensorPayload, error) {
	data, err := b.F32s()
	if err != nil {
		return TensorPayload{}, err
	}
	return TensorPayload{
		DType: b.DType.String(),
		Shape: []int(b.Dims),
		Data:  data,
	}, nil
}
