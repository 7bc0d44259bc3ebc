// Package tensor provides the typed, dimension-checked buffers the
// engine exchanges with callers.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/tessera-ml/tessera/internal/ir"
)

// Placement says which memory space holds the buffer's data. Outputs
// allocated by the engine are Host for a CPU context and Device for an
// accelerator context.
type Placement uint8

const (
	Host   Placement = 0
	Device Placement = 1
)

func (p Placement) String() string {
	if p == Device {
		return "device"
	}
	return "host"
}

// Buffer couples raw little-endian element data with its dtype and
// dimensions. The element count must equal the product of Dims; Check
// enforces that before any buffer crosses into the engine.
type Buffer struct {
	DType     ir.DType
	Dims      ir.Shape
	Placement Placement
	Data      []byte
}

// New allocates a zeroed buffer of the given dtype and dimensions.
func New(dt ir.DType, dims ir.Shape, place Placement) (*Buffer, error) {
	n, err := dims.Elements()
	if err != nil {
		return nil, err
	}
	if dt.Size() == 0 {
		return nil, fmt.Errorf("unknown dtype %d", uint8(dt))
	}
	return &Buffer{
		DType:     dt,
		Dims:      append(ir.Shape(nil), dims...),
		Placement: place,
		Data:      make([]byte, n*dt.Size()),
	}, nil
}

// FromF32 builds a host f32 buffer from vals. The value count must
// match the dimensions.
func FromF32(dims ir.Shape, vals []float32) (*Buffer, error) {
	n, err := dims.Elements()
	if err != nil {
		return nil, err
	}
	if n != len(vals) {
		return nil, fmt.Errorf("shape %s needs %d elements, got %d", dims, n, len(vals))
	}
	b, err := New(ir.F32, dims, Host)
	if err != nil {
		return nil, err
	}
	if err := b.StoreF32s(vals); err != nil {
		return nil, err
	}
	return b, nil
}

// Check verifies the internal consistency of the buffer.
func (b *Buffer) Check() error {
	if b == nil {
		return fmt.Errorf("nil tensor")
	}
	n, err := b.Dims.Elements()
	if err != nil {
		return err
	}
	if b.DType.Size() == 0 {
		return fmt.Errorf("unknown dtype %d", uint8(b.DType))
	}
	if len(b.Data) != n*b.DType.Size() {
		return fmt.Errorf("tensor %s/%s: %d data bytes, want %d", b.DType, b.Dims, len(b.Data), n*b.DType.Size())
	}
	return nil
}

// Elements returns the declared element count, 0 if the shape is bad.
func (b *Buffer) Elements() int {
	n, err := b.Dims.Elements()
	if err != nil {
		return 0
	}
	return n
}

// F32s decodes the buffer into float32 values. F16 data is widened via
// IEEE 754 half-precision conversion; I32 is converted numerically.
func (b *Buffer) F32s() ([]float32, error) {
	if err := b.Check(); err != nil {
		return nil, err
	}
	n := b.Elements()
	out := make([]float32, n)
	switch b.DType {
	case ir.F32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:]))
		}
	case ir.F16:
		for i := 0; i < n; i++ {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(b.Data[i*2:])).Float32()
		}
	case ir.I32:
		for i := 0; i < n; i++ {
			out[i] = float32(int32(binary.LittleEndian.Uint32(b.Data[i*4:])))
		}
	default:
		return nil, fmt.Errorf("cannot decode dtype %s", b.DType)
	}
	return out, nil
}

// StoreF32s encodes vals into the buffer according to its declared
// dtype: f32 verbatim, f16 narrowed via IEEE 754 half precision, i32
// truncated toward zero. The value count must match the buffer's
// element count.
func (b *Buffer) StoreF32s(vals []float32) error {
	if err := b.Check(); err != nil {
		return err
	}
	if len(vals) != b.Elements() {
		return fmt.Errorf("tensor %s/%s: storing %d values, want %d", b.DType, b.Dims, len(vals), b.Elements())
	}
	switch b.DType {
	case ir.F32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(b.Data[i*4:], math.Float32bits(v))
		}
	case ir.F16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(b.Data[i*2:], float16.Fromfloat32(v).Bits())
		}
	case ir.I32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(b.Data[i*4:], uint32(int32(v)))
		}
	default:
		return fmt.Errorf("cannot encode dtype %s", b.DType)
	}
	return nil
}

// Clone deep-copies the buffer.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	out := &Buffer{
		DType:     b.DType,
		Dims:      append(ir.Shape(nil), b.Dims...),
		Placement: b.Placement,
		Data:      append([]byte(nil), b.Data...),
	}
	return out
}

// WidenF16 converts raw little-endian f16 payload bytes to float32
// values. Used when loading half-precision constants.
func WidenF16(raw []byte) ([]float32, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("f16 payload has odd length %d", len(raw))
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
	}
	return out, nil
}

// F32Payload decodes a raw little-endian f32 payload.
func F32Payload(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("f32 payload has bad length %d", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
