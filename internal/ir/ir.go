// Package ir holds the validated in-memory form of a model graph,
// between untrusted container bytes and a compiled executable.
package ir

import "fmt"

type DType uint8

const (
	F32 DType = 0
	F16 DType = 1
	I32 DType = 2
)

func (t DType) String() string {
	switch t {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case I32:
		return "i32"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(t))
	}
}

// Size returns the element size in bytes, or 0 for an unknown dtype.
func (t DType) Size() int {
	switch t {
	case F32, I32:
		return 4
	case F16:
		return 2
	default:
		return 0
	}
}

type Shape []int

// Elements returns the total element count, guarding against overflow.
func (s Shape) Elements() (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range s {
		if d < 1 {
			return 0, fmt.Errorf("unresolved dimension %d", d)
		}
		if n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("shape too large")
		}
		n *= d
	}
	return n, nil
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	out := "["
	for i, d := range s {
		if i > 0 {
			out += "x"
		}
		out += fmt.Sprintf("%d", d)
	}
	return out + "]"
}

// SlotDef declares the dtype and fully resolved shape of one tensor slot.
type SlotDef struct {
	DType DType
	Shape Shape
}

// Binding names a tensor slot for callers.
type Binding struct {
	Name string
	Slot int
}

// Op is one node of the operation list. The list order is the
// topological order: an op may only read slots defined earlier.
type Op struct {
	Code OpCode
	In   []int
	Out  int
}

// Graph is the validated intermediate representation. Immutable after
// Verify succeeds; safe to share read-only across concurrent compiles
// and computes.
type Graph struct {
	Slots   []SlotDef
	Consts  map[int][]byte
	Ops     []Op
	Inputs  []Binding
	Outputs []Binding
}

// Provenance records where each op record came from in the source
// buffer so structural violations can report a byte offset.
type Provenance struct {
	OpOffsets []int64
}

// OpOffset returns the byte offset of op i, or 0 when unknown.
func (p *Provenance) OpOffset(i int) int64 {
	if p == nil || i < 0 || i >= len(p.OpOffsets) {
		return 0
	}
	return p.OpOffsets[i]
}

// InputSlots returns the slots that must be fed by the caller, in
// binding order.
func (g *Graph) InputSlots() []int {
	out := make([]int, len(g.Inputs))
	for i, b := range g.Inputs {
		out[i] = b.Slot
	}
	return out
}

// OutputSlots returns the slots produced for the caller, in binding order.
func (g *Graph) OutputSlots() []int {
	out := make([]int, len(g.Outputs))
	for i, b := range g.Outputs {
		out[i] = b.Slot
	}
	return out
}
