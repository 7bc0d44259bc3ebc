package format

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/x448/float16"

	"github.com/tessera-ml/tessera/internal/ir"
)

// jsonDecoder decodes the textual graph description. It is the pack
// tool's input format and a convenient fixture format; offsets in its
// validation errors are always zero because the document has no
// meaningful byte layout after parsing.
type jsonDecoder struct{}

const graphJSONVersion = 1

type jsonGraph struct {
	Version int                  `json:"version"`
	Slots   []jsonSlot           `json:"slots"`
	Ops     []jsonOp             `json:"ops"`
	Consts  map[string][]float64 `json:"consts"`
	Inputs  map[string]int       `json:"inputs"`
	Outputs map[string]int       `json:"outputs"`
}

type jsonSlot struct {
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

type jsonOp struct {
	Op  string `json:"op"`
	In  []int  `json:"in"`
	Out int    `json:"out"`
}

func (jsonDecoder) Decode(data []byte) (*ir.Graph, *ir.Provenance, error) {
	var doc jsonGraph
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, ir.Errf(ir.KindTruncated, 0, "bad graph json: %v", err)
	}
	if doc.Version != graphJSONVersion {
		return nil, nil, ir.Errf(ir.KindBadVersion, 0, "graph json version %d, want %d", doc.Version, graphJSONVersion)
	}

	g := &ir.Graph{Consts: map[int][]byte{}}

	g.Slots = make([]ir.SlotDef, len(doc.Slots))
	for i, s := range doc.Slots {
		dt, ok := parseDType(s.DType)
		if !ok {
			return nil, nil, ir.Errf(ir.KindDTypeMismatch, 0, "slot %d: unknown dtype %q", i, s.DType)
		}
		g.Slots[i] = ir.SlotDef{DType: dt, Shape: ir.Shape(s.Shape)}
	}

	g.Ops = make([]ir.Op, len(doc.Ops))
	for i, o := range doc.Ops {
		code, ok := ir.ParseOpCode(o.Op)
		if !ok {
			return nil, nil, ir.Errf(ir.KindBadOpcode, 0, "op %d: unknown op %q", i, o.Op)
		}
		g.Ops[i] = ir.Op{Code: code, In: append([]int(nil), o.In...), Out: o.Out}
	}

	for key, vals := range doc.Consts {
		slot, err := strconv.Atoi(key)
		if err != nil || slot < 0 || slot >= len(g.Slots) {
			return nil, nil, ir.Errf(ir.KindBadConst, 0, "const key %q does not name a slot", key)
		}
		raw, err2 := encodeConst(g.Slots[slot].DType, vals)
		if err2 != nil {
			return nil, nil, err2
		}
		g.Consts[slot] = raw
	}

	g.Inputs = bindingsFromMap(doc.Inputs)
	g.Outputs = bindingsFromMap(doc.Outputs)
	return g, &ir.Provenance{}, nil
}

func parseDType(name string) (ir.DType, bool) {
	switch name {
	case "f32":
		return ir.F32, true
	case "f16":
		return ir.F16, true
	case "i32":
		return ir.I32, true
	default:
		return 0, false
	}
}

func encodeConst(dt ir.DType, vals []float64) ([]byte, error) {
	switch dt {
	case ir.F32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
		return out, nil
	case ir.F16:
		out := make([]byte, len(vals)*2)
		for i, v := range vals {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(float32(v)).Bits())
		}
		return out, nil
	case ir.I32:
		out := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
		return out, nil
	default:
		return nil, ir.Errf(ir.KindDTypeMismatch, 0, "const dtype %s unsupported", dt)
	}
}

// bindingsFromMap orders bindings by name so decode output is
// deterministic regardless of JSON map iteration.
func bindingsFromMap(m map[string]int) []ir.Binding {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]ir.Binding, len(names))
	for i, n := range names {
		out[i] = ir.Binding{Name: n, Slot: m[n]}
	}
	return out
}
