package format

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/pkg/tgf"
)

// EncodeTGF serializes a graph into a TGF container. Used by the pack
// tooling and by tests that need well-formed fixtures; the engine
// itself only ever decodes.
func EncodeTGF(g *ir.Graph) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}

	var graph []byte
	graph = binary.LittleEndian.AppendUint32(graph, uint32(len(g.Slots)))
	for i, s := range g.Slots {
		if len(s.Shape) > 255 {
			return nil, fmt.Errorf("slot %d: rank %d too large", i, len(s.Shape))
		}
		graph = append(graph, byte(s.DType), byte(len(s.Shape)))
		for _, d := range s.Shape {
			if d < 0 || d > 1<<31-1 {
				return nil, fmt.Errorf("slot %d: dimension %d out of range", i, d)
			}
			graph = binary.LittleEndian.AppendUint32(graph, uint32(d))
		}
	}
	graph = binary.LittleEndian.AppendUint32(graph, uint32(len(g.Ops)))
	for i, op := range g.Ops {
		if len(op.In) > 65535 {
			return nil, fmt.Errorf("op %d: too many inputs", i)
		}
		graph = binary.LittleEndian.AppendUint16(graph, uint16(op.Code))
		graph = binary.LittleEndian.AppendUint16(graph, uint16(len(op.In)))
		for _, in := range op.In {
			graph = binary.LittleEndian.AppendUint32(graph, uint32(in))
		}
		graph = binary.LittleEndian.AppendUint32(graph, uint32(op.Out))
	}

	bindings, err := encodeBindingList(nil, g.Inputs)
	if err != nil {
		return nil, err
	}
	bindings, err = encodeBindingList(bindings, g.Outputs)
	if err != nil {
		return nil, err
	}

	w := tgf.NewWriter()
	if err := w.WriteSection(tgf.SectionGraph, 1, graph); err != nil {
		return nil, err
	}
	if err := w.WriteSection(tgf.SectionBindings, 1, bindings); err != nil {
		return nil, err
	}
	if len(g.Consts) > 0 {
		slots := make([]int, 0, len(g.Consts))
		for s := range g.Consts {
			slots = append(slots, s)
		}
		sort.Ints(slots)
		var consts []byte
		consts = binary.LittleEndian.AppendUint32(consts, uint32(len(slots)))
		for _, s := range slots {
			consts = binary.LittleEndian.AppendUint32(consts, uint32(s))
			consts = binary.LittleEndian.AppendUint64(consts, uint64(len(g.Consts[s])))
			consts = append(consts, g.Consts[s]...)
		}
		if err := w.WriteSection(tgf.SectionConsts, 1, consts); err != nil {
			return nil, err
		}
	}
	return w.Finalize()
}

func encodeBindingList(buf []byte, bindings []ir.Binding) ([]byte, error) {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bindings)))
	for _, b := range bindings {
		if len(b.Name) > 65535 {
			return nil, fmt.Errorf("binding name too long: %q", b.Name[:32])
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b.Name)))
		buf = append(buf, b.Name...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Slot))
	}
	return buf, nil
}
