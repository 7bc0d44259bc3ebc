package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/pkg/tgf"
)

// constAddGraph adds a constant bias to one input.
func constAddGraph() *ir.Graph {
	return &ir.Graph{
		Slots: []ir.SlotDef{
			{DType: ir.F32, Shape: ir.Shape{2}},
			{DType: ir.F32, Shape: ir.Shape{2}},
			{DType: ir.F32, Shape: ir.Shape{2}},
		},
		Consts: map[int][]byte{
			1: {0, 0, 128, 63, 0, 0, 0, 64}, // 1.0, 2.0
		},
		Ops: []ir.Op{
			{Code: ir.OpInput, In: []int{}, Out: 0},
			{Code: ir.OpConst, In: []int{}, Out: 1},
			{Code: ir.OpAdd, In: []int{0, 1}, Out: 2},
		},
		Inputs:  []ir.Binding{{Name: "x", Slot: 0}},
		Outputs: []ir.Binding{{Name: "y", Slot: 2}},
	}
}

func encodeFixture(t *testing.T, g *ir.Graph) []byte {
	t.Helper()
	data, err := EncodeTGF(g)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestTGFDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	want := constAddGraph()
	data := encodeFixture(t, want)

	d, err := Resolve(TGF)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	g, prov, err := d.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := ir.Verify(g, prov); err != nil {
		t.Fatalf("verify decoded graph: %v", err)
	}

	if len(g.Slots) != len(want.Slots) {
		t.Fatalf("slots: got %d, want %d", len(g.Slots), len(want.Slots))
	}
	for i := range g.Slots {
		if g.Slots[i].DType != want.Slots[i].DType || !g.Slots[i].Shape.Equal(want.Slots[i].Shape) {
			t.Fatalf("slot %d mismatch: %+v vs %+v", i, g.Slots[i], want.Slots[i])
		}
	}
	if len(g.Ops) != 3 || g.Ops[2].Code != ir.OpAdd || g.Ops[2].Out != 2 {
		t.Fatalf("ops mismatch: %+v", g.Ops)
	}
	if !bytes.Equal(g.Consts[1], want.Consts[1]) {
		t.Fatalf("const payload mismatch: %v", g.Consts[1])
	}
	if len(g.Inputs) != 1 || g.Inputs[0] != (ir.Binding{Name: "x", Slot: 0}) {
		t.Fatalf("inputs mismatch: %+v", g.Inputs)
	}
	if len(g.Outputs) != 1 || g.Outputs[0] != (ir.Binding{Name: "y", Slot: 2}) {
		t.Fatalf("outputs mismatch: %+v", g.Outputs)
	}

	if len(prov.OpOffsets) != 3 {
		t.Fatalf("provenance: got %d offsets, want 3", len(prov.OpOffsets))
	}
	for i, off := range prov.OpOffsets {
		if off <= 0 || off >= int64(len(data)) {
			t.Fatalf("op %d offset %d outside file", i, off)
		}
	}
}

func TestTGFDecodeDoesNotRetainInput(t *testing.T) {
	t.Parallel()

	data := encodeFixture(t, constAddGraph())
	d, _ := Resolve(TGF)
	g, _, err := d.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	before := append([]byte(nil), g.Consts[1]...)
	for i := range data {
		data[i] = 0xFF
	}
	if !bytes.Equal(g.Consts[1], before) {
		t.Fatal("const payload aliases the input buffer")
	}
}

func decodeKind(t *testing.T, data []byte) ir.Kind {
	t.Helper()
	d, _ := Resolve(TGF)
	_, _, err := d.Decode(data)
	if err == nil {
		t.Fatal("expected decode failure")
	}
	var verr *ir.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ir.ValidationError, got %T: %v", err, err)
	}
	return verr.Kind
}

func TestTGFDecodeMalformed(t *testing.T) {
	t.Parallel()

	base := encodeFixture(t, constAddGraph())

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		if k := decodeKind(t, nil); k != ir.KindOutOfBounds {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		t.Parallel()
		b := append([]byte(nil), base...)
		b[0] = 'Z'
		if k := decodeKind(t, b); k != ir.KindBadMagic {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("future major version", func(t *testing.T) {
		t.Parallel()
		b := append([]byte(nil), base...)
		binary.LittleEndian.PutUint16(b[4:6], tgf.CurrentMajor+3)
		if k := decodeKind(t, b); k != ir.KindBadVersion {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("missing bindings section", func(t *testing.T) {
		t.Parallel()
		w := tgf.NewWriter()
		if err := w.WriteSection(tgf.SectionGraph, 1, []byte{0, 0, 0, 0, 0, 0, 0, 0}); err != nil {
			t.Fatalf("write: %v", err)
		}
		data, err := w.Finalize()
		if err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if k := decodeKind(t, data); k != ir.KindTruncated {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("slot count exceeds payload", func(t *testing.T) {
		t.Parallel()
		var graph []byte
		graph = binary.LittleEndian.AppendUint32(graph, 1<<30)
		data := buildRawContainer(t, graph, emptyBindings())
		if k := decodeKind(t, data); k != ir.KindTruncated {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("op input count exceeds payload", func(t *testing.T) {
		t.Parallel()
		var graph []byte
		graph = binary.LittleEndian.AppendUint32(graph, 1) // 1 slot
		graph = append(graph, byte(ir.F32), 1)
		graph = binary.LittleEndian.AppendUint32(graph, 4)
		graph = binary.LittleEndian.AppendUint32(graph, 1) // 1 op
		graph = binary.LittleEndian.AppendUint16(graph, uint16(ir.OpAdd))
		graph = binary.LittleEndian.AppendUint16(graph, 0xFFFF) // claims 65535 inputs
		data := buildRawContainer(t, graph, emptyBindings())
		if k := decodeKind(t, data); k != ir.KindTruncated {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("trailing bytes after graph", func(t *testing.T) {
		t.Parallel()
		var graph []byte
		graph = binary.LittleEndian.AppendUint32(graph, 0) // 0 slots
		graph = binary.LittleEndian.AppendUint32(graph, 0) // 0 ops
		graph = append(graph, 0xAB)
		data := buildRawContainer(t, graph, emptyBindings())
		if k := decodeKind(t, data); k != ir.KindOutOfBounds {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("oversized slot index", func(t *testing.T) {
		t.Parallel()
		var graph []byte
		graph = binary.LittleEndian.AppendUint32(graph, 1)
		graph = append(graph, byte(ir.F32), 1)
		graph = binary.LittleEndian.AppendUint32(graph, 4)
		graph = binary.LittleEndian.AppendUint32(graph, 1)
		graph = binary.LittleEndian.AppendUint16(graph, uint16(ir.OpInput))
		graph = binary.LittleEndian.AppendUint16(graph, 0)
		graph = binary.LittleEndian.AppendUint32(graph, 1<<31|5) // out slot way out of range
		data := buildRawContainer(t, graph, emptyBindings())
		if k := decodeKind(t, data); k != ir.KindOutOfBounds {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("duplicate const slot", func(t *testing.T) {
		t.Parallel()
		var graph []byte
		graph = binary.LittleEndian.AppendUint32(graph, 0)
		graph = binary.LittleEndian.AppendUint32(graph, 0)

		var consts []byte
		consts = binary.LittleEndian.AppendUint32(consts, 2)
		for i := 0; i < 2; i++ {
			consts = binary.LittleEndian.AppendUint32(consts, 0)
			consts = binary.LittleEndian.AppendUint64(consts, 0)
		}

		w := tgf.NewWriter()
		if err := w.WriteSection(tgf.SectionGraph, 1, graph); err != nil {
			t.Fatalf("write graph: %v", err)
		}
		if err := w.WriteSection(tgf.SectionBindings, 1, emptyBindings()); err != nil {
			t.Fatalf("write bindings: %v", err)
		}
		if err := w.WriteSection(tgf.SectionConsts, 1, consts); err != nil {
			t.Fatalf("write consts: %v", err)
		}
		data, err := w.Finalize()
		if err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if k := decodeKind(t, data); k != ir.KindBadConst {
			t.Fatalf("kind: %s", k)
		}
	})

	t.Run("const size exceeds payload", func(t *testing.T) {
		t.Parallel()
		var graph []byte
		graph = binary.LittleEndian.AppendUint32(graph, 0)
		graph = binary.LittleEndian.AppendUint32(graph, 0)

		var consts []byte
		consts = binary.LittleEndian.AppendUint32(consts, 1)
		consts = binary.LittleEndian.AppendUint32(consts, 0)
		consts = binary.LittleEndian.AppendUint64(consts, 1<<40)

		w := tgf.NewWriter()
		if err := w.WriteSection(tgf.SectionGraph, 1, graph); err != nil {
			t.Fatalf("write graph: %v", err)
		}
		if err := w.WriteSection(tgf.SectionBindings, 1, emptyBindings()); err != nil {
			t.Fatalf("write bindings: %v", err)
		}
		if err := w.WriteSection(tgf.SectionConsts, 1, consts); err != nil {
			t.Fatalf("write consts: %v", err)
		}
		data, err := w.Finalize()
		if err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if k := decodeKind(t, data); k != ir.KindTruncated {
			t.Fatalf("kind: %s", k)
		}
	})
}

func TestTGFDecodeErrorOffsetsInsideFile(t *testing.T) {
	t.Parallel()

	// Truncate the graph section mid-op and check the reported offset
	// lands inside the original file.
	var graph []byte
	graph = binary.LittleEndian.AppendUint32(graph, 1)
	graph = append(graph, byte(ir.F32), 1)
	graph = binary.LittleEndian.AppendUint32(graph, 4)
	graph = binary.LittleEndian.AppendUint32(graph, 1)
	graph = binary.LittleEndian.AppendUint16(graph, uint16(ir.OpInput))
	// op record ends here: missing input count and output slot

	data := buildRawContainer(t, graph, emptyBindings())
	d, _ := Resolve(TGF)
	_, _, err := d.Decode(data)
	var verr *ir.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Kind != ir.KindTruncated {
		t.Fatalf("kind: %s", verr.Kind)
	}
	if verr.Offset <= 0 || verr.Offset > int64(len(data)) {
		t.Fatalf("offset %d outside file of %d bytes", verr.Offset, len(data))
	}
}

func emptyBindings() []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = binary.LittleEndian.AppendUint32(b, 0)
	return b
}

func buildRawContainer(t *testing.T, graph, bindings []byte) []byte {
	t.Helper()
	w := tgf.NewWriter()
	if err := w.WriteSection(tgf.SectionGraph, 1, graph); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	if err := w.WriteSection(tgf.SectionBindings, 1, bindings); err != nil {
		t.Fatalf("write bindings: %v", err)
	}
	data, err := w.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return data
}
