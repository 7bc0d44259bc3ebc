package format

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/pkg/tgf"
)

// tgfDecoder decodes the binary TGF container into a graph. Every
// field is treated as adversarial: nothing is allocated or indexed
// before the raw value is range-checked.
type tgfDecoder struct{}

// cursor walks a section payload while tracking the absolute file
// offset for error reporting.
type cursor struct {
	data []byte
	base int64
	off  int
}

func (c *cursor) abs() int64 { return c.base + int64(c.off) }

func (c *cursor) remaining() int { return len(c.data) - c.off }

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, ir.Errf(ir.KindTruncated, c.abs(), "need %d bytes, have %d", n, c.remaining())
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// count reads an element count and rejects values that could not
// possibly fit in the remaining payload, before anything is allocated.
func (c *cursor) count(minRecord int) (int, error) {
	at := c.abs()
	v, err := c.u32()
	if err != nil {
		return 0, err
	}
	if minRecord > 0 && uint64(v)*uint64(minRecord) > uint64(c.remaining()) {
		return 0, ir.Errf(ir.KindTruncated, at, "declared count %d exceeds payload", v)
	}
	return int(v), nil
}

func (c *cursor) slotIndex() (int, error) {
	at := c.abs()
	v, err := c.u32()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, ir.Errf(ir.KindOutOfBounds, at, "slot index %d out of range", v)
	}
	return int(v), nil
}

func (tgfDecoder) Decode(data []byte) (*ir.Graph, *ir.Provenance, error) {
	file, err := tgf.Parse(data)
	if err != nil {
		return nil, nil, containerError(err)
	}

	graphSec := file.Section(tgf.SectionGraph)
	if graphSec == nil {
		return nil, nil, ir.Errf(ir.KindTruncated, 0, "missing graph section")
	}
	bindSec := file.Section(tgf.SectionBindings)
	if bindSec == nil {
		return nil, nil, ir.Errf(ir.KindTruncated, 0, "missing bindings section")
	}

	g := &ir.Graph{Consts: map[int][]byte{}}
	prov := &ir.Provenance{}

	if err := decodeGraphSection(g, prov, file.SectionData(graphSec), int64(graphSec.Offset)); err != nil {
		return nil, nil, err
	}
	if err := decodeBindingsSection(g, file.SectionData(bindSec), int64(bindSec.Offset)); err != nil {
		return nil, nil, err
	}
	if constSec := file.Section(tgf.SectionConsts); constSec != nil {
		if err := decodeConstsSection(g, file.SectionData(constSec), int64(constSec.Offset)); err != nil {
			return nil, nil, err
		}
	}
	return g, prov, nil
}

func containerError(err error) error {
	switch {
	case errors.Is(err, tgf.ErrInvalidMagic):
		return ir.Errf(ir.KindBadMagic, 0, "%v", err)
	case errors.Is(err, tgf.ErrUnsupportedMajor):
		return ir.Errf(ir.KindBadVersion, 0, "%v", err)
	default:
		return ir.Errf(ir.KindOutOfBounds, 0, "%v", err)
	}
}

func decodeGraphSection(g *ir.Graph, prov *ir.Provenance, payload []byte, base int64) error {
	c := &cursor{data: payload, base: base}

	slotCount, err := c.count(2)
	if err != nil {
		return err
	}
	g.Slots = make([]ir.SlotDef, slotCount)
	for i := range g.Slots {
		dt, err := c.u8()
		if err != nil {
			return err
		}
		rank, err := c.u8()
		if err != nil {
			return err
		}
		shape := make(ir.Shape, rank)
		for j := range shape {
			at := c.abs()
			d, err := c.u32()
			if err != nil {
				return err
			}
			if d > math.MaxInt32 {
				return ir.Errf(ir.KindUnresolvedShape, at, "slot %d: dimension %d too large", i, d)
			}
			shape[j] = int(d)
		}
		g.Slots[i] = ir.SlotDef{DType: ir.DType(dt), Shape: shape}
	}

	opCount, err := c.count(8)
	if err != nil {
		return err
	}
	g.Ops = make([]ir.Op, opCount)
	prov.OpOffsets = make([]int64, opCount)
	for i := range g.Ops {
		prov.OpOffsets[i] = c.abs()
		code, err := c.u16()
		if err != nil {
			return err
		}
		nIn, err := c.u16()
		if err != nil {
			return err
		}
		if int(nIn)*4 > c.remaining() {
			return ir.Errf(ir.KindTruncated, prov.OpOffsets[i], "op %d declares %d inputs", i, nIn)
		}
		in := make([]int, nIn)
		for j := range in {
			s, err := c.slotIndex()
			if err != nil {
				return err
			}
			in[j] = s
		}
		out, err := c.slotIndex()
		if err != nil {
			return err
		}
		g.Ops[i] = ir.Op{Code: ir.OpCode(code), In: in, Out: out}
	}

	if c.remaining() != 0 {
		return ir.Errf(ir.KindOutOfBounds, c.abs(), "%d trailing bytes after graph", c.remaining())
	}
	return nil
}

func decodeBindingsSection(g *ir.Graph, payload []byte, base int64) error {
	c := &cursor{data: payload, base: base}
	var err error
	if g.Inputs, err = decodeBindingList(c); err != nil {
		return err
	}
	if g.Outputs, err = decodeBindingList(c); err != nil {
		return err
	}
	if c.remaining() != 0 {
		return ir.Errf(ir.KindOutOfBounds, c.abs(), "%d trailing bytes after bindings", c.remaining())
	}
	return nil
}

func decodeBindingList(c *cursor) ([]ir.Binding, error) {
	n, err := c.count(7)
	if err != nil {
		return nil, err
	}
	out := make([]ir.Binding, n)
	for i := range out {
		nameLen, err := c.u16()
		if err != nil {
			return nil, err
		}
		name, err := c.bytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		slot, err := c.slotIndex()
		if err != nil {
			return nil, err
		}
		out[i] = ir.Binding{Name: string(name), Slot: slot}
	}
	return out, nil
}

func decodeConstsSection(g *ir.Graph, payload []byte, base int64) error {
	c := &cursor{data: payload, base: base}
	n, err := c.count(12)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		slot, err := c.slotIndex()
		if err != nil {
			return err
		}
		at := c.abs()
		size, err := c.u64()
		if err != nil {
			return err
		}
		if size > uint64(c.remaining()) {
			return ir.Errf(ir.KindTruncated, at, "const %d declares %d payload bytes", i, size)
		}
		raw, err := c.bytes(int(size))
		if err != nil {
			return err
		}
		if _, dup := g.Consts[slot]; dup {
			return ir.Errf(ir.KindBadConst, at, "const slot %d repeated", slot)
		}
		// Copy out of the caller's buffer: the raw model bytes are
		// not retained past validation.
		g.Consts[slot] = append([]byte(nil), raw...)
	}
	if c.remaining() != 0 {
		return ir.Errf(ir.KindOutOfBounds, c.abs(), "%d trailing bytes after constants", c.remaining())
	}
	return nil
}
