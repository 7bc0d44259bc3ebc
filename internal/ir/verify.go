package ir

// Verify checks the structural invariants of a decoded graph: the op
// list is a DAG in definition order (no forward references, no slot
// redefinition), every shape is fully resolved, every opcode is in the
// whitelist, constants match their declared slots, and the named
// bindings resolve. It inspects structure only and never evaluates an
// operation. Offsets in returned errors come from prov when available.
func Verify(g *Graph, prov *Provenance) error {
	if g == nil || len(g.Slots) == 0 {
		return Errf(KindTruncated, 0, "empty graph")
	}

	for i, s := range g.Slots {
		if s.DType.Size() == 0 {
			return Errf(KindDTypeMismatch, 0, "slot %d: unknown dtype %d", i, uint8(s.DType))
		}
		if _, err := s.Shape.Elements(); err != nil {
			return Errf(KindUnresolvedShape, 0, "slot %d: %v", i, err)
		}
	}

	defined := make([]bool, len(g.Slots))
	inputSlot := make([]bool, len(g.Slots))
	constSeen := make(map[int]bool, len(g.Consts))

	for i, op := range g.Ops {
		off := prov.OpOffset(i)
		if !op.Code.Known() {
			return Errf(KindBadOpcode, off, "op %d: %s", i, op.Code)
		}
		if want := op.Code.Arity(); len(op.In) != want {
			return Errf(KindBadArity, off, "op %d (%s): got %d inputs, want %d", i, op.Code, len(op.In), want)
		}
		for _, in := range op.In {
			if in < 0 || in >= len(g.Slots) {
				return Errf(KindOutOfBounds, off, "op %d (%s): input slot %d out of range", i, op.Code, in)
			}
			if !defined[in] {
				return Errf(KindForwardRef, off, "op %d (%s): input slot %d not yet defined", i, op.Code, in)
			}
		}
		if op.Out < 0 || op.Out >= len(g.Slots) {
			return Errf(KindOutOfBounds, off, "op %d (%s): output slot %d out of range", i, op.Code, op.Out)
		}
		if defined[op.Out] {
			return Errf(KindRedefinedSlot, off, "op %d (%s): output slot %d already defined", i, op.Code, op.Out)
		}
		if err := checkOpShapes(g, i, op, off); err != nil {
			return err
		}
		switch op.Code {
		case OpInput:
			inputSlot[op.Out] = true
		case OpConst:
			payload, ok := g.Consts[op.Out]
			if !ok {
				return Errf(KindBadConst, off, "op %d: const slot %d has no payload", i, op.Out)
			}
			def := g.Slots[op.Out]
			n, _ := def.Shape.Elements()
			if len(payload) != n*def.DType.Size() {
				return Errf(KindBadConst, off, "op %d: const slot %d payload is %d bytes, want %d",
					i, op.Out, len(payload), n*def.DType.Size())
			}
			constSeen[op.Out] = true
		}
		defined[op.Out] = true
	}

	for slot := range g.Consts {
		if !constSeen[slot] {
			return Errf(KindBadConst, 0, "constant payload for slot %d has no const op", slot)
		}
	}
	for i, d := range defined {
		if !d {
			return Errf(KindUndefinedSlot, 0, "slot %d is never defined", i)
		}
	}

	if err := checkBindings(g.Inputs, g, "input"); err != nil {
		return err
	}
	if len(g.Outputs) == 0 {
		return Errf(KindBadBinding, 0, "graph declares no outputs")
	}
	if err := checkBindings(g.Outputs, g, "output"); err != nil {
		return err
	}
	for _, b := range g.Inputs {
		if !inputSlot[b.Slot] {
			return Errf(KindBadBinding, 0, "input binding %q: slot %d is not an input op", b.Name, b.Slot)
		}
	}
	bound := make(map[int]bool, len(g.Inputs))
	for _, b := range g.Inputs {
		bound[b.Slot] = true
	}
	for slot, isInput := range inputSlot {
		if isInput && !bound[slot] {
			return Errf(KindBadBinding, 0, "input slot %d has no binding name", slot)
		}
	}
	return nil
}

func checkBindings(bindings []Binding, g *Graph, role string) error {
	names := make(map[string]bool, len(bindings))
	slots := make(map[int]bool, len(bindings))
	for _, b := range bindings {
		if b.Name == "" {
			return Errf(KindBadBinding, 0, "empty %s binding name", role)
		}
		if names[b.Name] {
			return Errf(KindBadBinding, 0, "duplicate %s binding %q", role, b.Name)
		}
		names[b.Name] = true
		if b.Slot < 0 || b.Slot >= len(g.Slots) {
			return Errf(KindBadBinding, 0, "%s binding %q: slot %d out of range", role, b.Name, b.Slot)
		}
		if slots[b.Slot] {
			return Errf(KindBadBinding, 0, "%s binding %q: slot %d bound twice", role, b.Name, b.Slot)
		}
		slots[b.Slot] = true
	}
	return nil
}

func checkOpShapes(g *Graph, i int, op Op, off int64) error {
	out := g.Slots[op.Out]
	in := make([]SlotDef, len(op.In))
	for j, s := range op.In {
		in[j] = g.Slots[s]
	}

	switch op.Code {
	case OpInput, OpConst:
		return nil

	case OpAdd, OpMul:
		if !in[0].Shape.Equal(in[1].Shape) || !in[0].Shape.Equal(out.Shape) {
			return Errf(KindShapeMismatch, off, "op %d (%s): %s, %s -> %s", i, op.Code,
				in[0].Shape, in[1].Shape, out.Shape)
		}
		if in[0].DType != in[1].DType || in[0].DType != out.DType {
			return Errf(KindDTypeMismatch, off, "op %d (%s): mixed dtypes", i, op.Code)
		}

	case OpMatMul:
		a, b := in[0].Shape, in[1].Shape
		if len(a) != 2 || len(b) != 2 || len(out.Shape) != 2 {
			return Errf(KindShapeMismatch, off, "op %d (matmul): operands must be rank 2", i)
		}
		if a[1] != b[0] || out.Shape[0] != a[0] || out.Shape[1] != b[1] {
			return Errf(KindShapeMismatch, off, "op %d (matmul): %s x %s -> %s", i, a, b, out.Shape)
		}
		if in[0].DType != F32 || in[1].DType != F32 || out.DType != F32 {
			return Errf(KindDTypeMismatch, off, "op %d (matmul): f32 only", i)
		}

	case OpRelu, OpSigmoid, OpTanh, OpSoftmax:
		if !in[0].Shape.Equal(out.Shape) {
			return Errf(KindShapeMismatch, off, "op %d (%s): %s -> %s", i, op.Code, in[0].Shape, out.Shape)
		}
		if in[0].DType != out.DType {
			return Errf(KindDTypeMismatch, off, "op %d (%s): dtype changes", i, op.Code)
		}

	case OpReshape:
		a, _ := in[0].Shape.Elements()
		b, _ := out.Shape.Elements()
		if a != b {
			return Errf(KindShapeMismatch, off, "op %d (reshape): %d elements -> %d", i, a, b)
		}
		if in[0].DType != out.DType {
			return Errf(KindDTypeMismatch, off, "op %d (reshape): dtype changes", i)
		}

	case OpTranspose:
		a := in[0].Shape
		if len(a) != 2 || len(out.Shape) != 2 {
			return Errf(KindShapeMismatch, off, "op %d (transpose): rank 2 only", i)
		}
		if out.Shape[0] != a[1] || out.Shape[1] != a[0] {
			return Errf(KindShapeMismatch, off, "op %d (transpose): %s -> %s", i, a, out.Shape)
		}
		if in[0].DType != out.DType {
			return Errf(KindDTypeMismatch, off, "op %d (transpose): dtype changes", i)
		}
	}
	return nil
}
