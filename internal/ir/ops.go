package ir

import "fmt"

type OpCode uint16

// The supported operation whitelist. Anything outside this set is a
// validation failure, never a runtime surprise.
const (
	OpInput     OpCode = 0
	OpConst     OpCode = 1
	OpAdd       OpCode = 2
	OpMul       OpCode = 3
	OpMatMul    OpCode = 4
	OpRelu      OpCode = 5
	OpSigmoid   OpCode = 6
	OpTanh      OpCode = 7
	OpSoftmax   OpCode = 8
	OpReshape   OpCode = 9
	OpTranspose OpCode = 10
)

func (c OpCode) String() string {
	switch c {
	case OpInput:
		return "input"
	case OpConst:
		return "const"
	case OpAdd:
		return "add"
	case OpMul:
		return "mul"
	case OpMatMul:
		return "matmul"
	case OpRelu:
		return "relu"
	case OpSigmoid:
		return "sigmoid"
	case OpTanh:
		return "tanh"
	case OpSoftmax:
		return "softmax"
	case OpReshape:
		return "reshape"
	case OpTranspose:
		return "transpose"
	default:
		return fmt.Sprintf("opcode(%d)", uint16(c))
	}
}

// Known reports whether c is in the supported whitelist.
func (c OpCode) Known() bool {
	return c <= OpTranspose
}

// Arity returns the required input count for c, or -1 if unknown.
func (c OpCode) Arity() int {
	switch c {
	case OpInput, OpConst:
		return 0
	case OpAdd, OpMul, OpMatMul:
		return 2
	case OpRelu, OpSigmoid, OpTanh, OpSoftmax, OpReshape, OpTranspose:
		return 1
	default:
		return -1
	}
}

// ParseOpCode maps a textual op name to its code, for the textual
// graph format and CLI tooling.
func ParseOpCode(name string) (OpCode, bool) {
	for c := OpInput; c <= OpTranspose; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}
