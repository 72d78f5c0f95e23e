package reil

import (
	"errors"
	"fmt"
)

// Standard operand widths, in bits.
const (
	Width8   = 8
	Width16  = 16
	Width32  = 32
	Width64  = 64
	Width128 = 128
)

// Sentinel is the program counter value that ends interpretation.
const Sentinel = 0xFFFFFFFF

// ProbeLimit is the number of native addresses probed past the next
// macro-instruction address when looking for the next instructions.
const ProbeLimit = 10

// AddressShift is the number of bits a native address is shifted by to form
// the base IR address of its macro-instruction. The low byte is the index of
// the IR instruction within the macro-instruction.
const AddressShift = 8

// Interpreter errors.
var (
	ErrUnknownOpcode       = errors.New("unknown opcode")
	ErrMissingInstructions = errors.New("no instructions at address")
	ErrEmptyInstructions   = errors.New("empty instruction list")
	ErrUndefinedRegister   = errors.New("undefined register")
	ErrInvalidOperand      = errors.New("invalid operand")
	ErrUnsupportedSize     = errors.New("unsupported memory access size")
	ErrDivisionByZero      = errors.New("division by zero")
)

// Analysis errors.
var (
	ErrUnsupportedOperands = errors.New("unsupported operand combination")
	ErrUnsupportedArity    = errors.New("unsupported number of states to combine")
	ErrNotConverged        = errors.New("analysis did not converge")
)

// NativeAddress returns the native address of the macro-instruction that
// contains the IR address addr.
func NativeAddress(addr uint64) uint64 { return addr >> AddressShift }

// SubIndex returns the index of addr within its macro-instruction.
func SubIndex(addr uint64) uint64 { return addr & 0xFF }

// IRAddress returns the IR address of the sub-th instruction of the
// macro-instruction at native.
func IRAddress(native, sub uint64) uint64 { return native<<AddressShift | (sub & 0xFF) }

// mask returns the all-ones pattern for a width in bits. Returns zero for
// widths which cannot be represented in 64 bits.
func mask(width int) uint64 {
	switch {
	case width <= 0 || width > 64:
		return 0
	case width == 64:
		return ^uint64(0)
	default:
		return (1 << uint(width)) - 1
	}
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
