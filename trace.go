package reil

import (
	"bufio"
	"fmt"
	"io"

	"github.com/holiman/uint256"
)

// Hook receives callbacks while an Interpreter executes.
type Hook interface {
	// Called once before the first instruction executes.
	Start(i *Interpreter)

	// Called after every executed instruction.
	Step(i *Interpreter, instr *Instruction)

	// Called once when interpretation ends, including on error.
	End(i *Interpreter)
}

var _ Hook = (*TraceHook)(nil)

// TraceHook writes the value of every register of the interpreter's policy
// after each executed instruction. Each line holds the registers as
// fixed-width hex followed by a synthetic flags word. Values are truncated
// to the register's width.
type TraceHook struct {
	w   *bufio.Writer
	err error

	// If true, a comment line naming the traced registers is written first.
	Header bool
}

// NewTraceHook returns a new instance of TraceHook that writes to w.
func NewTraceHook(w io.Writer) *TraceHook {
	return &TraceHook{w: bufio.NewWriter(w)}
}

// Err returns the first write error encountered, if any.
func (h *TraceHook) Err() error { return h.err }

// Start writes the header line, if enabled.
func (h *TraceHook) Start(i *Interpreter) {
	if !h.Header {
		return
	}
	h.printf("# %s", i.Policy().Name())
	for _, name := range i.Policy().Registers() {
		h.printf(" %s", name)
	}
	h.printf(" flags\n")
}

// Step writes one trace line.
func (h *TraceHook) Step(i *Interpreter, instr *Instruction) {
	h.printf("%08X:", instr.Address)
	for _, name := range i.Policy().Registers() {
		width, _ := i.Policy().RegisterSize(name)
		digits := width / 4
		if v, ok := i.registers[name]; ok {
			v = new(uint256.Int).And(v, widthMask(width))
			h.printf(" %0*X", digits, v.ToBig())
		} else {
			h.printf(" %0*X", digits, 0)
		}
	}
	h.printf(" %08X\n", FlagsWord(i))
}

// End flushes buffered output.
func (h *TraceHook) End(i *Interpreter) {
	if err := h.w.Flush(); err != nil && h.err == nil {
		h.err = err
	}
}

func (h *TraceHook) printf(format string, args ...interface{}) {
	if h.err != nil {
		return
	}
	if _, err := fmt.Fprintf(h.w, format, args...); err != nil {
		h.err = err
	}
}

// FlagsWord packs the flags of the interpreter's policy into a 32-bit word.
// Flag i of the policy's flag list occupies bit 31-i. Undefined or zero flags
// are clear.
func FlagsWord(i *Interpreter) uint32 {
	var word uint32
	for n, name := range i.Policy().Flags() {
		if n >= 32 {
			break
		}
		if v, ok := i.registers[name]; ok && !v.IsZero() {
			word |= 1 << uint(31-n)
		}
	}
	return word
}
