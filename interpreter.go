package reil

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Interpreter executes REIL instructions against a concrete register file and
// memory image. An Interpreter must not be shared between goroutines.
type Interpreter struct {
	policy    *CPUPolicy
	memory    *Memory
	registers map[string]*uint256.Int

	// Optional callbacks invoked around every executed instruction.
	Hook Hook
}

// NewInterpreter returns a new instance of Interpreter for an architecture.
func NewInterpreter(policy *CPUPolicy, littleEndian bool) *Interpreter {
	return &Interpreter{
		policy:    policy,
		memory:    NewMemory(littleEndian),
		registers: make(map[string]*uint256.Int),
	}
}

// Policy returns the architecture policy of the interpreter.
func (i *Interpreter) Policy() *CPUPolicy { return i.policy }

// Memory returns the memory image of the interpreter.
func (i *Interpreter) Memory() *Memory { return i.memory }

// Register returns a copy of the value of a register.
// Returns false if the register is undefined.
func (i *Interpreter) Register(name string) (*uint256.Int, bool) {
	v, ok := i.registers[name]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// SetRegister assigns a value to a register, defining it if necessary.
func (i *Interpreter) SetRegister(name string, v *uint256.Int) {
	i.registers[name] = v.Clone()
}

// SetRegisterUint64 assigns a 64-bit value to a register.
func (i *Interpreter) SetRegisterUint64(name string, v uint64) {
	i.registers[name] = uint256.NewInt(v)
}

// UndefineRegister removes a register from the set of defined registers.
func (i *Interpreter) UndefineRegister(name string) {
	delete(i.registers, name)
}

// IsDefined returns true if the register currently holds a value.
func (i *Interpreter) IsDefined(name string) bool {
	_, ok := i.registers[name]
	return ok
}

// DefinedRegisters returns the names of all defined registers, sorted.
func (i *Interpreter) DefinedRegisters() []string {
	a := maps.Keys(i.registers)
	slices.Sort(a)
	return a
}

// Interpret executes instructions starting at the native address entry.
//
// Instructions are grouped by the native address of their macro-instruction.
// Execution stops when the program counter reaches Sentinel or when no more
// instructions follow the last executed macro-instruction.
func (i *Interpreter) Interpret(instructions map[uint64][]*Instruction, entry uint64) error {
	pc := i.policy.ProgramCounter()
	i.SetRegisterUint64(pc, entry)

	if i.Hook != nil {
		i.Hook.Start(i)
		defer i.Hook.End(i)
	}

	log.Printf("[interpret] begin: arch=%s entry=%08X", i.policy.Name(), entry)

	var next int // position within the current macro-instruction
	for {
		v, ok := i.registers[pc]
		if !ok {
			return &InterpreterError{Err: fmt.Errorf("%w: %s", ErrUndefinedRegister, pc)}
		}
		addr := v.Uint64()
		if addr == Sentinel {
			log.Printf("[interpret] end: sentinel reached")
			return nil
		}

		block, ok := instructions[addr]
		if !ok {
			return &InterpreterError{Address: IRAddress(addr, 0), Err: ErrMissingInstructions}
		} else if len(block) == 0 {
			return &InterpreterError{Address: IRAddress(addr, 0), Err: ErrEmptyInstructions}
		}

		jumped := false
		for next < len(block) {
			instr := block[next]
			log.Printf("[exec] %s", instr)

			target, err := i.execute(instr)
			if err != nil {
				return &InterpreterError{Address: instr.Address, Instr: instr, Err: err}
			}
			if i.Hook != nil {
				i.Hook.Step(i, instr)
			}

			if target == nil {
				// Writes to the program counter transfer control to the
				// macro-instruction it now names.
				if v, ok := i.registers[pc]; !ok || !v.IsUint64() || v.Uint64() != addr {
					jumped = true
					next = 0
					break
				}
				next++
				continue
			}

			// Jumps within the current macro-instruction only move the sub-program-counter.
			if target.native == addr && target.intra {
				if next = indexOfSubAddress(block, target.native, target.sub); next == -1 {
					return &InterpreterError{Address: instr.Address, Instr: instr, Err: ErrMissingInstructions}
				}
				continue
			}

			i.SetRegisterUint64(pc, target.native)
			next = 0
			if target.intra {
				if dst, ok := instructions[target.native]; ok {
					if next = indexOfSubAddress(dst, target.native, target.sub); next == -1 {
						return &InterpreterError{Address: IRAddress(target.native, target.sub), Err: ErrMissingInstructions}
					}
				}
			}
			jumped = true
			break
		}
		if jumped {
			continue
		}

		// Advance to the next macro-instruction, skipping gaps left by
		// variable-length native instructions.
		nextAddr, ok := nextMacroAddress(instructions, addr)
		if !ok {
			log.Printf("[interpret] end: no instructions after %08X", addr)
			return nil
		}
		i.SetRegisterUint64(pc, nextAddr)
		next = 0
	}
}

// nextMacroAddress returns the first native address after addr that has
// instructions registered, probing up to ProbeLimit addresses past the next one.
func nextMacroAddress(instructions map[uint64][]*Instruction, addr uint64) (uint64, bool) {
	for n := addr + 1; n <= addr+1+ProbeLimit; n++ {
		if _, ok := instructions[n]; ok {
			return n, true
		}
	}
	return 0, false
}

// indexOfSubAddress returns the position of the instruction at native.sub
// within block, or -1 if it does not exist.
func indexOfSubAddress(block []*Instruction, native, sub uint64) int {
	addr := IRAddress(native, sub)
	for i, instr := range block {
		if instr.Address == addr {
			return i
		}
	}
	return -1
}

// jumpTarget is the destination of a taken JCC.
type jumpTarget struct {
	native uint64
	sub    uint64
	intra  bool // target names a sub-instruction
}

// execute runs a single instruction. Returns a non-nil target if a jump is taken.
func (i *Interpreter) execute(instr *Instruction) (*jumpTarget, error) {
	switch instr.Opcode {
	case ADD:
		return nil, i.executeBinary(instr, func(z, x, y *uint256.Int) error { z.Add(x, y); return nil })
	case SUB:
		return nil, i.executeSub(instr)
	case MUL:
		return nil, i.executeBinary(instr, func(z, x, y *uint256.Int) error { z.Mul(x, y); return nil })
	case DIV:
		return nil, i.executeBinary(instr, func(z, x, y *uint256.Int) error {
			if y.IsZero() {
				return ErrDivisionByZero
			}
			z.Div(x, y)
			return nil
		})
	case MOD:
		return nil, i.executeBinary(instr, func(z, x, y *uint256.Int) error {
			if y.IsZero() {
				return ErrDivisionByZero
			}
			z.Mod(x, y)
			return nil
		})
	case AND:
		return nil, i.executeBinary(instr, func(z, x, y *uint256.Int) error { z.And(x, y); return nil })
	case OR:
		return nil, i.executeBinary(instr, func(z, x, y *uint256.Int) error { z.Or(x, y); return nil })
	case XOR:
		return nil, i.executeXor(instr)
	case BSH:
		return nil, i.executeBsh(instr)
	case BISZ:
		return nil, i.executeBisz(instr)
	case LDM:
		return nil, i.executeLdm(instr)
	case STM:
		return nil, i.executeStm(instr)
	case STR:
		return nil, i.executeStr(instr)
	case JCC:
		return i.executeJcc(instr)
	case UNDEF:
		return nil, i.executeUndef(instr)
	case NOP, UNKNOWN:
		return nil, nil
	default:
		return nil, ErrUnknownOpcode
	}
}

// executeBinary evaluates the first two operands, applies fn and assigns the
// unmasked result to the third operand.
func (i *Interpreter) executeBinary(instr *Instruction, fn func(z, x, y *uint256.Int) error) error {
	x, err := i.operandValue(instr.First)
	if err != nil {
		return err
	}
	y, err := i.operandValue(instr.Second)
	if err != nil {
		return err
	}

	z := new(uint256.Int)
	if err := fn(z, x, y); err != nil {
		return err
	}
	return i.assign(instr.Third, z)
}

// executeSub is the only arithmetic operation whose result is truncated to
// the width of the destination.
func (i *Interpreter) executeSub(instr *Instruction) error {
	return i.executeBinary(instr, func(z, x, y *uint256.Int) error {
		z.Sub(x, y)
		z.And(z, widthMask(int(instr.Third.Size)))
		return nil
	})
}

// executeXor treats "xor r, r" as zero without reading r.
func (i *Interpreter) executeXor(instr *Instruction) error {
	if instr.First.Kind == OperandRegister && instr.First == instr.Second {
		return i.assign(instr.Third, new(uint256.Int))
	}
	return i.executeBinary(instr, func(z, x, y *uint256.Int) error { z.Xor(x, y); return nil })
}

// executeBsh shifts left for positive amounts and right for negative amounts.
// An amount whose sign bit is set at its declared width is negative.
func (i *Interpreter) executeBsh(instr *Instruction) error {
	return i.executeBinary(instr, func(z, x, y *uint256.Int) error {
		width := int(instr.Second.Size)
		if isNegative(y, width) {
			n := new(uint256.Int).Sub(widthMask(width), y)
			n.AddUint64(n, 1)
			n.And(n, widthMask(width))
			if !n.IsUint64() || n.Uint64() >= 256 {
				z.Clear()
				return nil
			}
			z.Rsh(x, uint(n.Uint64()))
			return nil
		}

		if !y.IsUint64() || y.Uint64() >= 256 {
			z.Clear()
			return nil
		}
		z.Lsh(x, uint(y.Uint64()))
		return nil
	})
}

func (i *Interpreter) executeBisz(instr *Instruction) error {
	x, err := i.operandValue(instr.First)
	if err != nil {
		return err
	}
	if x.IsZero() {
		return i.assign(instr.Third, uint256.NewInt(1))
	}
	return i.assign(instr.Third, uint256.NewInt(0))
}

// executeLdm loads a value at the width of the destination register.
func (i *Interpreter) executeLdm(instr *Instruction) error {
	addr, err := i.operandValue(instr.First)
	if err != nil {
		return err
	} else if !addr.IsUint64() {
		return fmt.Errorf("%w: address %s", ErrInvalidOperand, addr.Hex())
	}

	v, err := i.memory.Load(addr.Uint64(), instr.Third.Size.Bytes())
	if err != nil {
		return err
	}
	return i.assign(instr.Third, uint256.NewInt(v))
}

// executeStm stores the first operand at the width it is declared with.
func (i *Interpreter) executeStm(instr *Instruction) error {
	v, err := i.operandValue(instr.First)
	if err != nil {
		return err
	}
	addr, err := i.operandValue(instr.Third)
	if err != nil {
		return err
	} else if !addr.IsUint64() {
		return fmt.Errorf("%w: address %s", ErrInvalidOperand, addr.Hex())
	}

	n := instr.First.Size.Bytes()
	truncated := new(uint256.Int).And(v, widthMask(int(instr.First.Size)))
	return i.memory.Store(addr.Uint64(), truncated.Uint64(), n)
}

func (i *Interpreter) executeStr(instr *Instruction) error {
	v, err := i.operandValue(instr.First)
	if err != nil {
		return err
	}
	return i.assign(instr.Third, v)
}

func (i *Interpreter) executeJcc(instr *Instruction) (*jumpTarget, error) {
	cond, err := i.operandValue(instr.First)
	if err != nil {
		return nil, err
	} else if cond.IsZero() {
		return nil, nil
	}

	switch instr.Third.Kind {
	case OperandSubAddress:
		native, sub, err := instr.Third.SubAddress()
		if err != nil {
			return nil, err
		}
		return &jumpTarget{native: native, sub: sub, intra: true}, nil
	case OperandInteger, OperandRegister:
		v, err := i.operandValue(instr.Third)
		if err != nil {
			return nil, err
		} else if !v.IsUint64() {
			return nil, fmt.Errorf("%w: jump target %s", ErrInvalidOperand, v.Hex())
		}
		return &jumpTarget{native: v.Uint64()}, nil
	default:
		return nil, fmt.Errorf("%w: jump target %s", ErrInvalidOperand, instr.Third)
	}
}

func (i *Interpreter) executeUndef(instr *Instruction) error {
	if instr.Third.Kind != OperandRegister {
		return fmt.Errorf("%w: undef target %s", ErrInvalidOperand, instr.Third)
	}
	i.UndefineRegister(instr.Third.Value)
	return nil
}

// operandValue returns the value of a register or integer operand.
func (i *Interpreter) operandValue(o Operand) (*uint256.Int, error) {
	switch o.Kind {
	case OperandRegister:
		v, ok := i.registers[o.Value]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUndefinedRegister, o.Value)
		}
		return v, nil
	case OperandInteger:
		return integerValue(o)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidOperand, o)
	}
}

// assign writes v to the register named by o.
func (i *Interpreter) assign(o Operand, v *uint256.Int) error {
	if o.Kind != OperandRegister {
		return fmt.Errorf("%w: cannot assign to %s", ErrInvalidOperand, o)
	}
	i.registers[o.Value] = v.Clone()
	return nil
}

// integerValue converts an integer operand to an unsigned value. Negative
// literals are encoded in two's complement at the operand's width.
func integerValue(o Operand) (*uint256.Int, error) {
	b, err := o.Integer()
	if err != nil {
		return nil, err
	}
	if b.Sign() < 0 {
		width := int(o.Size)
		if width == 0 {
			width = Width64
		}
		modulus := new(big.Int).Lsh(big.NewInt(1), uint(width))
		b = new(big.Int).Mod(b, modulus)
	}

	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: integer %s out of range", ErrInvalidOperand, o.Value)
	}
	return v, nil
}

// widthMask returns the all-ones pattern for a width in bits.
func widthMask(width int) *uint256.Int {
	if width <= 0 || width >= 256 {
		return new(uint256.Int).SetAllOne()
	}
	m := new(uint256.Int).Lsh(uint256.NewInt(1), uint(width))
	return m.Sub(m, uint256.NewInt(1))
}

// isNegative returns true if the sign bit of v at width is set.
func isNegative(v *uint256.Int, width int) bool {
	if width <= 0 || width > 256 {
		return false
	}
	bit := new(uint256.Int).Rsh(v, uint(width-1))
	return bit.Uint64()&1 == 1
}

// Dump returns the defined registers and memory contents as a string.
func (i *Interpreter) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "== REGISTERS")
	for _, name := range i.DefinedRegisters() {
		fmt.Fprintf(&buf, "%s = %s\n", name, i.registers[name].Hex())
	}
	fmt.Fprintln(&buf, "")
	fmt.Fprintln(&buf, "== MEMORY")
	buf.WriteString(i.memory.Dump())
	return buf.String()
}

// InterpreterError is returned when interpretation cannot continue.
type InterpreterError struct {
	Address uint64       // IR address
	Instr   *Instruction // failing instruction, if any
	Err     error
}

// Error returns the error message.
func (e *InterpreterError) Error() string {
	if e.Instr != nil {
		return fmt.Sprintf("reil.Interpreter: %s: %s", e.Instr, e.Err)
	}
	return fmt.Sprintf("reil.Interpreter: %08X: %s", e.Address, e.Err)
}

// Unwrap returns the underlying error.
func (e *InterpreterError) Unwrap() error { return e.Err }

// IsInterpreterError returns true if err was raised by the interpreter.
func IsInterpreterError(err error) bool {
	var e *InterpreterError
	return errors.As(err, &e)
}
