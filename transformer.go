package reil

import (
	"fmt"
)

// Rule combines the resolved values of the two input operands of an
// instruction into the value assigned to its destination.
type Rule func(instr *Instruction, lhs, rhs Value) Value

// rules maps each two-input opcode to its combine rule.
var rules = map[Opcode]Rule{
	ADD: addRule,
	SUB: subRule,
	MUL: binaryRule(OpMul),
	DIV: binaryRule(OpDiv),
	MOD: binaryRule(OpMod),
	AND: binaryRule(OpAnd),
	OR:  binaryRule(OpOr),
	XOR: xorRule,
	BSH: bshRule,
}

// Transform applies instr to the incoming state and returns the outgoing
// state. The incoming state is never modified.
func Transform(instr *Instruction, state *State) (*State, error) {
	assert(state != nil, "transform: nil state")

	if rule, ok := rules[instr.Opcode]; ok {
		return apply(rule, instr, state)
	}

	switch instr.Opcode {
	case BISZ:
		return transformBisz(instr, state)
	case LDM:
		return transformLdm(instr, state)
	case STM:
		return transformStm(instr, state)
	case STR:
		return transformStr(instr, state)
	case UNDEF:
		return transformUndef(instr, state)
	case JCC, NOP, UNKNOWN:
		return state, nil
	default:
		return nil, fmt.Errorf("reil.Transform: %s: %w", instr, ErrUnknownOpcode)
	}
}

// apply resolves the two input operands of instr against state, combines them
// with rule and assigns the result to the destination register.
func apply(rule Rule, instr *Instruction, state *State) (*State, error) {
	dst, err := destination(instr)
	if err != nil {
		return nil, err
	}

	var lhs, rhs Value
	switch first, second := instr.First.Kind, instr.Second.Kind; {
	case first == OperandInteger && second == OperandInteger:
		if lhs, err = literalOperand(instr.First); err != nil {
			return nil, err
		} else if rhs, err = literalOperand(instr.Second); err != nil {
			return nil, err
		}
	case first == OperandRegister && second == OperandRegister:
		lhs, rhs = resolve(state, instr.First.Value), resolve(state, instr.Second.Value)
	case first == OperandRegister && second == OperandInteger:
		lhs = resolve(state, instr.First.Value)
		if rhs, err = literalOperand(instr.Second); err != nil {
			return nil, err
		}
	case first == OperandInteger && second == OperandRegister:
		if lhs, err = literalOperand(instr.First); err != nil {
			return nil, err
		}
		rhs = resolve(state, instr.Second.Value)
	default:
		return nil, fmt.Errorf("reil.Transform: %s: %w", instr, ErrUnsupportedOperands)
	}

	return state.Update(instr, dst, rule(instr, lhs, rhs)), nil
}

// binaryRule returns a rule which builds the simplified binary value of op.
func binaryRule(op BinaryOp) Rule {
	return func(instr *Instruction, lhs, rhs Value) Value {
		return NewBinaryValue(op, lhs, rhs)
	}
}

// addRule adds two values. The sum is not truncated to the destination width.
//
// A register holding (X AND mask) plus a literal becomes (X + literal) AND mask
// when mask is the all-ones pattern of the register operand's width.
func addRule(instr *Instruction, lhs, rhs Value) Value {
	if v, ok := pushMask(instr.First, lhs, rhs); ok {
		return v
	} else if v, ok := pushMask(instr.Second, rhs, lhs); ok {
		return v
	}
	return NewBinaryValue(OpAdd, lhs, rhs)
}

// pushMask rewrites masked + lit into (X + lit) AND mask. The masked value
// must be read from the register operand o.
func pushMask(o Operand, masked, lit Value) (Value, bool) {
	if o.Kind != OperandRegister || !IsLiteral(lit) {
		return nil, false
	}

	switch o.Size {
	case SizeByte, SizeWord, SizeDword, SizeQword:
	default:
		return nil, false
	}

	and, ok := masked.(*BinaryValue)
	if !ok || and.Op != OpAnd {
		return nil, false
	}

	// The mask may be on either side of the AND.
	x, m := and.LHS, and.RHS
	if !isLiteralValue(m, o.Size.Mask()) {
		x, m = m, x
	}
	if !isLiteralValue(m, o.Size.Mask()) || IsLiteral(x) {
		return nil, false
	}

	return &BinaryValue{Op: OpAnd, LHS: NewBinaryValue(OpAdd, x, lit), RHS: NewLiteral(o.Size.Mask())}, true
}

// subRule subtracts two values. Constant differences are truncated to the
// width of the destination, matching the interpreter.
func subRule(instr *Instruction, lhs, rhs Value) Value {
	v := NewBinaryValue(OpSub, lhs, rhs)
	if lit, ok := v.(*Literal); ok && instr.Third.Size > SizeEmpty && instr.Third.Size < SizeQword {
		return NewLiteral(lit.Value & instr.Third.Size.Mask())
	}
	return v
}

// xorRule returns zero for two identical register operands, even when the
// register holds no known value.
func xorRule(instr *Instruction, lhs, rhs Value) Value {
	if instr.First.Kind == OperandRegister && instr.First == instr.Second {
		return NewLiteral(0)
	}
	return NewBinaryValue(OpXor, lhs, rhs)
}

// bshRule shifts lhs by rhs. A constant amount whose sign bit is set at the
// width of the amount operand is a right shift by its two's complement magnitude.
func bshRule(instr *Instruction, lhs, rhs Value) Value {
	if lit, ok := rhs.(*Literal); ok {
		rhs = NewLiteral(uint64(signExtend(lit.Value, int(instr.Second.Size))))
	}
	return NewBinaryValue(OpShift, lhs, rhs)
}

// signExtend interprets the low width bits of v as a two's complement integer.
func signExtend(v uint64, width int) int64 {
	if width <= 0 || width >= 64 {
		return int64(v)
	}
	v &= mask(width)
	if v&(1<<uint(width-1)) != 0 {
		return int64(v | ^mask(width))
	}
	return int64(v)
}

// transformBisz assigns the zero test of the first operand.
func transformBisz(instr *Instruction, state *State) (*State, error) {
	dst, err := destination(instr)
	if err != nil {
		return nil, err
	}
	v, err := operandValue(instr, instr.First, state)
	if err != nil {
		return nil, err
	}
	return state.Update(instr, dst, NewNullCheck(v)), nil
}

// transformLdm assigns the value loaded from the address in the first operand.
func transformLdm(instr *Instruction, state *State) (*State, error) {
	dst, err := destination(instr)
	if err != nil {
		return nil, err
	}

	addr, atomic, err := address(instr, instr.First, state)
	if err != nil {
		return nil, err
	}

	// Nothing is known about memory at an unknown address.
	if IsUndefined(addr) {
		return state.Update(instr, dst, NewDereference(atomic)), nil
	}

	if v, ok := state.Get(NewMemoryCell(addr)); ok {
		return state.Update(instr, dst, v), nil
	}
	return state.Update(instr, dst, NewDereference(addr)), nil
}

// transformStm stores the first operand at the address in the third operand.
// The write is kept even if the address is unknown by keying the cell on the
// address operand itself.
func transformStm(instr *Instruction, state *State) (*State, error) {
	v, err := operandValue(instr, instr.First, state)
	if err != nil {
		return nil, err
	}

	addr, atomic, err := address(instr, instr.Third, state)
	if err != nil {
		return nil, err
	}
	if IsUndefined(addr) {
		addr = atomic
	}
	return state.Update(instr, NewMemoryCell(addr), v), nil
}

// transformStr copies the first operand to the destination.
func transformStr(instr *Instruction, state *State) (*State, error) {
	dst, err := destination(instr)
	if err != nil {
		return nil, err
	}
	v, err := operandValue(instr, instr.First, state)
	if err != nil {
		return nil, err
	}
	return state.Update(instr, dst, v), nil
}

func transformUndef(instr *Instruction, state *State) (*State, error) {
	dst, err := destination(instr)
	if err != nil {
		return nil, err
	}
	return state.Update(instr, dst, NewUndefined()), nil
}

// destination returns the location assigned by instr.
func destination(instr *Instruction) (*Register, error) {
	if instr.Third.Kind != OperandRegister {
		return nil, fmt.Errorf("reil.Transform: %s: %w: destination %s", instr, ErrUnsupportedOperands, instr.Third)
	}
	return NewRegister(instr.Third.Value), nil
}

// operandValue returns the symbolic value of a register or integer operand.
func operandValue(instr *Instruction, o Operand, state *State) (Value, error) {
	switch o.Kind {
	case OperandRegister:
		return resolve(state, o.Value), nil
	case OperandInteger:
		lit, err := literalOperand(o)
		if err != nil {
			return nil, err
		}
		return lit, nil
	default:
		return nil, fmt.Errorf("reil.Transform: %s: %w: %s", instr, ErrUnsupportedOperands, o)
	}
}

// address returns the resolved value of an address operand along with the
// atomic value of the operand itself.
func address(instr *Instruction, o Operand, state *State) (addr, atomic Value, err error) {
	switch o.Kind {
	case OperandRegister:
		return resolve(state, o.Value), NewRegister(o.Value), nil
	case OperandInteger:
		lit, err := literalOperand(o)
		if err != nil {
			return nil, nil, err
		}
		return lit, lit, nil
	default:
		return nil, nil, fmt.Errorf("reil.Transform: %s: %w: address %s", instr, ErrUnsupportedOperands, o)
	}
}

// resolve returns the value of a register. Registers with no information
// resolve to themselves.
func resolve(state *State, name string) Value {
	if v, ok := state.Register(name); ok {
		return v
	}
	return NewRegister(name)
}

// literalOperand returns the low 64 bits of an integer operand. Negative
// integers are encoded in two's complement at the operand's width.
func literalOperand(o Operand) (*Literal, error) {
	v, err := integerValue(o)
	if err != nil {
		return nil, err
	}
	return NewLiteral(v.Uint64()), nil
}
