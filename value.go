package reil

import (
	"fmt"
	"strings"
)

// Value represents a symbolic value held by a register or memory location.
type Value interface {
	value()
	String() string
}

func (*BinaryValue) value() {}
func (*Dereference) value() {}
func (*Literal) value()     {}
func (*MemoryCell) value()  {}
func (*NullCheck) value()   {}
func (*Range) value()       {}
func (*Register) value()    {}
func (*Symbol) value()      {}
func (*Undefined) value()   {}

// Aloc represents an abstract location: a register or a resolved memory cell.
// Alocs are the keys of an abstract state.
type Aloc interface {
	Value
	aloc()
}

func (*MemoryCell) aloc() {}
func (*Register) aloc()   {}

// Literal represents a known constant.
type Literal struct {
	Value uint64
}

// NewLiteral returns a new instance of Literal.
func NewLiteral(v uint64) *Literal {
	return &Literal{Value: v}
}

// String returns the string representation of the literal.
func (v *Literal) String() string {
	if v.Value < 10 {
		return fmt.Sprintf("%d", v.Value)
	}
	return fmt.Sprintf("0x%X", v.Value)
}

// Register represents the unknown incoming value of a register. It is also
// used as the location key of the register.
type Register struct {
	Name string
}

// NewRegister returns a new instance of Register.
func NewRegister(name string) *Register {
	return &Register{Name: name}
}

// String returns the register name.
func (v *Register) String() string { return v.Name }

// Symbol represents an unknown input value introduced at an instruction address.
type Symbol struct {
	Origin uint64
	Name   string
}

// NewSymbol returns a new instance of Symbol.
func NewSymbol(origin uint64, name string) *Symbol {
	return &Symbol{Origin: origin, Name: name}
}

// String returns the string representation of the symbol.
func (v *Symbol) String() string {
	return fmt.Sprintf("%s@%X", v.Name, v.Origin)
}

// Undefined represents a value about which nothing is known. It is the top
// element of the lattice and absorbs every operator.
type Undefined struct{}

// NewUndefined returns a new instance of Undefined.
func NewUndefined() *Undefined { return &Undefined{} }

// String returns "undefined".
func (v *Undefined) String() string { return "undefined" }

// BinaryOp represents a binary value operation.
type BinaryOp int

// BinaryValue operations.
const (
	OpAdd = BinaryOp(iota + 1)
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShift
)

var binaryOps = [...]string{
	OpAdd:   "+",
	OpSub:   "-",
	OpMul:   "*",
	OpDiv:   "/",
	OpMod:   "%",
	OpAnd:   "&",
	OpOr:    "|",
	OpXor:   "^",
	OpShift: "bsh",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op > 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsCommutative returns true if the operands of op can be swapped.
func (op BinaryOp) IsCommutative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor:
		return true
	default:
		return false
	}
}

// BinaryValue represents a deferred operation on two values.
type BinaryValue struct {
	Op  BinaryOp
	LHS Value
	RHS Value
}

// String returns the string representation of the value.
func (v *BinaryValue) String() string {
	return fmt.Sprintf("(%s %s %s)", v.LHS, v.Op, v.RHS)
}

// NewBinaryValue returns the simplified value of lhs op rhs.
func NewBinaryValue(op BinaryOp, lhs, rhs Value) Value {
	// Nothing is known about any operation on an undefined operand.
	if IsUndefined(lhs) || IsUndefined(rhs) {
		return NewUndefined()
	}

	// Compute constant if both sides are constant.
	if x, ok := lhs.(*Literal); ok {
		if y, ok := rhs.(*Literal); ok {
			if z, ok := foldLiterals(op, x.Value, y.Value); ok {
				return NewLiteral(z)
			}
			return &BinaryValue{Op: op, LHS: lhs, RHS: rhs}
		}
	}

	// Move constants to the right hand side of commutative operations.
	if op.IsCommutative() && IsLiteral(lhs) && !IsLiteral(rhs) {
		lhs, rhs = rhs, lhs
	}

	switch op {
	case OpAdd:
		return newAddValue(lhs, rhs)
	case OpSub:
		return newSubValue(lhs, rhs)
	case OpMul:
		return newMulValue(lhs, rhs)
	case OpAnd:
		return newAndValue(lhs, rhs)
	case OpOr:
		return newOrValue(lhs, rhs)
	case OpXor:
		return newXorValue(lhs, rhs)
	case OpDiv, OpMod, OpShift:
		return &BinaryValue{Op: op, LHS: lhs, RHS: rhs}
	default:
		panic(fmt.Sprintf("reil: invalid binary op: %s", op))
	}
}

// newAddValue returns the sum of lhs & rhs. Constants are already on the right.
func newAddValue(lhs, rhs Value) Value {
	if isLiteralValue(rhs, 0) {
		return lhs
	}

	// Merge constant RHS with constant in LHS addition: (X+a)+b == X+(a+b).
	if y, ok := rhs.(*Literal); ok {
		if x, ok := lhs.(*BinaryValue); ok && x.Op == OpAdd {
			if a, ok := x.RHS.(*Literal); ok {
				return NewBinaryValue(OpAdd, x.LHS, NewLiteral(a.Value+y.Value))
			}
		}
	}
	return &BinaryValue{Op: OpAdd, LHS: lhs, RHS: rhs}
}

// newSubValue returns the difference of lhs & rhs.
func newSubValue(lhs, rhs Value) Value {
	if EqualValue(lhs, rhs) {
		return NewLiteral(0)
	} else if isLiteralValue(rhs, 0) {
		return lhs
	}
	return &BinaryValue{Op: OpSub, LHS: lhs, RHS: rhs}
}

// newMulValue returns the product of lhs & rhs. Constants are already on the right.
func newMulValue(lhs, rhs Value) Value {
	if isLiteralValue(rhs, 0) {
		return rhs
	} else if isLiteralValue(rhs, 1) {
		return lhs
	}
	return &BinaryValue{Op: OpMul, LHS: lhs, RHS: rhs}
}

// newAndValue returns the bitwise AND of lhs & rhs. Constants are already on the right.
func newAndValue(lhs, rhs Value) Value {
	if isLiteralValue(rhs, 0) {
		return NewLiteral(0) // x AND 0 = 0
	} else if EqualValue(lhs, rhs) {
		return lhs // x AND x = x
	}
	return &BinaryValue{Op: OpAnd, LHS: lhs, RHS: rhs}
}

// newOrValue returns the bitwise OR of lhs & rhs. Constants are already on the right.
func newOrValue(lhs, rhs Value) Value {
	if isLiteralValue(rhs, 0) {
		return lhs
	} else if EqualValue(lhs, rhs) {
		return lhs // x OR x = x
	}
	return &BinaryValue{Op: OpOr, LHS: lhs, RHS: rhs}
}

// newXorValue returns the bitwise XOR of lhs & rhs. Constants are already on the right.
func newXorValue(lhs, rhs Value) Value {
	if EqualValue(lhs, rhs) {
		return NewLiteral(0) // x XOR x = 0
	} else if isLiteralValue(rhs, 0) {
		return lhs
	}
	return &BinaryValue{Op: OpXor, LHS: lhs, RHS: rhs}
}

// foldLiterals computes x op y. Returns false if the result is not defined.
// Shift amounts are signed: positive shifts left, negative shifts right.
func foldLiterals(op BinaryOp, x, y uint64) (uint64, bool) {
	switch op {
	case OpAdd:
		return x + y, true
	case OpSub:
		return x - y, true
	case OpMul:
		return x * y, true
	case OpDiv:
		if y == 0 {
			return 0, false
		}
		return x / y, true
	case OpMod:
		if y == 0 {
			return 0, false
		}
		return x % y, true
	case OpAnd:
		return x & y, true
	case OpOr:
		return x | y, true
	case OpXor:
		return x ^ y, true
	case OpShift:
		if n := int64(y); n >= 0 {
			if n >= 64 {
				return 0, true
			}
			return x << uint(n), true
		} else if n <= -64 {
			return 0, true
		} else {
			return x >> uint(-n), true
		}
	default:
		return 0, false
	}
}

// NullCheck represents the deferred result of a zero test: 1 if the value is
// zero, otherwise 0.
type NullCheck struct {
	Value Value
}

// NewNullCheck returns the simplified zero test of v.
func NewNullCheck(v Value) Value {
	switch v := v.(type) {
	case *Undefined:
		return NewUndefined()
	case *Literal:
		if v.Value == 0 {
			return NewLiteral(1)
		}
		return NewLiteral(0)
	case *Range:
		if !v.Contains(0) {
			return NewLiteral(0)
		}
	}
	return &NullCheck{Value: v}
}

// String returns the string representation of the value.
func (v *NullCheck) String() string {
	return fmt.Sprintf("bisz(%s)", v.Value)
}

// Range represents a closed interval of literals.
type Range struct {
	Low  uint64
	High uint64
}

// NewRange returns the interval spanning a & b. Returns a Literal if a == b.
func NewRange(a, b uint64) Value {
	if a == b {
		return NewLiteral(a)
	} else if a > b {
		a, b = b, a
	}
	return &Range{Low: a, High: b}
}

// String returns the string representation of the interval.
func (v *Range) String() string {
	return fmt.Sprintf("range(%s, %s)", NewLiteral(v.Low), NewLiteral(v.High))
}

// Contains returns true if x is within the interval.
func (v *Range) Contains(x uint64) bool {
	return x >= v.Low && x <= v.High
}

// MemoryCell represents the memory slot at a resolved address. It is used as
// the location key of memory.
type MemoryCell struct {
	Address Value
}

// NewMemoryCell returns a new instance of MemoryCell.
func NewMemoryCell(addr Value) *MemoryCell {
	return &MemoryCell{Address: addr}
}

// String returns the string representation of the cell.
func (v *MemoryCell) String() string {
	return fmt.Sprintf("mem(%s)", v.Address)
}

// Dereference represents the unknown value at a symbolic address.
type Dereference struct {
	Address Value
}

// NewDereference returns a new instance of Dereference.
func NewDereference(addr Value) *Dereference {
	return &Dereference{Address: addr}
}

// String returns the string representation of the value.
func (v *Dereference) String() string {
	return fmt.Sprintf("[%s]", v.Address)
}

// Simplify returns an equivalent, possibly rewritten, value. Never fails:
// values which cannot be simplified are returned unchanged.
func Simplify(v Value) Value {
	switch v := v.(type) {
	case *BinaryValue:
		return NewBinaryValue(v.Op, Simplify(v.LHS), Simplify(v.RHS))
	case *NullCheck:
		return NewNullCheck(Simplify(v.Value))
	case *Range:
		return NewRange(v.Low, v.High)
	case *MemoryCell:
		return NewMemoryCell(Simplify(v.Address))
	case *Dereference:
		return NewDereference(Simplify(v.Address))
	case *Literal, *Register, *Symbol, *Undefined:
		return v
	default:
		panic("unreachable")
	}
}

// Evaluate returns the integer value of closed-form values. Returns false for
// values which depend on unknown inputs.
func Evaluate(v Value) (uint64, bool) {
	switch v := v.(type) {
	case *Literal:
		return v.Value, true
	case *BinaryValue:
		x, ok := Evaluate(v.LHS)
		if !ok {
			return 0, false
		}
		y, ok := Evaluate(v.RHS)
		if !ok {
			return 0, false
		}
		return foldLiterals(v.Op, x, y)
	case *NullCheck:
		x, ok := Evaluate(v.Value)
		if !ok {
			return 0, false
		} else if x == 0 {
			return 1, true
		}
		return 0, true
	case *Range:
		if v.Low == v.High {
			return v.Low, true
		}
		return 0, false
	case *Register, *Symbol, *Undefined, *MemoryCell, *Dereference:
		return 0, false
	default:
		panic("unreachable")
	}
}

// IsLiteral returns true if v is an instance of Literal.
func IsLiteral(v Value) bool {
	_, ok := v.(*Literal)
	return ok
}

// IsUndefined returns true if v is an instance of Undefined.
func IsUndefined(v Value) bool {
	_, ok := v.(*Undefined)
	return ok
}

// isLiteralValue returns true if v is a literal equal to x.
func isLiteralValue(v Value, x uint64) bool {
	lit, ok := v.(*Literal)
	return ok && lit.Value == x
}

// EqualValue returns true if a and b are structurally equal.
func EqualValue(a, b Value) bool {
	return CompareValue(a, b) == 0
}

// CompareValue returns an integer comparing two values.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareValue(a, b Value) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := valueKind(a), valueKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *Literal:
		return compareUint64(a.Value, b.(*Literal).Value)
	case *Register:
		return strings.Compare(a.Name, b.(*Register).Name)
	case *Symbol:
		return compareSymbol(a, b.(*Symbol))
	case *Undefined:
		return 0
	case *BinaryValue:
		return compareBinaryValue(a, b.(*BinaryValue))
	case *NullCheck:
		return CompareValue(a.Value, b.(*NullCheck).Value)
	case *Range:
		return compareRange(a, b.(*Range))
	case *MemoryCell:
		return CompareValue(a.Address, b.(*MemoryCell).Address)
	case *Dereference:
		return CompareValue(a.Address, b.(*Dereference).Address)
	default:
		panic("unreachable")
	}
}

func compareUint64(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareSymbol(a, b *Symbol) int {
	if cmp := compareUint64(a.Origin, b.Origin); cmp != 0 {
		return cmp
	}
	return strings.Compare(a.Name, b.Name)
}

func compareBinaryValue(a, b *BinaryValue) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}
	if cmp := CompareValue(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return CompareValue(a.RHS, b.RHS)
}

func compareRange(a, b *Range) int {
	if cmp := compareUint64(a.Low, b.Low); cmp != 0 {
		return cmp
	}
	return compareUint64(a.High, b.High)
}

// valueKind returns a numeric value for the type of value.
// Only used internally for equality checks and sorting.
func valueKind(v Value) int {
	switch v.(type) {
	case *Literal:
		return 1
	case *Register:
		return 2
	case *Symbol:
		return 3
	case *Undefined:
		return 4
	case *BinaryValue:
		return 5
	case *NullCheck:
		return 6
	case *Range:
		return 7
	case *MemoryCell:
		return 8
	case *Dereference:
		return 9
	default:
		panic("unreachable")
	}
}

// valueComparer orders values structurally. Implements immutable.Comparer.
type valueComparer struct{}

// Compare returns the structural ordering of a and b. Panic if either is not a Value.
func (c *valueComparer) Compare(a, b interface{}) int {
	return CompareValue(a.(Value), b.(Value))
}
