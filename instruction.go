package reil

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Opcode represents a REIL instruction mnemonic.
type Opcode int

// REIL opcodes.
const (
	ILLEGAL = Opcode(iota)
	ADD
	AND
	BISZ
	BSH
	DIV
	JCC
	LDM
	MOD
	MUL
	NOP
	OR
	STM
	STR
	SUB
	UNDEF
	UNKNOWN
	XOR
)

var opcodes = [...]string{
	ADD:     "add",
	AND:     "and",
	BISZ:    "bisz",
	BSH:     "bsh",
	DIV:     "div",
	JCC:     "jcc",
	LDM:     "ldm",
	MOD:     "mod",
	MUL:     "mul",
	NOP:     "nop",
	OR:      "or",
	STM:     "stm",
	STR:     "str",
	SUB:     "sub",
	UNDEF:   "undef",
	UNKNOWN: "unknown",
	XOR:     "xor",
}

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	if op > 0 && op < Opcode(len(opcodes)) && opcodes[op] != "" {
		return opcodes[op]
	}
	return fmt.Sprintf("Opcode<%d>", op)
}

// LookupOpcode returns the opcode for a mnemonic. Case insensitive.
func LookupOpcode(s string) (Opcode, bool) {
	s = strings.ToLower(s)
	for i, name := range opcodes {
		if name != "" && name == s {
			return Opcode(i), true
		}
	}
	return ILLEGAL, false
}

// OperandKind represents the type of an operand.
type OperandKind int

// Operand kinds.
const (
	OperandEmpty = OperandKind(iota)
	OperandRegister
	OperandInteger
	OperandSubAddress
)

// String returns the string representation of the kind.
func (k OperandKind) String() string {
	switch k {
	case OperandEmpty:
		return "empty"
	case OperandRegister:
		return "register"
	case OperandInteger:
		return "integer"
	case OperandSubAddress:
		return "subaddress"
	default:
		return fmt.Sprintf("OperandKind<%d>", k)
	}
}

// OperandSize is the declared width of an operand, in bits.
type OperandSize int

// Operand sizes.
const (
	SizeEmpty = OperandSize(0)
	SizeByte  = OperandSize(Width8)
	SizeWord  = OperandSize(Width16)
	SizeDword = OperandSize(Width32)
	SizeQword = OperandSize(Width64)
	SizeOword = OperandSize(Width128)
)

// String returns the REIL name of the size.
func (s OperandSize) String() string {
	switch s {
	case SizeEmpty:
		return "EMPTY"
	case SizeByte:
		return "BYTE"
	case SizeWord:
		return "WORD"
	case SizeDword:
		return "DWORD"
	case SizeQword:
		return "QWORD"
	case SizeOword:
		return "OWORD"
	default:
		return fmt.Sprintf("OperandSize<%d>", int(s))
	}
}

// Bytes returns the number of bytes covered by the size.
func (s OperandSize) Bytes() int { return int(s) / 8 }

// Mask returns the all-ones pattern for the size. Zero for sizes wider than 64 bits.
func (s OperandSize) Mask() uint64 { return mask(int(s)) }

func lookupOperandSize(s string) (OperandSize, bool) {
	switch strings.ToUpper(s) {
	case "EMPTY":
		return SizeEmpty, true
	case "BYTE":
		return SizeByte, true
	case "WORD":
		return SizeWord, true
	case "DWORD":
		return SizeDword, true
	case "QWORD":
		return SizeQword, true
	case "OWORD":
		return SizeOword, true
	}
	return SizeEmpty, false
}

// Operand represents one of the three operands of an instruction.
type Operand struct {
	Kind  OperandKind
	Value string
	Size  OperandSize
}

// Reg returns a register operand.
func Reg(size OperandSize, name string) Operand {
	return Operand{Kind: OperandRegister, Value: name, Size: size}
}

// Int returns an integer literal operand.
func Int(size OperandSize, v uint64) Operand {
	return Operand{Kind: OperandInteger, Value: strconv.FormatUint(v, 10), Size: size}
}

// SubAddr returns an operand addressing the sub-th instruction of the
// macro-instruction at native.
func SubAddr(size OperandSize, native, sub uint64) Operand {
	return Operand{Kind: OperandSubAddress, Value: fmt.Sprintf("%d.%d", native, sub), Size: size}
}

// Empty is the operand used for unused operand slots.
var Empty = Operand{}

// IsEmpty returns true if the operand slot is unused.
func (o Operand) IsEmpty() bool { return o.Kind == OperandEmpty }

// Integer returns the literal value of an integer operand.
func (o Operand) Integer() (*big.Int, error) {
	if o.Kind != OperandInteger {
		return nil, fmt.Errorf("%w: %s is not an integer", ErrInvalidOperand, o)
	}
	return parseInteger(o.Value)
}

// Uint64 returns the literal value of an integer operand truncated to 64 bits.
func (o Operand) Uint64() (uint64, error) {
	v, err := o.Integer()
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 {
		v = new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	}
	return v.Uint64(), nil
}

// SubAddress returns the native address & sub-index of a sub-address operand.
func (o Operand) SubAddress() (native, sub uint64, err error) {
	if o.Kind != OperandSubAddress {
		return 0, 0, fmt.Errorf("%w: %s is not a sub-address", ErrInvalidOperand, o)
	}
	i := strings.IndexByte(o.Value, '.')
	if i == -1 {
		return 0, 0, fmt.Errorf("%w: malformed sub-address %q", ErrInvalidOperand, o.Value)
	}
	n, err := parseInteger(o.Value[:i])
	if err != nil {
		return 0, 0, err
	}
	s, err := strconv.ParseUint(o.Value[i+1:], 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed sub-address %q", ErrInvalidOperand, o.Value)
	}
	return n.Uint64(), s, nil
}

// String returns the REIL text form of the operand, e.g. "DWORD eax".
func (o Operand) String() string {
	if o.Kind == OperandEmpty {
		return "EMPTY"
	}
	return o.Size.String() + " " + o.Value
}

// ParseOperand parses the text form of an operand.
func ParseOperand(s string) (Operand, error) {
	s = strings.TrimSpace(s)
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		if strings.EqualFold(fields[0], "EMPTY") {
			return Empty, nil
		}
	case 2:
		size, ok := lookupOperandSize(fields[0])
		if !ok || size == SizeEmpty {
			break
		}
		value := fields[1]
		if strings.Contains(value, ".") {
			return Operand{Kind: OperandSubAddress, Value: value, Size: size}, nil
		} else if _, err := parseInteger(value); err == nil {
			return Operand{Kind: OperandInteger, Value: value, Size: size}, nil
		}
		return Operand{Kind: OperandRegister, Value: value, Size: size}, nil
	}
	return Empty, fmt.Errorf("%w: %q", ErrInvalidOperand, s)
}

// parseInteger parses a decimal or 0x-prefixed hexadecimal integer.
func parseInteger(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("%w: invalid integer %q", ErrInvalidOperand, s)
	}
	return v, nil
}

// Instruction represents a single REIL instruction.
type Instruction struct {
	Address uint64
	Opcode  Opcode
	First   Operand
	Second  Operand
	Third   Operand
}

// NewInstruction returns a new instance of Instruction.
func NewInstruction(addr uint64, op Opcode, first, second, third Operand) *Instruction {
	return &Instruction{
		Address: addr,
		Opcode:  op,
		First:   first,
		Second:  second,
		Third:   third,
	}
}

// String returns the REIL text form of the instruction.
func (instr *Instruction) String() string {
	return fmt.Sprintf("%08X: %s [%s, %s, %s]", instr.Address, instr.Opcode, instr.First, instr.Second, instr.Third)
}

// ParseInstruction parses the text form of an instruction, e.g.
// "00000100: add [DWORD t0, DWORD 1, QWORD t1]".
func ParseInstruction(s string) (*Instruction, error) {
	s = strings.TrimSpace(s)

	colon := strings.IndexByte(s, ':')
	if colon == -1 {
		return nil, fmt.Errorf("reil: missing address: %q", s)
	}
	addr, err := strconv.ParseUint(strings.TrimSpace(s[:colon]), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("reil: invalid address: %q", s[:colon])
	}

	rest := strings.TrimSpace(s[colon+1:])
	lbrack, rbrack := strings.IndexByte(rest, '['), strings.LastIndexByte(rest, ']')
	if lbrack == -1 || rbrack < lbrack {
		return nil, fmt.Errorf("reil: missing operand list: %q", s)
	}

	op, ok := LookupOpcode(strings.TrimSpace(rest[:lbrack]))
	if !ok {
		return nil, fmt.Errorf("reil: %w: %q", ErrUnknownOpcode, strings.TrimSpace(rest[:lbrack]))
	}

	parts := strings.Split(rest[lbrack+1:rbrack], ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("reil: expected 3 operands, got %d: %q", len(parts), s)
	}
	var operands [3]Operand
	for i, part := range parts {
		if operands[i], err = ParseOperand(part); err != nil {
			return nil, fmt.Errorf("reil: %08X: %w", addr, err)
		}
	}
	return NewInstruction(addr, op, operands[0], operands[1], operands[2]), nil
}

// GroupInstructions groups IR instructions by the native address of their
// macro-instruction, preserving order within each group.
func GroupInstructions(instrs []*Instruction) map[uint64][]*Instruction {
	m := make(map[uint64][]*Instruction)
	for _, instr := range instrs {
		native := NativeAddress(instr.Address)
		m[native] = append(m[native], instr)
	}
	return m
}
