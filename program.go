package reil

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// Program represents a REIL program document along with the initial machine
// state it runs from.
//
//	arch: x86
//	entry: 0x1000
//	registers:
//	  esp: 0x8000
//	memory:
//	  0x2000: "de ad be ef"
//	instructions:
//	  - "00100000: add [DWORD esp, DWORD 4, DWORD esp]"
type Program struct {
	Arch         string            `yaml:"arch"`
	Endian       string            `yaml:"endian,omitempty"`
	Entry        uint64            `yaml:"entry"`
	Registers    map[string]string `yaml:"registers,omitempty"`
	Memory       map[uint64]string `yaml:"memory,omitempty"`
	Instructions []string          `yaml:"instructions"`
}

// LoadProgram decodes a YAML program document from r.
func LoadProgram(r io.Reader) (*Program, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Program
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("reil: decode program: %w", err)
	}
	return &p, nil
}

// ReadProgramFile decodes a YAML program document from a file.
func ReadProgramFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadProgram(f)
}

// Policy returns the CPU policy named by the program's architecture.
func (p *Program) Policy() (*CPUPolicy, error) {
	return LookupPolicy(p.Arch)
}

// IsLittleEndian returns true unless the program declares big-endian memory.
func (p *Program) IsLittleEndian() (bool, error) {
	switch strings.ToLower(p.Endian) {
	case "", "little", "le":
		return true, nil
	case "big", "be":
		return false, nil
	default:
		return false, fmt.Errorf("reil: invalid endianness: %q", p.Endian)
	}
}

// ParseInstructions parses the instructions of the program in document order.
func (p *Program) ParseInstructions() ([]*Instruction, error) {
	a := make([]*Instruction, 0, len(p.Instructions))
	for i, s := range p.Instructions {
		instr, err := ParseInstruction(s)
		if err != nil {
			return nil, fmt.Errorf("reil: instruction %d: %w", i, err)
		}
		a = append(a, instr)
	}
	return a, nil
}

// NewInterpreter returns an interpreter initialized with the program's
// registers & memory.
func (p *Program) NewInterpreter() (*Interpreter, error) {
	policy, err := p.Policy()
	if err != nil {
		return nil, err
	}
	littleEndian, err := p.IsLittleEndian()
	if err != nil {
		return nil, err
	}
	i := NewInterpreter(policy, littleEndian)

	// Assign in sorted order so errors are deterministic.
	names := maps.Keys(p.Registers)
	slices.Sort(names)
	for _, name := range names {
		b, err := parseInteger(p.Registers[name])
		if err != nil {
			return nil, fmt.Errorf("reil: register %s: %w", name, err)
		} else if b.Sign() < 0 {
			return nil, fmt.Errorf("reil: register %s: %w: negative value", name, ErrInvalidOperand)
		}
		v, overflow := uint256.FromBig(b)
		if overflow {
			return nil, fmt.Errorf("reil: register %s: %w: value too large", name, ErrInvalidOperand)
		}
		i.SetRegister(name, v)
	}

	addrs := maps.Keys(p.Memory)
	slices.Sort(addrs)
	for _, addr := range addrs {
		buf, err := decodeHexBytes(p.Memory[addr])
		if err != nil {
			return nil, fmt.Errorf("reil: memory %08X: %w", addr, err)
		}
		i.Memory().StoreBytes(addr, buf)
	}

	return i, nil
}

// decodeHexBytes decodes hex bytes, ignoring whitespace between them.
func decodeHexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}
