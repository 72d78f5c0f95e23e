package reil_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/reil"
	"github.com/google/go-cmp/cmp"
)

func TestParseInstruction(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		instr := MustParseInstruction(t, "00000100: add [DWORD t0, DWORD 1, QWORD t1]")
		expected := reil.NewInstruction(0x100, reil.ADD,
			reil.Reg(reil.SizeDword, "t0"),
			reil.Int(reil.SizeDword, 1),
			reil.Reg(reil.SizeQword, "t1"),
		)
		if diff := cmp.Diff(expected, instr); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		for _, s := range []string{
			"00000100: add [DWORD t0, DWORD 1, QWORD t1]",
			"00000101: jcc [BYTE zf, EMPTY, DWORD 1.3]",
			"00001000: stm [WORD ax, EMPTY, DWORD esp]",
			"00001001: undef [EMPTY, EMPTY, DWORD eax]",
			"00001002: bsh [OWORD t3, BYTE -8, OWORD t4]",
			"FFFFFF00: nop [EMPTY, EMPTY, EMPTY]",
		} {
			if other := MustParseInstruction(t, s).String(); other != s {
				t.Fatalf("got=%q, expected %q", other, s)
			}
		}
	})

	t.Run("ErrUnknownOpcode", func(t *testing.T) {
		if _, err := reil.ParseInstruction("00000100: frob [EMPTY, EMPTY, EMPTY]"); !errors.Is(err, reil.ErrUnknownOpcode) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrInvalidOperand", func(t *testing.T) {
		if _, err := reil.ParseInstruction("00000100: add [DWORD, EMPTY, EMPTY]"); !errors.Is(err, reil.ErrInvalidOperand) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		for _, s := range []string{
			"add [EMPTY, EMPTY, EMPTY]",
			"00000100 add",
			"00000100: add [EMPTY, EMPTY]",
			"XYZ: add [EMPTY, EMPTY, EMPTY]",
		} {
			if _, err := reil.ParseInstruction(s); err == nil {
				t.Fatalf("%q: expected error", s)
			}
		}
	})
}

func TestParseOperand(t *testing.T) {
	for _, tt := range []struct {
		s        string
		expected reil.Operand
	}{
		{"EMPTY", reil.Empty},
		{"DWORD eax", reil.Reg(reil.SizeDword, "eax")},
		{"byte 0x10", reil.Operand{Kind: reil.OperandInteger, Value: "0x10", Size: reil.SizeByte}},
		{"QWORD -1", reil.Operand{Kind: reil.OperandInteger, Value: "-1", Size: reil.SizeQword}},
		{"DWORD 16.2", reil.SubAddr(reil.SizeDword, 16, 2)},
	} {
		o, err := reil.ParseOperand(tt.s)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(tt.expected, o); diff != "" {
			t.Fatalf("%s: %s", tt.s, diff)
		}
	}

	for _, s := range []string{"", "DWORD", "EMPTY eax", "NIBBLE eax", "DWORD a b"} {
		if _, err := reil.ParseOperand(s); !errors.Is(err, reil.ErrInvalidOperand) {
			t.Fatalf("%q: unexpected error: %v", s, err)
		}
	}
}

func TestOperand(t *testing.T) {
	t.Run("Uint64", func(t *testing.T) {
		if v, err := reil.Int(reil.SizeDword, 42).Uint64(); err != nil {
			t.Fatal(err)
		} else if v != 42 {
			t.Fatalf("got=%d, expected 42", v)
		}
		if _, err := reil.Reg(reil.SizeDword, "eax").Uint64(); !errors.Is(err, reil.ErrInvalidOperand) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("SubAddress", func(t *testing.T) {
		native, sub, err := reil.SubAddr(reil.SizeDword, 0x401000, 3).SubAddress()
		if err != nil {
			t.Fatal(err)
		} else if native != 0x401000 || sub != 3 {
			t.Fatalf("got=%x.%d, expected 401000.3", native, sub)
		}
		if _, _, err := reil.Int(reil.SizeDword, 1).SubAddress(); !errors.Is(err, reil.ErrInvalidOperand) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Size", func(t *testing.T) {
		if n := reil.SizeDword.Bytes(); n != 4 {
			t.Fatalf("got=%d, expected 4", n)
		} else if m := reil.SizeWord.Mask(); m != 0xFFFF {
			t.Fatalf("got=%x, expected ffff", m)
		} else if m := reil.SizeQword.Mask(); m != 0xFFFFFFFFFFFFFFFF {
			t.Fatalf("got=%x", m)
		} else if m := reil.SizeOword.Mask(); m != 0 {
			t.Fatalf("got=%x, expected 0", m)
		}
	})

	t.Run("String", func(t *testing.T) {
		if s := reil.Empty.String(); s != "EMPTY" {
			t.Fatalf("unexpected string: %s", s)
		} else if s := reil.Reg(reil.SizeByte, "al").String(); s != "BYTE al" {
			t.Fatalf("unexpected string: %s", s)
		} else if s := reil.OperandKind(9).String(); s != "OperandKind<9>" {
			t.Fatalf("unexpected string: %s", s)
		} else if s := reil.Opcode(99).String(); s != "Opcode<99>" {
			t.Fatalf("unexpected string: %s", s)
		}
	})
}

func TestLookupOpcode(t *testing.T) {
	for op := reil.ADD; op <= reil.XOR; op++ {
		if other, ok := reil.LookupOpcode(op.String()); !ok || other != op {
			t.Fatalf("%s: got=%s", op, other)
		}
	}
	if op, ok := reil.LookupOpcode("BISZ"); !ok || op != reil.BISZ {
		t.Fatalf("unexpected opcode: %s", op)
	}
	if _, ok := reil.LookupOpcode("frob"); ok {
		t.Fatal("expected unknown opcode")
	}
}

func TestAddress(t *testing.T) {
	if v := reil.NativeAddress(0x401003); v != 0x4010 {
		t.Fatalf("got=%x, expected 4010", v)
	} else if v := reil.SubIndex(0x401003); v != 3 {
		t.Fatalf("got=%x, expected 3", v)
	} else if v := reil.IRAddress(0x4010, 3); v != 0x401003 {
		t.Fatalf("got=%x, expected 401003", v)
	}
}

func TestGroupInstructions(t *testing.T) {
	a := MustParseInstruction(t, "00000100: nop [EMPTY, EMPTY, EMPTY]")
	b := MustParseInstruction(t, "00000101: nop [EMPTY, EMPTY, EMPTY]")
	c := MustParseInstruction(t, "00000300: nop [EMPTY, EMPTY, EMPTY]")

	m := reil.GroupInstructions([]*reil.Instruction{a, b, c})
	if diff := cmp.Diff(map[uint64][]*reil.Instruction{
		1: {a, b},
		3: {c},
	}, m); diff != "" {
		t.Fatal(diff)
	}
}
