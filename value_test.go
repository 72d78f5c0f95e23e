package reil_test

import (
	"testing"

	"github.com/benbjohnson/reil"
	"github.com/google/go-cmp/cmp"
)

// operands used by algebraic law tests. Undefined is excluded because it
// absorbs every operator.
var lawOperands = []reil.Value{
	reil.NewLiteral(0),
	reil.NewLiteral(42),
	reil.NewRegister("eax"),
	reil.NewSymbol(0x1000, "ebx"),
	&reil.BinaryValue{Op: reil.OpAdd, LHS: reil.NewRegister("ecx"), RHS: reil.NewLiteral(4)},
	reil.NewNullCheck(reil.NewRegister("edx")),
	reil.NewRange(1, 9),
	reil.NewDereference(reil.NewRegister("esp")),
}

func TestNewBinaryValue(t *testing.T) {
	t.Run("AndSelf", func(t *testing.T) {
		for _, x := range lawOperands {
			if v := reil.Simplify(&reil.BinaryValue{Op: reil.OpAnd, LHS: x, RHS: x}); !reil.EqualValue(v, x) {
				t.Fatalf("%s: got=%s, expected %s", x, v, x)
			}
		}
	})
	t.Run("AndZero", func(t *testing.T) {
		for _, x := range lawOperands {
			if v := reil.Simplify(&reil.BinaryValue{Op: reil.OpAnd, LHS: x, RHS: reil.NewLiteral(0)}); !reil.EqualValue(v, reil.NewLiteral(0)) {
				t.Fatalf("%s: got=%s, expected 0", x, v)
			}
			if v := reil.Simplify(&reil.BinaryValue{Op: reil.OpAnd, LHS: reil.NewLiteral(0), RHS: x}); !reil.EqualValue(v, reil.NewLiteral(0)) {
				t.Fatalf("%s: got=%s, expected 0", x, v)
			}
		}
	})
	t.Run("OrSelf", func(t *testing.T) {
		for _, x := range lawOperands {
			if v := reil.Simplify(&reil.BinaryValue{Op: reil.OpOr, LHS: x, RHS: x}); !reil.EqualValue(v, x) {
				t.Fatalf("%s: got=%s, expected %s", x, v, x)
			}
		}
	})
	t.Run("XorSelf", func(t *testing.T) {
		for _, x := range lawOperands {
			if v := reil.Simplify(&reil.BinaryValue{Op: reil.OpXor, LHS: x, RHS: x}); !reil.EqualValue(v, reil.NewLiteral(0)) {
				t.Fatalf("%s: got=%s, expected 0", x, v)
			}
		}
	})

	t.Run("Undefined", func(t *testing.T) {
		for _, op := range []reil.BinaryOp{reil.OpAdd, reil.OpAnd, reil.OpXor, reil.OpShift} {
			if v := reil.NewBinaryValue(op, reil.NewRegister("eax"), reil.NewUndefined()); !reil.IsUndefined(v) {
				t.Fatalf("%s: got=%s, expected undefined", op, v)
			}
			if v := reil.NewBinaryValue(op, reil.NewUndefined(), reil.NewLiteral(0)); !reil.IsUndefined(v) {
				t.Fatalf("%s: got=%s, expected undefined", op, v)
			}
		}
	})

	// Absorption takes precedence over x AND 0 = 0.
	t.Run("UndefinedAndZero", func(t *testing.T) {
		if v := reil.Simplify(&reil.BinaryValue{Op: reil.OpAnd, LHS: reil.NewUndefined(), RHS: reil.NewLiteral(0)}); !reil.IsUndefined(v) {
			t.Fatalf("got=%s, expected undefined", v)
		} else if v := reil.Simplify(&reil.BinaryValue{Op: reil.OpAnd, LHS: reil.NewLiteral(0), RHS: reil.NewUndefined()}); !reil.IsUndefined(v) {
			t.Fatalf("got=%s, expected undefined", v)
		}
	})

	t.Run("Fold", func(t *testing.T) {
		for _, tt := range []struct {
			op       reil.BinaryOp
			x, y     uint64
			expected uint64
		}{
			{reil.OpAdd, 2, 3, 5},
			{reil.OpSub, 2, 3, 0xFFFFFFFFFFFFFFFF},
			{reil.OpMul, 6, 7, 42},
			{reil.OpDiv, 42, 5, 8},
			{reil.OpMod, 42, 5, 2},
			{reil.OpAnd, 0xF0, 0x3C, 0x30},
			{reil.OpOr, 0xF0, 0x0F, 0xFF},
			{reil.OpXor, 0xFF, 0x0F, 0xF0},
			{reil.OpShift, 1, 4, 16},
			{reil.OpShift, 16, uint64(0xFFFFFFFFFFFFFFFE), 4},
			{reil.OpShift, 1, 64, 0},
		} {
			v := reil.NewBinaryValue(tt.op, reil.NewLiteral(tt.x), reil.NewLiteral(tt.y))
			if diff := cmp.Diff(reil.Value(reil.NewLiteral(tt.expected)), v); diff != "" {
				t.Fatalf("%d %s %d: %s", tt.x, tt.op, tt.y, diff)
			}
		}
	})

	t.Run("DivisionByZero", func(t *testing.T) {
		v := reil.NewBinaryValue(reil.OpDiv, reil.NewLiteral(1), reil.NewLiteral(0))
		if diff := cmp.Diff(reil.Value(&reil.BinaryValue{Op: reil.OpDiv, LHS: reil.NewLiteral(1), RHS: reil.NewLiteral(0)}), v); diff != "" {
			t.Fatal(diff)
		}
		if _, ok := reil.Evaluate(v); ok {
			t.Fatal("expected no value")
		}
	})

	t.Run("Commute", func(t *testing.T) {
		v := reil.NewBinaryValue(reil.OpAnd, reil.NewLiteral(0xFF), reil.NewSymbol(0, "y"))
		if diff := cmp.Diff(reil.Value(&reil.BinaryValue{Op: reil.OpAnd, LHS: reil.NewSymbol(0, "y"), RHS: reil.NewLiteral(0xFF)}), v); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("NoCommute", func(t *testing.T) {
		v := reil.NewBinaryValue(reil.OpSub, reil.NewLiteral(10), reil.NewRegister("eax"))
		if diff := cmp.Diff(reil.Value(&reil.BinaryValue{Op: reil.OpSub, LHS: reil.NewLiteral(10), RHS: reil.NewRegister("eax")}), v); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("MergeAddConstants", func(t *testing.T) {
		x := reil.NewBinaryValue(reil.OpAdd, reil.NewRegister("esp"), reil.NewLiteral(4))
		v := reil.NewBinaryValue(reil.OpAdd, x, reil.NewLiteral(8))
		if diff := cmp.Diff(reil.Value(&reil.BinaryValue{Op: reil.OpAdd, LHS: reil.NewRegister("esp"), RHS: reil.NewLiteral(12)}), v); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Identity", func(t *testing.T) {
		x := reil.NewRegister("eax")
		for _, tt := range []struct {
			op  reil.BinaryOp
			lit uint64
		}{
			{reil.OpAdd, 0},
			{reil.OpSub, 0},
			{reil.OpMul, 1},
			{reil.OpOr, 0},
			{reil.OpXor, 0},
		} {
			if v := reil.NewBinaryValue(tt.op, x, reil.NewLiteral(tt.lit)); v != reil.Value(x) {
				t.Fatalf("%s %d: got=%s, expected eax", tt.op, tt.lit, v)
			}
		}
		if v := reil.NewBinaryValue(reil.OpMul, x, reil.NewLiteral(0)); !reil.EqualValue(v, reil.NewLiteral(0)) {
			t.Fatalf("got=%s, expected 0", v)
		}
		if v := reil.NewBinaryValue(reil.OpSub, x, x); !reil.EqualValue(v, reil.NewLiteral(0)) {
			t.Fatalf("got=%s, expected 0", v)
		}
	})
}

func TestNewNullCheck(t *testing.T) {
	t.Run("Zero", func(t *testing.T) {
		if v, ok := reil.Evaluate(reil.NewNullCheck(reil.NewLiteral(0))); !ok || v != 1 {
			t.Fatalf("got=%d, expected 1", v)
		}
	})
	t.Run("NonZero", func(t *testing.T) {
		for _, n := range []uint64{1, 2, 0xFF, 0xFFFFFFFFFFFFFFFF} {
			if v, ok := reil.Evaluate(reil.NewNullCheck(reil.NewLiteral(n))); !ok || v != 0 {
				t.Fatalf("%d: got=%d, expected 0", n, v)
			}
		}
	})
	t.Run("Deferred", func(t *testing.T) {
		v := reil.NewNullCheck(reil.NewRegister("eax"))
		if diff := cmp.Diff(reil.Value(&reil.NullCheck{Value: reil.NewRegister("eax")}), v); diff != "" {
			t.Fatal(diff)
		} else if _, ok := reil.Evaluate(v); ok {
			t.Fatal("expected no value")
		}
	})
	t.Run("Unraw", func(t *testing.T) {
		v := reil.Simplify(&reil.NullCheck{Value: reil.NewLiteral(0)})
		if diff := cmp.Diff(reil.Value(reil.NewLiteral(1)), v); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("RangeExcludesZero", func(t *testing.T) {
		if v := reil.NewNullCheck(reil.NewRange(3, 7)); !reil.EqualValue(v, reil.NewLiteral(0)) {
			t.Fatalf("got=%s, expected 0", v)
		}
	})
	t.Run("RangeIncludesZero", func(t *testing.T) {
		if v := reil.NewNullCheck(reil.NewRange(0, 7)); reil.IsLiteral(v) {
			t.Fatalf("unexpected literal: %s", v)
		}
	})
	t.Run("Undefined", func(t *testing.T) {
		if v := reil.NewNullCheck(reil.NewUndefined()); !reil.IsUndefined(v) {
			t.Fatalf("got=%s, expected undefined", v)
		}
	})
}

func TestNewRange(t *testing.T) {
	t.Run("Degenerate", func(t *testing.T) {
		if diff := cmp.Diff(reil.Value(reil.NewLiteral(3)), reil.NewRange(3, 3)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Swap", func(t *testing.T) {
		if diff := cmp.Diff(reil.Value(&reil.Range{Low: 3, High: 7}), reil.NewRange(7, 3)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Contains", func(t *testing.T) {
		r := &reil.Range{Low: 3, High: 7}
		if !r.Contains(3) || !r.Contains(7) || r.Contains(2) || r.Contains(8) {
			t.Fatal("unexpected containment")
		}
	})
}

func TestEvaluate(t *testing.T) {
	t.Run("ClosedForm", func(t *testing.T) {
		v := &reil.BinaryValue{
			Op:  reil.OpAdd,
			LHS: &reil.BinaryValue{Op: reil.OpMul, LHS: reil.NewLiteral(3), RHS: reil.NewLiteral(4)},
			RHS: &reil.NullCheck{Value: reil.NewLiteral(0)},
		}
		if n, ok := reil.Evaluate(v); !ok || n != 13 {
			t.Fatalf("got=%d, expected 13", n)
		}
	})
	t.Run("Open", func(t *testing.T) {
		for _, v := range []reil.Value{
			reil.NewRegister("eax"),
			reil.NewSymbol(0, "eax"),
			reil.NewUndefined(),
			&reil.Range{Low: 1, High: 2},
			reil.NewMemoryCell(reil.NewLiteral(0)),
			reil.NewDereference(reil.NewLiteral(0)),
			&reil.BinaryValue{Op: reil.OpAdd, LHS: reil.NewRegister("eax"), RHS: reil.NewLiteral(1)},
		} {
			if _, ok := reil.Evaluate(v); ok {
				t.Fatalf("%s: expected no value", v)
			}
		}
	})
}

func TestCompareValue(t *testing.T) {
	t.Run("Kinds", func(t *testing.T) {
		ordered := []reil.Value{
			reil.NewLiteral(1),
			reil.NewRegister("eax"),
			reil.NewSymbol(0, "eax"),
			reil.NewUndefined(),
			&reil.BinaryValue{Op: reil.OpAdd, LHS: reil.NewRegister("eax"), RHS: reil.NewLiteral(1)},
			&reil.NullCheck{Value: reil.NewRegister("eax")},
			&reil.Range{Low: 1, High: 2},
			reil.NewMemoryCell(reil.NewLiteral(0)),
			reil.NewDereference(reil.NewLiteral(0)),
		}
		for i := range ordered {
			for j := range ordered {
				c := reil.CompareValue(ordered[i], ordered[j])
				switch {
				case i < j && c != -1, i > j && c != 1, i == j && c != 0:
					t.Fatalf("compare(%s, %s)=%d", ordered[i], ordered[j], c)
				}
			}
		}
	})
	t.Run("Structural", func(t *testing.T) {
		a := reil.NewMemoryCell(&reil.BinaryValue{Op: reil.OpAdd, LHS: reil.NewRegister("esp"), RHS: reil.NewLiteral(4)})
		b := reil.NewMemoryCell(&reil.BinaryValue{Op: reil.OpAdd, LHS: reil.NewRegister("esp"), RHS: reil.NewLiteral(4)})
		if !reil.EqualValue(a, b) {
			t.Fatal("expected equal")
		}
		c := reil.NewMemoryCell(&reil.BinaryValue{Op: reil.OpAdd, LHS: reil.NewRegister("esp"), RHS: reil.NewLiteral(8)})
		if reil.CompareValue(a, c) != -1 {
			t.Fatal("expected less")
		}
	})
	t.Run("Nil", func(t *testing.T) {
		if reil.CompareValue(nil, reil.NewLiteral(0)) != -1 || reil.CompareValue(reil.NewLiteral(0), nil) != 1 || reil.CompareValue(nil, nil) != 0 {
			t.Fatal("unexpected nil ordering")
		}
	})
}

func TestValue_String(t *testing.T) {
	for _, tt := range []struct {
		v        reil.Value
		expected string
	}{
		{reil.NewLiteral(9), "9"},
		{reil.NewLiteral(255), "0xFF"},
		{reil.NewRegister("eax"), "eax"},
		{reil.NewSymbol(0x100, "ebx"), "ebx@100"},
		{reil.NewUndefined(), "undefined"},
		{&reil.BinaryValue{Op: reil.OpAnd, LHS: reil.NewRegister("eax"), RHS: reil.NewLiteral(255)}, "(eax & 0xFF)"},
		{&reil.BinaryValue{Op: reil.OpShift, LHS: reil.NewRegister("eax"), RHS: reil.NewLiteral(2)}, "(eax bsh 2)"},
		{&reil.NullCheck{Value: reil.NewRegister("eax")}, "bisz(eax)"},
		{&reil.Range{Low: 3, High: 16}, "range(3, 0x10)"},
		{reil.NewMemoryCell(reil.NewRegister("esp")), "mem(esp)"},
		{reil.NewDereference(reil.NewRegister("esp")), "[esp]"},
	} {
		if s := tt.v.String(); s != tt.expected {
			t.Fatalf("got=%q, expected %q", s, tt.expected)
		}
	}

	if s := reil.BinaryOp(100).String(); s != "BinaryOp<100>" {
		t.Fatalf("unexpected string: %s", s)
	}
}
