package reil_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/reil"
	"github.com/google/go-cmp/cmp"
)

func TestMemory_LoadStore(t *testing.T) {
	t.Run("LittleEndian", func(t *testing.T) {
		m := reil.NewMemory(true)
		if err := m.Store(0x1000, 0x1234, 2); err != nil {
			t.Fatal(err)
		}
		if v, err := m.Load(0x1000, 2); err != nil {
			t.Fatal(err)
		} else if v != 0x1234 {
			t.Fatalf("got=%#x, expected 0x1234", v)
		}
		if diff := cmp.Diff([]byte{0x34, 0x12}, m.LoadBytes(0x1000, 2)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("BigEndian", func(t *testing.T) {
		m := reil.NewMemory(false)
		if err := m.Store(0x1000, 0x1234, 2); err != nil {
			t.Fatal(err)
		}
		if v, err := m.Load(0x1000, 2); err != nil {
			t.Fatal(err)
		} else if v != 0x1234 {
			t.Fatalf("got=%#x, expected 0x1234", v)
		}
		if diff := cmp.Diff([]byte{0x12, 0x34}, m.LoadBytes(0x1000, 2)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("SameBytes", func(t *testing.T) {
		le := reil.NewMemory(true)
		if err := le.Store(0x1000, 0x1234, 2); err != nil {
			t.Fatal(err)
		}

		be := reil.NewMemory(false)
		be.StoreBytes(0x1000, le.LoadBytes(0x1000, 2))
		if v, err := be.Load(0x1000, 2); err != nil {
			t.Fatal(err)
		} else if v != 0x3412 {
			t.Fatalf("got=%#x, expected 0x3412", v)
		}
	})

	t.Run("Sizes", func(t *testing.T) {
		for _, n := range []int{1, 2, 4, 8} {
			m := reil.NewMemory(true)
			if err := m.Store(0, 0x0102030405060708, n); err != nil {
				t.Fatal(err)
			}
			v, err := m.Load(0, n)
			if err != nil {
				t.Fatal(err)
			}
			if expected := uint64(0x0102030405060708) & (1<<(uint(n)*8) - 1); n < 8 && v != expected {
				t.Fatalf("%d: got=%#x, expected %#x", n, v, expected)
			} else if n == 8 && v != 0x0102030405060708 {
				t.Fatalf("%d: got=%#x", n, v)
			}
		}
	})

	t.Run("Uninitialized", func(t *testing.T) {
		m := reil.NewMemory(true)
		if v, err := m.Load(0x2000, 4); err != nil {
			t.Fatal(err)
		} else if v != 0 {
			t.Fatalf("got=%#x, expected 0", v)
		} else if m.IsInitialized(0x2000) {
			t.Fatal("expected uninitialized byte")
		}
	})

	t.Run("ErrUnsupportedSize", func(t *testing.T) {
		m := reil.NewMemory(true)
		for _, n := range []int{0, 3, 16} {
			if _, err := m.Load(0, n); !errors.Is(err, reil.ErrUnsupportedSize) {
				t.Fatalf("load %d: unexpected error: %v", n, err)
			} else if err := m.Store(0, 0, n); !errors.Is(err, reil.ErrUnsupportedSize) {
				t.Fatalf("store %d: unexpected error: %v", n, err)
			}
		}
	})
}

func TestMemory_Clone(t *testing.T) {
	m := reil.NewMemory(true)
	m.StoreByte(0x10, 1)

	other := m.Clone()
	other.StoreByte(0x10, 2)
	other.StoreByte(0x11, 3)

	if b := m.LoadByte(0x10); b != 1 {
		t.Fatalf("got=%d, expected 1", b)
	} else if m.Len() != 1 {
		t.Fatalf("unexpected len: %d", m.Len())
	} else if b := other.LoadByte(0x10); b != 2 {
		t.Fatalf("got=%d, expected 2", b)
	} else if !other.IsLittleEndian() {
		t.Fatal("expected endianness to be copied")
	}
}

func TestMemory_Dump(t *testing.T) {
	m := reil.NewMemory(true)
	m.StoreBytes(0x1000, []byte{0xDE, 0xAD})
	m.StoreBytes(0x2000, []byte{0xBE, 0xEF})

	if got, expected := m.Dump(), "00001000: DE AD\n00002000: BE EF\n"; got != expected {
		t.Fatalf("got=%q, expected %q", got, expected)
	}
	if got := reil.NewMemory(true).Dump(); got != "" {
		t.Fatalf("unexpected dump: %q", got)
	}
}
