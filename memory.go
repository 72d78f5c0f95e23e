package reil

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// Memory represents a byte-addressable memory image.
//
// Bytes are kept in a persistent sorted map so snapshots are cheap and
// dumps are ordered by address. Bytes which were never written read as zero.
type Memory struct {
	bytes        *immutable.SortedMap // uint64 -> byte
	littleEndian bool
}

// NewMemory returns a new, empty instance of Memory.
func NewMemory(littleEndian bool) *Memory {
	return &Memory{
		bytes:        immutable.NewSortedMap(&uint64Comparer{}),
		littleEndian: littleEndian,
	}
}

// IsLittleEndian returns true if multi-byte values are stored least significant byte first.
func (m *Memory) IsLittleEndian() bool { return m.littleEndian }

// Len returns the number of bytes which have been written.
func (m *Memory) Len() int { return m.bytes.Len() }

// Clone returns a snapshot of the memory. Later writes to either copy are
// not visible to the other.
func (m *Memory) Clone() *Memory {
	other := *m
	return &other
}

// Load reads an n-byte value at addr.
func (m *Memory) Load(addr uint64, n int) (uint64, error) {
	if !isValidAccessSize(n) {
		return 0, fmt.Errorf("%w: %d bytes", ErrUnsupportedSize, n)
	}

	var v uint64
	for i := 0; i < n; i++ {
		shift := uint(i) * 8
		if !m.littleEndian {
			shift = uint(n-i-1) * 8
		}
		v |= uint64(m.LoadByte(addr+uint64(i))) << shift
	}
	return v, nil
}

// Store writes the low n bytes of v at addr.
func (m *Memory) Store(addr uint64, v uint64, n int) error {
	if !isValidAccessSize(n) {
		return fmt.Errorf("%w: %d bytes", ErrUnsupportedSize, n)
	}

	for i := 0; i < n; i++ {
		shift := uint(i) * 8
		if !m.littleEndian {
			shift = uint(n-i-1) * 8
		}
		m.StoreByte(addr+uint64(i), byte(v>>shift))
	}
	return nil
}

// LoadByte reads a single byte.
func (m *Memory) LoadByte(addr uint64) byte {
	if v, ok := m.bytes.Get(addr); ok {
		return v.(byte)
	}
	return 0
}

// StoreByte writes a single byte.
func (m *Memory) StoreByte(addr uint64, b byte) {
	m.bytes = m.bytes.Set(addr, b)
}

// LoadBytes returns n raw bytes starting at addr.
func (m *Memory) LoadBytes(addr uint64, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = m.LoadByte(addr + uint64(i))
	}
	return buf
}

// StoreBytes writes raw bytes starting at addr.
func (m *Memory) StoreBytes(addr uint64, p []byte) {
	for i, b := range p {
		m.StoreByte(addr+uint64(i), b)
	}
}

// IsInitialized returns true if the byte at addr has been written.
func (m *Memory) IsInitialized(addr uint64) bool {
	_, ok := m.bytes.Get(addr)
	return ok
}

// Dump returns the written bytes as hex lines grouped by contiguous range.
func (m *Memory) Dump() string {
	var buf bytes.Buffer
	var next uint64
	var started bool

	itr := m.bytes.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if k == nil {
			break
		}
		addr := k.(uint64)
		if !started || addr != next {
			if started {
				buf.WriteByte('\n')
			}
			fmt.Fprintf(&buf, "%08X:", addr)
			started = true
		}
		fmt.Fprintf(&buf, " %02X", v.(byte))
		next = addr + 1
	}
	if started {
		buf.WriteByte('\n')
	}
	return buf.String()
}

func isValidAccessSize(n int) bool {
	switch n {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a uint64.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
