package reil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
)

// State represents the abstract state after an instruction: what is known
// about every register and memory location at that program point.
//
// States are immutable. Update & Combine return new states which share
// structure with their inputs, so a state may be referenced from any number
// of successor paths.
type State struct {
	// Mapping of location to symbolic value. An absent key means no
	// information reached this point, which differs from Undefined.
	values *immutable.SortedMap // Aloc -> Value

	// Instructions which contributed to this state, by IR address.
	influences *immutable.SortedMap // uint64 -> *Instruction

	// Addresses of the instructions known to have last written a register.
	lastWritten *immutable.SortedMap // string -> []uint64, sorted
}

// NewState returns a new, empty instance of State.
func NewState() *State {
	return &State{
		values:      immutable.NewSortedMap(&valueComparer{}),
		influences:  immutable.NewSortedMap(&uint64Comparer{}),
		lastWritten: immutable.NewSortedMap(&stringComparer{}),
	}
}

// Len returns the number of locations with a value.
func (s *State) Len() int { return s.values.Len() }

// Get returns the value of a location. Returns false if no information about
// the location reached this state.
func (s *State) Get(key Aloc) (Value, bool) {
	v, ok := s.values.Get(key)
	if !ok {
		return nil, false
	}
	return v.(Value), true
}

// Register returns the value of a register.
func (s *State) Register(name string) (Value, bool) {
	return s.Get(NewRegister(name))
}

// Keys returns all locations in the state in sorted order.
func (s *State) Keys() []Aloc {
	a := make([]Aloc, 0, s.values.Len())
	itr := s.values.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		if k == nil {
			break
		}
		a = append(a, k.(Aloc))
	}
	return a
}

// Update returns a new state equal to s except that key holds v and instr is
// recorded as an influence. Register writes also record instr as the last
// writer of the register.
func (s *State) Update(instr *Instruction, key Aloc, v Value) *State {
	assert(key != nil, "update: nil key")
	assert(v != nil, "update: nil value")

	other := &State{
		values:      s.values.Set(key, v),
		influences:  s.influences,
		lastWritten: s.lastWritten,
	}
	if instr != nil {
		other.influences = s.influences.Set(instr.Address, instr)
		if reg, ok := key.(*Register); ok {
			other.lastWritten = s.lastWritten.Set(reg.Name, []uint64{instr.Address})
		}
	}
	return other
}

// Set returns a new state where key holds v, without recording provenance.
// Used to seed entry states.
func (s *State) Set(key Aloc, v Value) *State {
	return s.Update(nil, key, v)
}

// Influences returns the instructions which contributed to the state, ordered by address.
func (s *State) Influences() []*Instruction {
	a := make([]*Instruction, 0, s.influences.Len())
	itr := s.influences.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if k == nil {
			break
		}
		a = append(a, v.(*Instruction))
	}
	return a
}

// LastWritten returns the addresses of instructions known to have last
// written a register.
func (s *State) LastWritten(reg string) []uint64 {
	v, ok := s.lastWritten.Get(reg)
	if !ok {
		return nil
	}
	addrs := v.([]uint64)
	return append(make([]uint64, 0, len(addrs)), addrs...)
}

// Clone returns a state equal to s. Because states are immutable the
// underlying maps are shared.
func (s *State) Clone() *State {
	other := *s
	return &other
}

// Equal returns true if s and other hold the same values, influences and
// last-written sets.
func (s *State) Equal(other *State) bool {
	if s == other {
		return true
	} else if s == nil || other == nil {
		return false
	}
	return equalSortedMaps(s.values, other.values, func(a, b interface{}) bool {
		return EqualValue(a.(Value), b.(Value))
	}) && equalSortedMaps(s.influences, other.influences, func(a, b interface{}) bool {
		return a.(*Instruction).Address == b.(*Instruction).Address
	}) && equalSortedMaps(s.lastWritten, other.lastWritten, func(a, b interface{}) bool {
		return equalUint64s(a.([]uint64), b.([]uint64))
	})
}

// String returns the values of the state, one location per line.
func (s *State) String() string {
	var buf bytes.Buffer
	itr := s.values.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if k == nil {
			break
		}
		fmt.Fprintf(&buf, "%s = %s\n", k, v)
	}
	return buf.String()
}

// Dump returns the contents of the state, including provenance, as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "== VALUES")
	buf.WriteString(s.String())
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== INFLUENCES")
	for _, instr := range s.Influences() {
		fmt.Fprintln(&buf, instr.String())
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== LAST WRITTEN")
	itr := s.lastWritten.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if k == nil {
			break
		}
		addrs := make([]string, 0, len(v.([]uint64)))
		for _, addr := range v.([]uint64) {
			addrs = append(addrs, fmt.Sprintf("%08X", addr))
		}
		fmt.Fprintf(&buf, "%s <- %s\n", k, strings.Join(addrs, " "))
	}
	return buf.String()
}

// equalSortedMaps returns true if a & b have equal keys and values.
// Both maps must use the same comparer.
func equalSortedMaps(a, b *immutable.SortedMap, eq func(a, b interface{}) bool) bool {
	if a == b {
		return true
	} else if a.Len() != b.Len() {
		return false
	}

	itrA, itrB := a.Iterator(), b.Iterator()
	for !itrA.Done() && !itrB.Done() {
		ka, va := itrA.Next()
		kb, vb := itrB.Next()
		if ka == nil || kb == nil {
			return ka == nil && kb == nil
		}
		if cmp := compareKeys(ka, kb); cmp != 0 || !eq(va, vb) {
			return false
		}
	}
	return itrA.Done() == itrB.Done()
}

// compareKeys compares two keys of the same state map.
func compareKeys(a, b interface{}) int {
	switch a := a.(type) {
	case Value:
		return CompareValue(a, b.(Value))
	case uint64:
		return compareUint64(a, b.(uint64))
	case string:
		return strings.Compare(a, b.(string))
	default:
		panic(fmt.Sprintf("unexpected key type: %T", a))
	}
}

// unionUint64s returns the sorted union of two sorted address sets.
func unionUint64s(a, b []uint64) []uint64 {
	out := make([]uint64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i, j = i+1, j+1
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func equalUint64s(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stringComparer compares two strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns the lexical ordering of a and b. Panic if a or b is not a string.
func (c *stringComparer) Compare(a, b interface{}) int {
	return strings.Compare(a.(string), b.(string))
}
