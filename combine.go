package reil

import (
	"fmt"
)

// Combine merges the states flowing into a control-flow join.
//
// Exactly two states are supported. A location known on only one path, or
// known with disagreeing non-literal values, is Undefined after the join.
// Disagreeing literals widen to the Range spanning both.
func Combine(states ...*State) (*State, error) {
	if len(states) != 2 {
		return nil, fmt.Errorf("reil.Combine: %w: %d", ErrUnsupportedArity, len(states))
	}
	a, b := states[0], states[1]
	assert(a != nil && b != nil, "combine: nil state")

	if a.Equal(b) {
		return a.Clone(), nil
	}

	other := a.Clone()

	// Merge values for every key of a, then mark keys found only in b.
	itr := a.values.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if k == nil {
			break
		}

		merged := Value(NewUndefined())
		if bv, ok := b.values.Get(k); ok {
			merged = combineValues(v.(Value), bv.(Value))
		}
		if !EqualValue(merged, v.(Value)) {
			other.values = other.values.Set(k, merged)
		}
	}

	itr = b.values.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		if k == nil {
			break
		}
		if _, ok := a.values.Get(k); !ok {
			other.values = other.values.Set(k, NewUndefined())
		}
	}

	// Union provenance.
	itr = b.influences.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if k == nil {
			break
		}
		if _, ok := other.influences.Get(k); !ok {
			other.influences = other.influences.Set(k, v)
		}
	}

	itr = b.lastWritten.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if k == nil {
			break
		}
		if prev, ok := other.lastWritten.Get(k); ok {
			other.lastWritten = other.lastWritten.Set(k, unionUint64s(prev.([]uint64), v.([]uint64)))
		} else {
			other.lastWritten = other.lastWritten.Set(k, v)
		}
	}

	return other, nil
}

// combineValues returns the join of two values of the same location.
func combineValues(a, b Value) Value {
	if EqualValue(a, b) {
		return a
	}

	if x, ok := a.(*Literal); ok {
		if y, ok := b.(*Literal); ok {
			return NewRange(x.Value, y.Value)
		}
	}
	return NewUndefined()
}
