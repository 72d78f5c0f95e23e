package reil

import (
	"fmt"
	"log"

	"golang.org/x/tools/container/intsets"
)

// DefaultMaxIterations is the default bound on node visits of an analysis.
const DefaultMaxIterations = 10000

// Analysis computes the abstract state after every instruction of a graph by
// iterating transformers until no state changes.
type Analysis struct {
	graph *Graph

	// Address of the first instruction. Defaults to the lowest address.
	Entry *uint64

	// Maximum number of node visits before giving up.
	MaxIterations int

	// Registers whose incoming value is an unknown symbol introduced at the entry.
	SeedRegisters []string
}

// NewAnalysis returns a new instance of Analysis for g.
func NewAnalysis(g *Graph) *Analysis {
	return &Analysis{
		graph:         g,
		MaxIterations: DefaultMaxIterations,
	}
}

// Graph returns the graph being analyzed.
func (a *Analysis) Graph() *Graph { return a.graph }

// Run executes the analysis to a fixpoint.
func (a *Analysis) Run() (*Result, error) {
	result := &Result{states: make(map[uint64]*State)}

	entry := a.graph.Entry()
	if a.Entry != nil {
		entry = a.graph.Node(*a.Entry)
	}
	if entry == nil {
		if a.graph.Len() == 0 {
			return result, nil
		}
		return nil, fmt.Errorf("reil.Analysis: entry %08X: %w", *a.Entry, ErrMissingInstructions)
	}

	// Index nodes so the worklist can track membership in a sparse bit set.
	nodes := a.graph.Nodes()
	index := make(map[*Node]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}

	initial := NewState()
	for _, name := range a.SeedRegisters {
		initial = initial.Set(NewRegister(name), NewSymbol(entry.Address(), name))
	}

	log.Printf("[analyze] begin: nodes=%d entry=%08X", len(nodes), entry.Address())

	var pending intsets.Sparse
	queue := []*Node{entry}
	pending.Insert(index[entry])

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		pending.Remove(index[n])

		if result.Iterations++; a.MaxIterations > 0 && result.Iterations > a.MaxIterations {
			return nil, fmt.Errorf("reil.Analysis: %w after %d iterations", ErrNotConverged, a.MaxIterations)
		}

		in, err := a.incoming(n, entry, initial, result)
		if err != nil {
			return nil, err
		} else if in == nil {
			continue
		}

		out, err := Transform(n.Instruction, in)
		if err != nil {
			return nil, err
		}

		if prev, ok := result.states[n.Address()]; ok && prev.Equal(out) {
			continue
		}
		result.states[n.Address()] = out

		for _, succ := range n.Successors() {
			if !pending.Has(index[succ]) {
				pending.Insert(index[succ])
				queue = append(queue, succ)
			}
		}
	}

	log.Printf("[analyze] end: iterations=%d", result.Iterations)

	return result, nil
}

// incoming returns the state flowing into n. Predecessors which have not been
// visited yet contribute nothing. Returns nil if nothing reaches n.
func (a *Analysis) incoming(n, entry *Node, initial *State, result *Result) (*State, error) {
	var states []*State
	if n == entry {
		states = append(states, initial)
	}
	for _, pred := range n.Predecessors() {
		if s, ok := result.states[pred.Address()]; ok {
			states = append(states, s)
		}
	}

	switch len(states) {
	case 0:
		return nil, nil
	case 1:
		return states[0], nil
	default:
		s, err := Combine(states...)
		if err != nil {
			return nil, fmt.Errorf("reil.Analysis: %s: %w", n, err)
		}
		return s, nil
	}
}

// Result holds the outgoing abstract state of every reached instruction.
type Result struct {
	states map[uint64]*State

	// Number of node visits performed.
	Iterations int
}

// State returns the state after the instruction at addr.
// Returns false if the instruction was never reached.
func (r *Result) State(addr uint64) (*State, bool) {
	s, ok := r.states[addr]
	return s, ok
}

// Len returns the number of reached instructions.
func (r *Result) Len() int { return len(r.states) }
