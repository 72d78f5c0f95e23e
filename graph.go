package reil

import (
	"fmt"
	"log"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Node represents a single instruction of an instruction graph.
type Node struct {
	Instruction *Instruction

	preds []*Node
	succs []*Node
}

// Address returns the IR address of the node's instruction.
func (n *Node) Address() uint64 { return n.Instruction.Address }

// Predecessors returns the nodes with an edge into n.
func (n *Node) Predecessors() []*Node { return n.preds }

// Successors returns the nodes with an edge out of n.
func (n *Node) Successors() []*Node { return n.succs }

// String returns the instruction of the node.
func (n *Node) String() string { return n.Instruction.String() }

// Graph represents the control flow between IR instructions.
type Graph struct {
	nodes map[uint64]*Node
}

// NewGraph returns a graph of instrs. Every instruction falls through to the
// instruction with the next higher address. Conditional jumps also connect to
// their target when it is a constant address within the graph.
func NewGraph(instrs []*Instruction) (*Graph, error) {
	g := &Graph{nodes: make(map[uint64]*Node)}
	for _, instr := range instrs {
		if _, err := g.AddNode(instr); err != nil {
			return nil, err
		}
	}

	addrs := g.addresses()
	for i, addr := range addrs {
		instr := g.nodes[addr].Instruction

		fallthru, jump := true, instr.Opcode == JCC
		if jump && instr.First.Kind == OperandInteger {
			cond, err := literalOperand(instr.First)
			if err != nil {
				return nil, err
			}
			fallthru, jump = cond.Value == 0, cond.Value != 0
		}

		if jump {
			if target, ok, err := jumpAddress(instr); err != nil {
				return nil, err
			} else if !ok {
				log.Printf("[graph] dynamic jump: %s", instr)
			} else if _, exists := g.nodes[target]; !exists {
				log.Printf("[graph] jump outside graph: %s", instr)
			} else if err := g.AddEdge(addr, target); err != nil {
				return nil, err
			}
		}

		if fallthru && i+1 < len(addrs) {
			if err := g.AddEdge(addr, addrs[i+1]); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// jumpAddress returns the IR address targeted by a JCC. Returns false if the
// target is only known at runtime.
func jumpAddress(instr *Instruction) (uint64, bool, error) {
	switch instr.Third.Kind {
	case OperandSubAddress:
		native, sub, err := instr.Third.SubAddress()
		if err != nil {
			return 0, false, err
		}
		return IRAddress(native, sub), true, nil
	case OperandInteger:
		native, err := literalOperand(instr.Third)
		if err != nil {
			return 0, false, err
		}
		return IRAddress(native.Value, 0), true, nil
	default:
		return 0, false, nil
	}
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node at an IR address, or nil if none exists.
func (g *Graph) Node(addr uint64) *Node { return g.nodes[addr] }

// Nodes returns all nodes ordered by address.
func (g *Graph) Nodes() []*Node {
	a := make([]*Node, 0, len(g.nodes))
	for _, addr := range g.addresses() {
		a = append(a, g.nodes[addr])
	}
	return a
}

// Entry returns the node with the lowest address, or nil if the graph is empty.
func (g *Graph) Entry() *Node {
	addrs := g.addresses()
	if len(addrs) == 0 {
		return nil
	}
	return g.nodes[addrs[0]]
}

// AddNode adds an instruction to the graph. Returns an error if another
// instruction already has the same address.
func (g *Graph) AddNode(instr *Instruction) (*Node, error) {
	if g.nodes == nil {
		g.nodes = make(map[uint64]*Node)
	}
	if _, ok := g.nodes[instr.Address]; ok {
		return nil, fmt.Errorf("reil.Graph: duplicate instruction at %08X", instr.Address)
	}
	n := &Node{Instruction: instr}
	g.nodes[instr.Address] = n
	return n, nil
}

// AddEdge connects two nodes. Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to uint64) error {
	src, dst := g.nodes[from], g.nodes[to]
	if src == nil {
		return fmt.Errorf("reil.Graph: %08X: %w", from, ErrMissingInstructions)
	} else if dst == nil {
		return fmt.Errorf("reil.Graph: %08X: %w", to, ErrMissingInstructions)
	}

	if slices.Contains(src.succs, dst) {
		return nil
	}
	src.succs = append(src.succs, dst)
	dst.preds = append(dst.preds, src)
	return nil
}

// addresses returns the sorted addresses of all nodes.
func (g *Graph) addresses() []uint64 {
	a := maps.Keys(g.nodes)
	slices.Sort(a)
	return a
}
