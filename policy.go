package reil

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// CPUPolicy describes the registers of a target architecture.
// Policies are static tables and safe to share.
type CPUPolicy struct {
	name      string
	registers []string       // full-width registers, in display order
	flags     []string       // flag registers, in flag-word order
	pc        string         // program counter register
	sizes     map[string]int // width in bits of every register & alias
}

// Name returns the architecture name.
func (p *CPUPolicy) Name() string { return p.name }

// Registers returns the full-width registers of the architecture.
func (p *CPUPolicy) Registers() []string { return slices.Clone(p.registers) }

// Flags returns the flag registers of the architecture.
func (p *CPUPolicy) Flags() []string { return slices.Clone(p.flags) }

// ProgramCounter returns the name of the program counter register.
func (p *CPUPolicy) ProgramCounter() string { return p.pc }

// RegisterSize returns the width of a register or any of its aliases, in bits.
func (p *CPUPolicy) RegisterSize(name string) (int, bool) {
	n, ok := p.sizes[strings.ToLower(name)]
	return n, ok
}

// IsFlag returns true if name is a flag register.
func (p *CPUPolicy) IsFlag(name string) bool {
	return slices.Contains(p.flags, strings.ToLower(name))
}

// String returns the architecture name.
func (p *CPUPolicy) String() string { return p.name }

// Built-in policies.
var (
	PolicyX86   = newX86Policy()
	PolicyX8664 = newX8664Policy()
	PolicyARM   = newARMPolicy()
	PolicyMIPS  = newMIPSPolicy()
	PolicyPPC   = newPPCPolicy()
)

var policies = []*CPUPolicy{PolicyX86, PolicyX8664, PolicyARM, PolicyMIPS, PolicyPPC}

// LookupPolicy returns the policy for an architecture name.
func LookupPolicy(name string) (*CPUPolicy, error) {
	switch strings.ToLower(name) {
	case "x86-64", "x86_64", "amd64", "x64":
		return PolicyX8664, nil
	case "i386", "386":
		return PolicyX86, nil
	case "arm32":
		return PolicyARM, nil
	case "powerpc":
		return PolicyPPC, nil
	}
	for _, p := range policies {
		if strings.EqualFold(p.name, name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("reil: unknown architecture: %q", name)
}

// PolicyNames returns the names of all built-in policies.
func PolicyNames() []string {
	a := make([]string, len(policies))
	for i, p := range policies {
		a[i] = p.name
	}
	return a
}

// policyBuilder accumulates register widths while a policy table is built.
type policyBuilder struct {
	p *CPUPolicy
}

func newPolicyBuilder(name, pc string) *policyBuilder {
	return &policyBuilder{p: &CPUPolicy{name: name, pc: pc, sizes: make(map[string]int)}}
}

// reg adds a full-width register and its aliases, which all share one width.
func (b *policyBuilder) reg(width int, name string, aliases ...string) *policyBuilder {
	b.p.registers = append(b.p.registers, name)
	b.p.sizes[name] = width
	for _, alias := range aliases {
		b.p.sizes[alias] = width
	}
	return b
}

// alias adds register names which are not displayed but have a known width.
func (b *policyBuilder) alias(width int, names ...string) *policyBuilder {
	for _, name := range names {
		b.p.sizes[name] = width
	}
	return b
}

func (b *policyBuilder) flag(names ...string) *policyBuilder {
	for _, name := range names {
		b.p.flags = append(b.p.flags, name)
		b.p.sizes[name] = Width8
	}
	return b
}

func (b *policyBuilder) build() *CPUPolicy {
	_, ok := b.p.sizes[b.p.pc]
	assert(ok, "policy %s: program counter %s has no width", b.p.name, b.p.pc)
	return b.p
}

var x86Flags = []string{"cf", "pf", "af", "zf", "sf", "tf", "if", "df", "of"}

func newX86Policy() *CPUPolicy {
	return newPolicyBuilder("x86", "eip").
		reg(Width32, "eax").reg(Width32, "ebx").reg(Width32, "ecx").reg(Width32, "edx").
		reg(Width32, "esi").reg(Width32, "edi").reg(Width32, "ebp").reg(Width32, "esp").
		reg(Width32, "eip").
		alias(Width16, "ax", "bx", "cx", "dx", "si", "di", "bp", "sp", "ip").
		alias(Width8, "al", "ah", "bl", "bh", "cl", "ch", "dl", "dh").
		flag(x86Flags...).
		build()
}

func newX8664Policy() *CPUPolicy {
	b := newPolicyBuilder("x86-64", "rip")
	for _, r := range []string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp"} {
		b.reg(Width64, r)
	}
	for i := 8; i <= 15; i++ {
		b.reg(Width64, fmt.Sprintf("r%d", i))
		b.alias(Width32, fmt.Sprintf("r%dd", i))
		b.alias(Width16, fmt.Sprintf("r%dw", i))
		b.alias(Width8, fmt.Sprintf("r%db", i))
	}
	return b.reg(Width64, "rip").
		alias(Width32, "eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp", "eip").
		alias(Width16, "ax", "bx", "cx", "dx", "si", "di", "bp", "sp", "ip").
		alias(Width8, "al", "ah", "bl", "bh", "cl", "ch", "dl", "dh", "sil", "dil", "bpl", "spl").
		flag(x86Flags...).
		build()
}

func newARMPolicy() *CPUPolicy {
	b := newPolicyBuilder("arm", "pc")
	for i := 0; i <= 12; i++ {
		b.reg(Width32, fmt.Sprintf("r%d", i))
	}
	return b.reg(Width32, "sp", "r13").
		reg(Width32, "lr", "r14").
		reg(Width32, "pc", "r15").
		flag("n", "z", "c", "v", "q").
		build()
}

func newMIPSPolicy() *CPUPolicy {
	b := newPolicyBuilder("mips", "pc")
	names := []string{
		"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
		"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
		"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
		"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
	}
	for i, name := range names {
		b.reg(Width32, "$"+name, fmt.Sprintf("$%d", i))
	}
	return b.reg(Width32, "pc").reg(Width32, "hi").reg(Width32, "lo").build()
}

func newPPCPolicy() *CPUPolicy {
	b := newPolicyBuilder("ppc", "pc")
	for i := 0; i <= 31; i++ {
		b.reg(Width32, fmt.Sprintf("r%d", i))
	}
	b.reg(Width32, "pc").reg(Width32, "lr").reg(Width32, "ctr").reg(Width32, "xer").reg(Width32, "cr")
	for i := 0; i <= 7; i++ {
		b.alias(Width8, fmt.Sprintf("cr%d", i))
	}
	return b.flag("xerso", "xerov", "xerca").build()
}
