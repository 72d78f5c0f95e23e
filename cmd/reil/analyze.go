package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/benbjohnson/reil"
)

// AnalyzeCommand represents a command for computing the symbolic values of a program.
type AnalyzeCommand struct {
	Stdout io.Writer
}

// NewAnalyzeCommand returns a new instance of AnalyzeCommand.
func NewAnalyzeCommand() *AnalyzeCommand {
	return &AnalyzeCommand{Stdout: os.Stdout}
}

// Run executes the "analyze" subcommand.
func (cmd *AnalyzeCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reil-analyze", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file")
	entry := fs.String("entry", "", "native entry address")
	irEntry := fs.String("ir-entry", "", "IR entry address")
	maxIterations := fs.Int("max-iterations", 0, "maximum node visits")
	seed := fs.String("seed", "", "comma-separated registers seeded with symbols")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("program required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many programs specified")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	prog, err := reil.ReadProgramFile(fs.Arg(0))
	if err != nil {
		return err
	}
	instrs, err := prog.ParseInstructions()
	if err != nil {
		return err
	}

	g, err := reil.NewGraph(instrs)
	if err != nil {
		return err
	}

	a := reil.NewAnalysis(g)
	a.MaxIterations = cfg.Analysis.MaxIterations
	a.SeedRegisters = cfg.Analysis.SeedRegisters
	if *maxIterations > 0 {
		a.MaxIterations = *maxIterations
	}
	if *seed != "" {
		a.SeedRegisters = strings.Split(*seed, ",")
	}
	if *entry != "" && *irEntry != "" {
		return fmt.Errorf("cannot specify both -entry and -ir-entry")
	} else if *entry != "" {
		native, err := strconv.ParseUint(*entry, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid entry address: %q", *entry)
		}
		addr := reil.IRAddress(native, 0)
		a.Entry = &addr
	} else if *irEntry != "" {
		addr, err := strconv.ParseUint(*irEntry, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid IR entry address: %q", *irEntry)
		}
		a.Entry = &addr
	} else if prog.Entry != 0 {
		addr := reil.IRAddress(prog.Entry, 0)
		a.Entry = &addr
	}

	result, err := a.Run()
	if err != nil {
		return err
	}

	for _, n := range g.Nodes() {
		fmt.Fprintln(cmd.Stdout, n)
		state, ok := result.State(n.Address())
		if !ok {
			fmt.Fprintln(cmd.Stdout, "\tunreachable")
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(state.String(), "\n"), "\n") {
			if line != "" {
				fmt.Fprintf(cmd.Stdout, "\t%s\n", line)
			}
		}
	}
	return nil
}

func (cmd *AnalyzeCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: reil analyze [arguments] PROGRAM

Arguments:

	-config PATH
	    Read settings from a TOML config file.

	-entry ADDR
	    Native address of the first instruction. Defaults to the
	    entry of the program, then to the lowest address.

	-ir-entry ADDR
	    IR address of the first instruction, e.g. 0x401002.

	-max-iterations N
	    Give up after N instruction visits.

	-seed REGS
	    Comma-separated registers whose incoming values are
	    symbols introduced at the entry.

	-v
	    Enable verbose logging.
`[1:])
}
