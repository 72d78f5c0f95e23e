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

	"github.com/benbjohnson/reil"
	"github.com/davecgh/go-spew/spew"
)

// RunCommand represents a command for executing a program with the concrete interpreter.
type RunCommand struct {
	Stdout io.Writer
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{Stdout: os.Stdout}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reil-run", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file")
	arch := fs.String("arch", "", "architecture")
	entry := fs.String("entry", "", "entry address")
	trace := fs.Bool("trace", false, "trace registers after every instruction")
	header := fs.Bool("trace-header", false, "write a header line before the trace")
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
	applyConfig(prog, cfg)
	if *arch != "" {
		prog.Arch = *arch
	}
	if *entry != "" {
		if prog.Entry, err = strconv.ParseUint(*entry, 0, 64); err != nil {
			return fmt.Errorf("invalid entry address: %q", *entry)
		}
	}
	log.Print(spew.Sdump(prog))

	instrs, err := prog.ParseInstructions()
	if err != nil {
		return err
	}

	i, err := prog.NewInterpreter()
	if err != nil {
		return err
	}

	var hook *reil.TraceHook
	if *trace || cfg.Interpreter.Trace {
		hook = reil.NewTraceHook(cmd.Stdout)
		hook.Header = *header
		i.Hook = hook
	}

	if err := i.Interpret(reil.GroupInstructions(instrs), prog.Entry); err != nil {
		return err
	} else if hook != nil && hook.Err() != nil {
		return hook.Err()
	}

	fmt.Fprint(cmd.Stdout, i.Dump())
	return nil
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: reil run [arguments] PROGRAM

Arguments:

	-config PATH
	    Read settings from a TOML config file.

	-arch NAME
	    Override the architecture of the program.

	-entry ADDR
	    Override the native entry address of the program.

	-trace
	    Print every register after each executed instruction.

	-trace-header
	    Precede the trace with a line naming its columns.

	-v
	    Enable verbose logging.
`[1:])
}
