package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "run":
		return NewRunCommand().Run(ctx, args)
	case "analyze":
		return NewAnalyzeCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`reil %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Reil is a tool for interpreting and analyzing REIL programs.

Usage:

	reil <command> [arguments]

The commands are:

	run         execute a program with the concrete interpreter
	analyze     compute symbolic register & memory values
	help        this screen
`[1:])
}
