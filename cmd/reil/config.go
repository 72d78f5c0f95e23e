package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/benbjohnson/reil"
)

// Config represents the settings shared by all commands. It is read from an
// optional TOML file:
//
//	[interpreter]
//	arch = "x86-64"
//	endian = "little"
//	entry = 0x1000
//	trace = true
//
//	[analysis]
//	max_iterations = 5000
//	seed_registers = ["rdi", "rsi"]
type Config struct {
	Interpreter InterpreterConfig `toml:"interpreter"`
	Analysis    AnalysisConfig    `toml:"analysis"`
}

type InterpreterConfig struct {
	Arch   string  `toml:"arch"`
	Endian string  `toml:"endian"`
	Entry  *uint64 `toml:"entry"`
	Trace  bool    `toml:"trace"`
}

type AnalysisConfig struct {
	MaxIterations int      `toml:"max_iterations"`
	SeedRegisters []string `toml:"seed_registers"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Interpreter: InterpreterConfig{
			Arch:   "x86",
			Endian: "little",
		},
		Analysis: AnalysisConfig{
			MaxIterations: reil.DefaultMaxIterations,
		},
	}
}

// ReadConfigFile reads a TOML config file and merges it over the defaults.
// Keys missing from the file keep their default values.
func ReadConfigFile(path string) (Config, error) {
	var other Config
	meta, err := toml.DecodeFile(path, &other)
	if err != nil {
		return Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return Config{}, fmt.Errorf("%s: unknown config keys: %s", path, strings.Join(keys, ", "))
	}
	return mergeConfig(DefaultConfig(), other, meta), nil
}

// mergeConfig overrides fields of cfg with the fields defined in other.
func mergeConfig(cfg, other Config, meta toml.MetaData) Config {
	if meta.IsDefined("interpreter", "arch") {
		cfg.Interpreter.Arch = other.Interpreter.Arch
	}
	if meta.IsDefined("interpreter", "endian") {
		cfg.Interpreter.Endian = other.Interpreter.Endian
	}
	if meta.IsDefined("interpreter", "entry") {
		cfg.Interpreter.Entry = other.Interpreter.Entry
	}
	if meta.IsDefined("interpreter", "trace") {
		cfg.Interpreter.Trace = other.Interpreter.Trace
	}
	if meta.IsDefined("analysis", "max_iterations") {
		cfg.Analysis.MaxIterations = other.Analysis.MaxIterations
	}
	if meta.IsDefined("analysis", "seed_registers") {
		cfg.Analysis.SeedRegisters = other.Analysis.SeedRegisters
	}
	return cfg
}

// loadConfig returns the defaults if path is blank.
func loadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return ReadConfigFile(path)
}

// applyConfig fills program settings that the document leaves blank.
func applyConfig(prog *reil.Program, cfg Config) {
	if prog.Arch == "" {
		prog.Arch = cfg.Interpreter.Arch
	}
	if prog.Endian == "" {
		prog.Endian = cfg.Interpreter.Endian
	}
	if prog.Entry == 0 && cfg.Interpreter.Entry != nil {
		prog.Entry = *cfg.Interpreter.Entry
	}
}
