// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - command-line parsing for ollaflow.
package cli

import (
	"fmt"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdBatch
	CmdModels
	CmdPrompts
	CmdStatus
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Model   string
	Verbose bool
	JSON    bool

	// Command-specific
	Query      string
	File       string
	Subcommand string
	Templates  []string
	Vars       map[string]string

	// Raw args remaining after flag parsing
	Raw []string
}

const usageText = `ollaflow - streaming response pipeline for local LLMs

Ollaflow talks to a local Ollama server and turns its raw token stream
into clean, display-ready text. It manages the conversation window,
recovers structured JSON from replies, and fans batches of prompts out
concurrently.

Usage:
  ollaflow                    Interactive chat (default)
  ollaflow ask "question"     Ask a single question
  ollaflow batch [file]       Run prompts from a file (or stdin), one per line
  ollaflow models             List installed models
  ollaflow prompts [list|show name]  Prompt template management
  ollaflow status             Check server health
  ollaflow version            Show version

Flags:
  -m, --model NAME        Model to use
  -t, --template NAME     Prompt template (repeatable)
  --var KEY=VALUE         Template variable (repeatable)
  --json                  Extract a JSON object from the reply
  --verbose               Debug logging

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("ollaflow version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses argv (without the program name) and returns the command
// and args.
func Parse(argv []string) (Command, Args, error) {
	args := Args{Vars: make(map[string]string)}

	remaining, err := parseGlobalFlags(argv, &args)
	if err != nil {
		return CmdHelp, args, err
	}
	if len(remaining) == 0 {
		return CmdChat, args, nil
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	args.Raw = remaining

	switch cmd {
	case "chat":
		return CmdChat, args, nil

	case "ask":
		args.Query = strings.Join(remaining, " ")
		if args.Query == "" && len(args.Templates) == 0 {
			return CmdHelp, args, fmt.Errorf("ask requires a question")
		}
		return CmdAsk, args, nil

	case "batch":
		if len(remaining) > 0 {
			args.File = remaining[0]
		}
		return CmdBatch, args, nil

	case "models":
		return CmdModels, args, nil

	case "prompts", "prompt":
		if len(remaining) > 0 {
			args.Subcommand = remaining[0]
			args.Raw = remaining[1:]
		} else {
			args.Subcommand = "list"
		}
		return CmdPrompts, args, nil

	case "status", "s":
		return CmdStatus, args, nil

	case "version", "-v", "--version":
		return CmdVersion, args, nil

	case "help", "-h", "--help":
		return CmdHelp, args, nil

	default:
		// Bare words are an implicit ask.
		args.Query = strings.Join(append([]string{cmd}, remaining...), " ")
		return CmdAsk, args, nil
	}
}

// parseGlobalFlags consumes flags that apply to every command and returns
// the remaining positional arguments.
func parseGlobalFlags(argv []string, args *Args) ([]string, error) {
	var remaining []string
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch arg {
		case "-m", "--model":
			if i+1 >= len(argv) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			i++
			args.Model = argv[i]

		case "-t", "--template":
			if i+1 >= len(argv) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			i++
			args.Templates = append(args.Templates, argv[i])

		case "--var":
			if i+1 >= len(argv) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			i++
			key, value, ok := strings.Cut(argv[i], "=")
			if !ok {
				return nil, fmt.Errorf("variable must be KEY=VALUE, got %q", argv[i])
			}
			args.Vars[key] = value

		case "--json":
			args.JSON = true

		case "--verbose":
			args.Verbose = true

		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, nil
}
