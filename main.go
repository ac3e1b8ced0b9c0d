// ollaflow - streaming response pipeline for local LLMs.
//
// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ollaflow/ollaflow/internal/cli"
	"github.com/ollaflow/ollaflow/internal/config"
	"github.com/ollaflow/ollaflow/internal/memory"
	"github.com/ollaflow/ollaflow/internal/ollama"
	"github.com/ollaflow/ollaflow/internal/pipeline"
	"github.com/ollaflow/ollaflow/internal/prompt"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args, err := cli.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		cli.PrintUsage()
		os.Exit(2)
	}

	switch cmd {
	case cli.CmdVersion:
		cli.PrintVersion()
		return
	case cli.CmdHelp:
		cli.PrintUsage()
		return
	}

	app, err := newApp(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case cli.CmdChat:
		err = app.runChat(ctx)
	case cli.CmdAsk:
		err = app.runAsk(ctx, args)
	case cli.CmdBatch:
		err = app.runBatch(ctx, args)
	case cli.CmdModels:
		err = app.runModels(ctx)
	case cli.CmdPrompts:
		err = app.runPrompts(args)
	case cli.CmdStatus:
		err = app.runStatus(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   *ollama.Client
	registry *prompt.Registry
	watcher  *prompt.Watcher
	pipe     *pipeline.Pipeline
}

func newApp(args cli.Args) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if args.Model != "" {
		cfg.Server.DefaultModel = args.Model
	}

	level := cfg.Logging.Level
	if args.Verbose {
		level = "debug"
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, err
	}

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Server.BaseURL,
		Timeout:      time.Duration(cfg.Server.TimeoutSecs) * time.Second,
		DefaultModel: cfg.Server.DefaultModel,
	})

	promptsDir, err := cfg.PromptsDir()
	if err != nil {
		return nil, err
	}
	registry, err := prompt.NewRegistry(promptsDir)
	if err != nil {
		return nil, err
	}
	var watcher *prompt.Watcher
	if cfg.Prompts.Watch {
		watcher, err = prompt.NewWatcher(registry, 0, logger)
		if err != nil {
			logger.Warn("template watcher unavailable", zap.Error(err))
			watcher = nil
		} else if watchErr := watcher.Watch(); watchErr != nil {
			// Missing prompts dir is fine; templates just won't hot-reload.
			logger.Debug("template watch unavailable", zap.Error(watchErr))
			watcher.Close()
			watcher = nil
		}
	}

	var store *memory.Store
	if cfg.Memory.Enabled {
		store, err = memory.NewStore(memory.Config{
			Embedder:   client,
			Model:      cfg.Memory.Model,
			MaxRecords: cfg.Memory.MaxRecords,
		})
		if err != nil {
			return nil, err
		}
	}

	pipe, err := pipeline.New(pipeline.Config{
		Client:            client,
		Registry:          registry,
		Memory:            store,
		Logger:            logger,
		Model:             cfg.Server.DefaultModel,
		ContextBudget:     cfg.Pipeline.ContextBudget,
		FlushThreshold:    cfg.Pipeline.FlushThreshold,
		MaxConcurrent:     cfg.Pipeline.MaxConcurrent,
		RequestsPerSecond: cfg.Pipeline.RequestsPerSecond,
		Params: pipeline.Params{
			Temperature:   cfg.Params.Temperature,
			TopP:          cfg.Params.TopP,
			TopK:          cfg.Params.TopK,
			RepeatPenalty: cfg.Params.RepeatPenalty,
		},
		RememberContext: cfg.Pipeline.RememberContext,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		registry: registry,
		watcher:  watcher,
		pipe:     pipe,
	}, nil
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.logger.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

func (a *app) runChat(ctx context.Context) error {
	fmt.Printf("ollaflow %s - model %s (/clear resets context, /exit quits)\n",
		Version, a.cfg.Server.DefaultModel)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			a.pipe.ClearContext()
			fmt.Println("Context cleared.")
			continue
		}

		if err := a.streamPrompt(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func (a *app) runAsk(ctx context.Context, args cli.Args) error {
	userPrompt := args.Query
	if len(args.Templates) > 0 {
		combined, err := a.registry.Combine(args.Templates, args.Vars)
		if err != nil {
			return err
		}
		if userPrompt != "" {
			combined += "\n\n" + userPrompt
		}
		userPrompt = combined
	}

	if args.JSON {
		obj, ok, err := a.pipe.ChatStructured(ctx, userPrompt)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no JSON object found in the reply")
		}
		out, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	return a.streamPrompt(ctx, userPrompt)
}

// streamPrompt streams one prompt to stdout, one display unit per line.
func (a *app) streamPrompt(ctx context.Context, userPrompt string) error {
	units, err := a.pipe.ChatStream(ctx, userPrompt)
	if err != nil {
		return err
	}
	for unit := range units {
		if unit.Err != nil {
			return unit.Err
		}
		fmt.Println(unit.Text)
	}
	return nil
}

func (a *app) runBatch(ctx context.Context, args cli.Args) error {
	input := os.Stdin
	if args.File != "" {
		f, err := os.Open(args.File)
		if err != nil {
			return err
		}
		defer f.Close()
		input = f
	}

	var prompts []string
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(prompts) == 0 {
		return fmt.Errorf("no prompts to run")
	}

	results := a.pipe.BatchProcess(ctx, prompts)
	failures := 0
	for i, r := range results {
		fmt.Printf("--- [%d/%d] %s\n", i+1, len(results), r.Prompt)
		if r.Err != nil {
			failures++
			fmt.Printf("error: %v\n", r.Err)
			continue
		}
		fmt.Println(r.Content)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d prompts failed", failures, len(results))
	}
	return nil
}

func (a *app) runModels(ctx context.Context) error {
	models, err := a.client.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println("No models installed.")
		return nil
	}
	for _, m := range models {
		fmt.Printf("%-40s %10.1f GB\n", m.Name, float64(m.Size)/1e9)
	}
	return nil
}

func (a *app) runPrompts(args cli.Args) error {
	switch args.Subcommand {
	case "list":
		names := a.registry.List()
		if len(names) == 0 {
			fmt.Printf("No templates in %s\n", a.registry.Dir())
			return nil
		}
		for _, name := range names {
			tmpl, _ := a.registry.Get(name)
			fmt.Printf("%-20s %s\n", name, tmpl.Description)
		}
		return nil

	case "show":
		if len(args.Raw) == 0 {
			return fmt.Errorf("prompts show requires a template name")
		}
		tmpl, ok := a.registry.Get(args.Raw[0])
		if !ok {
			return fmt.Errorf("template %s not found", args.Raw[0])
		}
		fmt.Println(tmpl.Text)
		return nil

	default:
		return fmt.Errorf("unknown prompts subcommand %q", args.Subcommand)
	}
}

func (a *app) runStatus(ctx context.Context) error {
	if err := a.client.CheckRunning(ctx); err != nil {
		fmt.Printf("Server %s: not reachable\n", a.cfg.Server.BaseURL)
		return err
	}
	fmt.Printf("Server %s: running\n", a.cfg.Server.BaseURL)

	names, err := a.client.ListModelNames(ctx)
	if err == nil {
		fmt.Printf("Models: %s\n", strings.Join(names, ", "))
	}
	size, budget := a.pipe.ContextSize()
	fmt.Printf("Context: %d/%d\n", size, budget)
	return nil
}
