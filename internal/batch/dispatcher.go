// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package batch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// DefaultMaxConcurrent is the in-flight ceiling used when none is set.
const DefaultMaxConcurrent = 3

// Config controls a Dispatcher.
type Config struct {
	// MaxConcurrent caps in-flight requests. Zero or less selects
	// DefaultMaxConcurrent.
	MaxConcurrent int

	// RequestsPerSecond caps request starts. Zero disables the cap.
	RequestsPerSecond float64

	// Logger receives per-prompt progress. Nil disables logging.
	Logger *zap.Logger
}

// Requester performs one request for one prompt.
type Requester func(ctx context.Context, prompt string) (string, error)

// Result is the outcome for one prompt. Content and Err mirror the
// requester's return values; exactly one of them is meaningful.
type Result struct {
	Prompt  string
	Content string
	Err     error
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher runs batches of prompts against a requester.
type Dispatcher struct {
	maxConcurrent int
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// NewDispatcher creates a Dispatcher from cfg, filling defaults for
// zero-value fields.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		maxConcurrent: cfg.MaxConcurrent,
		logger:        cfg.Logger,
	}
	if d.maxConcurrent <= 0 {
		d.maxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Dispatch runs every prompt through fn with at most the configured number
// in flight at once. The returned slice has one Result per prompt, in
// input order. Prompts not yet started when ctx is cancelled report
// ctx.Err().
func (d *Dispatcher) Dispatch(ctx context.Context, prompts []string, fn Requester) []Result {
	results := make([]Result, len(prompts))
	if len(prompts) == 0 {
		return results
	}

	sem := make(chan struct{}, d.maxConcurrent)
	var wg sync.WaitGroup

	for i, prompt := range prompts {
		results[i].Prompt = prompt

		if err := d.admit(ctx); err != nil {
			results[i].Err = err
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i].Err = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, prompt string) {
			defer wg.Done()
			defer func() { <-sem }()

			content, err := fn(ctx, prompt)
			results[i].Content = content
			results[i].Err = err
			if err != nil {
				d.logger.Warn("batch request failed",
					zap.Int("index", i),
					zap.Error(err))
			} else {
				d.logger.Debug("batch request done",
					zap.Int("index", i),
					zap.Int("bytes", len(content)))
			}
		}(i, prompt)
	}

	wg.Wait()
	return results
}

// admit blocks until the rate limiter grants a start slot, or the context
// is cancelled.
func (d *Dispatcher) admit(ctx context.Context) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		return nil
	}
	return ctx.Err()
}
