// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ollaflow/ollaflow/internal/batch"
	"github.com/ollaflow/ollaflow/internal/extract"
	"github.com/ollaflow/ollaflow/internal/history"
	"github.com/ollaflow/ollaflow/internal/memory"
	"github.com/ollaflow/ollaflow/internal/ollama"
	"github.com/ollaflow/ollaflow/internal/prompt"
	"github.com/ollaflow/ollaflow/internal/render"
	"github.com/ollaflow/ollaflow/internal/util"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Params holds sampling parameters applied to every request.
type Params struct {
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
}

// recallLimit caps how many remembered exchanges augment one request.
const recallLimit = 3

// DefaultParams returns the standard sampling parameters.
func DefaultParams() Params {
	return Params{
		Temperature:   0.7,
		TopP:          0.9,
		TopK:          40,
		RepeatPenalty: 1.1,
	}
}

// Config assembles a Pipeline.
type Config struct {
	// Client performs requests. Required.
	Client *ollama.Client

	// Registry resolves named prompt templates. Optional.
	Registry *prompt.Registry

	// Memory stores and recalls past exchanges. Optional.
	Memory *memory.Store

	// Logger receives pipeline progress. Nil disables logging.
	Logger *zap.Logger

	// Model names the generation model. Empty defers to the client's
	// default.
	Model string

	// System is prepended to every conversation. Optional.
	System string

	// ContextBudget bounds the conversation window.
	ContextBudget int

	// FlushThreshold is passed to the stream assembler.
	FlushThreshold int

	// MaxConcurrent caps in-flight batch requests.
	MaxConcurrent int

	// RequestsPerSecond caps batch request starts. Zero disables the cap.
	RequestsPerSecond float64

	// Params are the sampling parameters. Zero value selects
	// DefaultParams.
	Params Params

	// RememberContext folds each exchange back into the window.
	RememberContext bool
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline is a stateful conversation over one model. It is safe for
// concurrent use, though interleaved Chat calls share one window.
type Pipeline struct {
	client     *ollama.Client
	registry   *prompt.Registry
	memory     *memory.Store
	logger     *zap.Logger
	model      string
	system     string
	window     *history.Window
	dispatcher *batch.Dispatcher
	params     Params
	threshold  int
	remember   bool

	// sessionMu guards sessionID, which ClearContext swaps while other
	// calls may be reading it.
	sessionMu sync.RWMutex
	sessionID string
}

// New creates a Pipeline from cfg.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	params := cfg.Params
	if params == (Params{}) {
		params = DefaultParams()
	}

	return &Pipeline{
		client:   cfg.Client,
		registry: cfg.Registry,
		memory:   cfg.Memory,
		logger:   logger,
		model:    cfg.Model,
		system:   cfg.System,
		window:   history.NewWindow(cfg.ContextBudget),
		dispatcher: batch.NewDispatcher(batch.Config{
			MaxConcurrent:     cfg.MaxConcurrent,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Logger:            logger,
		}),
		params:    params,
		threshold: cfg.FlushThreshold,
		remember:  cfg.RememberContext,
		sessionID: uuid.NewString(),
	}, nil
}

// SessionID identifies the current conversation. It changes on
// ClearContext.
func (p *Pipeline) SessionID() string {
	p.sessionMu.RLock()
	defer p.sessionMu.RUnlock()
	return p.sessionID
}

// options converts the sampling parameters to request options.
func (p *Pipeline) options() *ollama.Options {
	return &ollama.Options{
		Temperature:   p.params.Temperature,
		TopP:          p.params.TopP,
		TopK:          p.params.TopK,
		RepeatPenalty: p.params.RepeatPenalty,
	}
}

// messages builds the request message list: system, recalled context,
// window contents, then the new user prompt.
func (p *Pipeline) messages(ctx context.Context, userPrompt string) []ollama.Message {
	var msgs []ollama.Message
	if p.system != "" {
		msgs = append(msgs, ollama.NewSystemMessage(p.system))
	}
	if recalled := p.recallContext(ctx, userPrompt); recalled != "" {
		msgs = append(msgs, ollama.NewSystemMessage(recalled))
	}
	msgs = append(msgs, p.window.Messages()...)
	return append(msgs, ollama.NewUserMessage(userPrompt))
}

// recallContext retrieves past exchanges similar to the prompt and folds
// them into one system message. Recall failures degrade to no context.
func (p *Pipeline) recallContext(ctx context.Context, userPrompt string) string {
	if p.memory == nil {
		return ""
	}
	matches, err := p.memory.Retrieve(ctx, p.SessionID(), userPrompt, recallLimit)
	if err != nil {
		p.logger.Warn("memory retrieval failed", zap.Error(err))
		return ""
	}
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant context from earlier in this conversation:")
	for _, m := range matches {
		b.WriteString("\n- ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// =============================================================================
// CHAT
// =============================================================================

// Chat sends one prompt and returns the cleaned, normalized reply. When
// RememberContext is set, the exchange is folded into the window and the
// recall store.
func (p *Pipeline) Chat(ctx context.Context, userPrompt string) (string, error) {
	resp, err := p.client.Chat(ctx, p.model, p.messages(ctx, userPrompt), p.options())
	if err != nil {
		return "", err
	}

	reply := render.Normalize(render.Clean(resp.Message.Content))
	p.logger.Debug("chat complete",
		zap.String("session", p.SessionID()),
		zap.String("reply", util.TruncateRunes(reply, 80)))

	p.recordExchange(ctx, userPrompt, reply)
	return reply, nil
}

// ChatTemplate renders the named templates with vars and sends the result
// through Chat.
func (p *Pipeline) ChatTemplate(ctx context.Context, names []string, vars map[string]string) (string, error) {
	if p.registry == nil {
		return "", fmt.Errorf("no template registry configured")
	}
	userPrompt, err := p.registry.Combine(names, vars)
	if err != nil {
		return "", err
	}
	return p.Chat(ctx, userPrompt)
}

// ChatStructured sends one prompt and attempts to recover a JSON object
// from the reply. The bool reports whether an object was found; a miss is
// not an error.
func (p *Pipeline) ChatStructured(ctx context.Context, userPrompt string) (map[string]any, bool, error) {
	reply, err := p.Chat(ctx, userPrompt)
	if err != nil {
		return nil, false, err
	}
	obj, ok := extract.Extract(reply)
	return obj, ok, nil
}

// recordExchange folds a completed exchange into the window and the
// recall store.
func (p *Pipeline) recordExchange(ctx context.Context, userPrompt, reply string) {
	if !p.remember {
		return
	}
	p.window.AppendExchange(userPrompt, reply)
	if p.memory == nil {
		return
	}
	text := "User: " + userPrompt + "\nAssistant: " + reply
	if _, err := p.memory.Store(ctx, p.SessionID(), text, nil); err != nil {
		p.logger.Warn("failed to store exchange", zap.Error(err))
	}
}

// =============================================================================
// STREAMING
// =============================================================================

// Unit is one streamed item: either a display-ready text unit or a
// terminal error. After a Unit with a non-nil Err, the channel closes.
type Unit struct {
	Text string
	Err  error
}

// ChatStream sends one prompt and streams display-ready units. Units
// assembled before a mid-stream failure are delivered, then the failure
// arrives as the final Unit. The channel closes when the stream ends.
func (p *Pipeline) ChatStream(ctx context.Context, userPrompt string) (<-chan Unit, error) {
	stream, err := p.client.ChatStream(ctx, p.model, p.messages(ctx, userPrompt), p.options())
	if err != nil {
		return nil, err
	}

	units := make(chan Unit)
	go func() {
		defer close(units)
		defer stream.Close()

		asm := render.NewAssembler(render.Config{FlushThreshold: p.threshold})
		for {
			event, err := stream.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				// Flush what assembled cleanly before reporting.
				if text, ok := asm.Finish(); ok {
					units <- Unit{Text: text}
				}
				units <- Unit{Err: err}
				return
			}
			if text, ok := asm.Feed(event.Delta); ok {
				units <- Unit{Text: text}
			}
		}

		if text, ok := asm.Finish(); ok {
			units <- Unit{Text: text}
		}

		reply := render.Normalize(render.Clean(stream.Accumulated()))
		p.logger.Debug("stream complete",
			zap.String("session", p.SessionID()),
			zap.Int("bytes", len(reply)))
		p.recordExchange(ctx, userPrompt, reply)
	}()
	return units, nil
}

// =============================================================================
// BATCH
// =============================================================================

// BatchProcess runs independent prompts concurrently. Each request is
// stateless: the shared window is not consulted or updated. Results come
// back in input order.
func (p *Pipeline) BatchProcess(ctx context.Context, prompts []string) []batch.Result {
	return p.dispatcher.Dispatch(ctx, prompts, func(ctx context.Context, userPrompt string) (string, error) {
		var msgs []ollama.Message
		if p.system != "" {
			msgs = append(msgs, ollama.NewSystemMessage(p.system))
		}
		msgs = append(msgs, ollama.NewUserMessage(userPrompt))

		resp, err := p.client.Chat(ctx, p.model, msgs, p.options())
		if err != nil {
			return "", err
		}
		return render.Normalize(render.Clean(resp.Message.Content)), nil
	})
}

// =============================================================================
// RECALL AND CONTEXT
// =============================================================================

// Recall returns past exchanges from the current session most similar to
// query. It returns nil when no recall store is configured.
func (p *Pipeline) Recall(ctx context.Context, query string, limit int) ([]memory.Match, error) {
	if p.memory == nil {
		return nil, nil
	}
	return p.memory.Retrieve(ctx, p.SessionID(), query, limit)
}

// ClearContext drops the conversation window, prunes the session's
// recall records, and starts a fresh session.
func (p *Pipeline) ClearContext() {
	p.sessionMu.Lock()
	old := p.sessionID
	p.sessionID = uuid.NewString()
	fresh := p.sessionID
	p.sessionMu.Unlock()

	p.window.Clear()
	if p.memory != nil {
		p.memory.Prune(old)
	}
	p.logger.Debug("context cleared",
		zap.String("old_session", old),
		zap.String("session", fresh))
}

// ContextSize reports the window's current measured size and budget.
func (p *Pipeline) ContextSize() (size, budget int) {
	return p.window.Size(), p.window.Budget()
}
