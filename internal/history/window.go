// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"sync"

	"github.com/ollaflow/ollaflow/internal/ollama"
)

// =============================================================================
// SIZE MEASUREMENT
// =============================================================================

// SizeFunc measures the cost of one message against the window budget.
type SizeFunc func(ollama.Message) int

// DefaultSize approximates the serialized length of a message: role plus
// content plus a small per-message framing overhead.
func DefaultSize(m ollama.Message) int {
	return len(m.Role) + len(m.Content) + 4
}

// =============================================================================
// WINDOW
// =============================================================================

// DefaultBudget is the window budget used when none is configured.
const DefaultBudget = 8192

// Window is a bounded, ordered conversation history. It is safe for
// concurrent use.
type Window struct {
	mu     sync.Mutex
	msgs   []ollama.Message
	budget int
	size   SizeFunc
}

// Option configures a Window.
type Option func(*Window)

// WithSizeFunc replaces the default size measurement.
func WithSizeFunc(fn SizeFunc) Option {
	return func(w *Window) {
		if fn != nil {
			w.size = fn
		}
	}
}

// NewWindow creates a Window with the given budget. A budget of zero or
// less selects DefaultBudget.
func NewWindow(budget int, opts ...Option) *Window {
	if budget <= 0 {
		budget = DefaultBudget
	}
	w := &Window{
		budget: budget,
		size:   DefaultSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append adds a message to the end of the window and evicts from the
// front until the window fits the budget again.
func (w *Window) Append(m ollama.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, m)
	w.enforceLocked()
}

// AppendExchange adds a user/assistant pair in one step, evicting once
// after both messages are in place.
func (w *Window) AppendExchange(prompt, reply string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs,
		ollama.NewUserMessage(prompt),
		ollama.NewAssistantMessage(reply),
	)
	w.enforceLocked()
}

// enforceLocked pops the oldest message while the window is over budget
// and more than one message remains. Callers must hold w.mu.
func (w *Window) enforceLocked() {
	for w.totalLocked() > w.budget && len(w.msgs) > 1 {
		w.msgs = w.msgs[1:]
	}
}

func (w *Window) totalLocked() int {
	total := 0
	for _, m := range w.msgs {
		total += w.size(m)
	}
	return total
}

// Messages returns a copy of the window contents in order.
func (w *Window) Messages() []ollama.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ollama.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// Len returns the number of messages currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

// Size returns the current measured size of the window.
func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalLocked()
}

// Budget returns the configured budget.
func (w *Window) Budget() int {
	return w.budget
}

// Clear drops all messages.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = nil
}
