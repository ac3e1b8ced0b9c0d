// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns raw generated text into display-ready output.
package render

import "strings"

// =============================================================================
// ASSEMBLER STATE
// =============================================================================

// State describes where the Assembler is in its lifecycle.
type State int

const (
	// StateAccumulating means the assembler is collecting deltas.
	StateAccumulating State = iota
	// StateDone means the stream has ended and the final flush has run.
	StateDone
)

// DefaultFlushThreshold is the buffer length beyond which a flush is
// triggered even without a newline. The value is a tuning choice, not an
// invariant; override it through Config.
const DefaultFlushThreshold = 80

// =============================================================================
// ASSEMBLER
// =============================================================================

// Config holds configuration for the Assembler.
type Config struct {
	// FlushThreshold is the buffer length that triggers a flush in the
	// absence of a newline (default: DefaultFlushThreshold).
	FlushThreshold int
}

// Assembler owns an accumulation buffer for the lifetime of one streaming
// call. It appends deltas chunk by chunk and flushes a cleaned, normalized
// display unit whenever the buffer holds a newline or grows past the
// configured threshold. A buffer holding an opened-but-unclosed reasoning
// block is never flushed, so the block reaches Clean in one piece.
type Assembler struct {
	buf       strings.Builder
	threshold int
	state     State
}

// NewAssembler creates an assembler with the given configuration.
func NewAssembler(cfg Config) *Assembler {
	threshold := cfg.FlushThreshold
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &Assembler{threshold: threshold}
}

// State returns the assembler's current lifecycle state.
func (a *Assembler) State() State {
	return a.state
}

// Feed appends a delta to the accumulation buffer and returns a display
// unit if the flush trigger fired, or ("", false) otherwise. Feeding a
// finished assembler is a no-op.
func (a *Assembler) Feed(delta string) (string, bool) {
	if a.state == StateDone || delta == "" {
		return "", false
	}

	a.buf.WriteString(delta)

	if !a.shouldFlush() {
		return "", false
	}
	return a.flush()
}

// Finish runs the final flush without requiring the newline or length
// trigger and transitions the assembler to StateDone. It returns the last
// display unit, if the leftover buffer cleans to something non-blank.
func (a *Assembler) Finish() (string, bool) {
	if a.state == StateDone {
		return "", false
	}
	a.state = StateDone

	if a.buf.Len() == 0 {
		return "", false
	}
	return a.flush()
}

// =============================================================================
// FLUSH LOGIC
// =============================================================================

// shouldFlush reports whether the buffer has accumulated enough to emit.
// An unterminated reasoning block always holds the flush back.
func (a *Assembler) shouldFlush() bool {
	content := a.buf.String()
	if hasOpenReasoning(content) {
		return false
	}
	return strings.Contains(content, "\n") || len(content) > a.threshold
}

// flush cleans and normalizes the whole buffer, emitting the result when
// it is non-blank. The buffer is cleared regardless, so whitespace-only
// chunks cannot grow it without bound.
func (a *Assembler) flush() (string, bool) {
	unit := Normalize(Clean(a.buf.String()))
	a.buf.Reset()

	if strings.TrimSpace(unit) == "" {
		return "", false
	}
	return unit, true
}

// hasOpenReasoning reports whether the text contains a reasoning start tag
// without a matching end tag after it.
func hasOpenReasoning(text string) bool {
	lastOpen := strings.LastIndex(text, "<think>")
	if lastOpen < 0 {
		return false
	}
	lastClose := strings.LastIndex(text, "</think>")
	return lastClose < lastOpen
}
