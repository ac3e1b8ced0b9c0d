// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns raw generated text into display-ready output.
package render

import (
	"regexp"
	"strings"
)

// =============================================================================
// CLEANING
// =============================================================================

var (
	// thinkBlockRE matches a complete reasoning block, non-greedy, spanning
	// newlines, with surrounding whitespace folded into the match.
	thinkBlockRE = regexp.MustCompile(`(?s)<think>\s*(.*?)\s*</think>`)

	// tagRE matches any markup tag. Which tags survive is decided in the
	// replacement function, since RE2 has no lookahead.
	tagRE = regexp.MustCompile(`<[^>]+>`)
)

// Clean removes control markup embedded in generated text.
//
// Literal double tildes are replaced with full-width ones so downstream
// markdown rendering does not interpret them as strikethrough. Reasoning
// blocks are rewritten as preformatted containers with each interior line
// trimmed. Every other tag is stripped; only the container tags produced
// here survive.
//
// Clean assumes well-formed input: a reasoning block whose end tag has not
// arrived yet must be held back by the Assembler, not passed here.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "~~", "〜〜")

	text = thinkBlockRE.ReplaceAllStringFunc(text, func(m string) string {
		inner := thinkBlockRE.FindStringSubmatch(m)[1]
		return formatReasoning(inner)
	})

	text = tagRE.ReplaceAllStringFunc(text, func(tag string) string {
		if tag == "<pre>" || tag == "</pre>" {
			return tag
		}
		return ""
	})

	return strings.TrimSpace(text)
}

// formatReasoning rewrites the interior of a reasoning block as a
// preformatted container: each non-blank line trimmed, rejoined with
// line breaks.
func formatReasoning(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return "\n<pre>\n" + strings.Join(lines, "\n") + "\n</pre>\n"
}
