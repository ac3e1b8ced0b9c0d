// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns raw generated text into display-ready output.
package render

import (
	"regexp"
	"strings"
)

// =============================================================================
// MARKDOWN NORMALIZATION
// =============================================================================

var (
	// fenceRE matches a fenced code block with an optional language tag.
	fenceRE = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")

	// boldRE matches a bold emphasis run.
	boldRE = regexp.MustCompile(`\*\*(.*?)\*\*`)

	// italicRE matches a candidate italic run on a single line. Runs that
	// border another asterisk belong to a bold marker and are skipped by
	// normalizeItalics.
	italicRE = regexp.MustCompile(`\*[^\n*]+\*`)
)

// Normalize re-renders fenced code blocks and emphasis markers to
// canonical form. It is idempotent: applying it twice yields the same
// result as applying it once.
func Normalize(text string) string {
	text = fenceRE.ReplaceAllStringFunc(text, func(m string) string {
		sub := fenceRE.FindStringSubmatch(m)
		lang, body := sub[1], strings.TrimSpace(sub[2])
		return "```" + lang + "\n" + body + "\n```"
	})

	text = boldRE.ReplaceAllString(text, "**$1**")
	text = normalizeItalics(text)

	return strings.TrimSpace(text)
}

// normalizeItalics re-renders single-asterisk italic runs, explicitly
// excluding runs adjacent to another asterisk so bold markers are left
// intact.
func normalizeItalics(text string) string {
	matches := italicRE.FindAllStringIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 && text[start-1] == '*' {
			continue
		}
		if end < len(text) && text[end] == '*' {
			continue
		}
		inner := text[start+1 : end-1]
		b.WriteString(text[last:start])
		b.WriteString("*" + inner + "*")
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}
