// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package extract recovers structured data from free-form generated text.
//
// Generated text is unreliable: the model may wrap a JSON object in prose,
// code fences, or double-escape it. Extraction runs an ordered list of
// pure strategies over the text and returns the first object that parses.
// A miss is a normal outcome, reported as an absent value, never an error.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// =============================================================================
// STRATEGY LIST
// =============================================================================

// Strategy attempts to recover a JSON object from text. It reports
// (nil, false) on a miss.
type Strategy func(text string) (map[string]any, bool)

// strategies are tried in order; first success wins.
var strategies = []Strategy{
	parseWhole,
	parseBraceSpan,
	parseUnescapedBraceSpan,
	parseFlattenedBraceSpan,
}

// Extract attempts to recover an embedded JSON object from text.
// It reports (nil, false) when no strategy succeeds.
func Extract(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	for _, try := range strategies {
		if obj, ok := try(text); ok {
			return obj, true
		}
	}
	return nil, false
}

// =============================================================================
// STRATEGIES
// =============================================================================

// parseWhole parses the trimmed text directly.
func parseWhole(text string) (map[string]any, bool) {
	return parseObject(text)
}

// parseBraceSpan parses the substring between the first '{' and the last
// '}', inclusive.
func parseBraceSpan(text string) (map[string]any, bool) {
	span, ok := braceSpan(text)
	if !ok {
		return nil, false
	}
	return parseObject(span)
}

// parseUnescapedBraceSpan retries the brace span after interpreting its
// escape sequences literally, recovering double-escaped payloads.
func parseUnescapedBraceSpan(text string) (map[string]any, bool) {
	span, ok := braceSpan(text)
	if !ok {
		return nil, false
	}
	return parseObject(unescape(span))
}

// parseFlattenedBraceSpan retries the brace span with every carriage
// return and line feed removed.
func parseFlattenedBraceSpan(text string) (map[string]any, bool) {
	span, ok := braceSpan(text)
	if !ok {
		return nil, false
	}
	flat := strings.NewReplacer("\n", "", "\r", "").Replace(span)
	return parseObject(flat)
}

// =============================================================================
// HELPERS
// =============================================================================

// parseObject unmarshals text into a JSON object. Non-object JSON values
// (arrays, scalars) are misses.
func parseObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	if obj == nil {
		return nil, false
	}
	return obj, true
}

// braceSpan returns the substring between the first '{' and the last '}',
// inclusive. Reports false when no such span exists.
func braceSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// unescape interprets backslash escape sequences literally, turning a
// double-escaped payload back into plain text. Unknown sequences are kept
// as-is.
func unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case '\\':
			b.WriteByte('\\')
		case '/':
			b.WriteByte('/')
		case 'u':
			if i+4 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
			b.WriteByte('\\')
			b.WriteByte('u')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
