// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns raw generated text into display-ready output.
//
// Three layers cooperate:
//
//   - Clean removes control markup from generated text, rewriting the
//     model's reasoning block as a preformatted container and stripping
//     every other tag.
//   - Normalize re-renders fenced code blocks and emphasis markers to
//     canonical markdown form. It is idempotent.
//   - Assembler buffers streaming deltas and decides, chunk by chunk,
//     when enough text has accumulated to flush a cleaned display unit.
//
// Clean and Normalize are pure functions. The Assembler owns its
// accumulation buffer for the lifetime of one streaming call and emits
// display units in strict order; the caller reconstructs the full
// response by concatenating them.
package render
