// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline ties the ollaflow components into one conversation
// surface.
//
// A Pipeline owns the Ollama client, the bounded conversation window,
// the template registry, and the recall store, and exposes the operations
// a caller actually wants: a blocking Chat, a streaming ChatStream that
// yields display-ready units, structured extraction on top of Chat, and
// concurrent BatchProcess for independent prompts.
package pipeline
