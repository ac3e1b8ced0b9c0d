// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory provides a small in-process vector store for
// conversation recall.
//
// Each stored record carries an embedding produced by the configured
// Embedder. Retrieval embeds the query and returns the most similar
// records by cosine similarity, optionally filtered to one conversation.
// The store is bounded: when full, the oldest record is evicted.
package memory
