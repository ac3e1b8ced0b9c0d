// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EMBEDDER
// =============================================================================

// Embedder produces a vector for a piece of text. *ollama.Client
// satisfies this with GenerateEmbedding.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, model, text string) ([]float64, error)
}

// =============================================================================
// RECORDS
// =============================================================================

// Record is one remembered piece of text.
type Record struct {
	ID             string
	ConversationID string
	Content        string
	Metadata       map[string]string
	CreatedAt      time.Time

	embedding []float64
}

// Match pairs a retrieved record with its similarity to the query.
type Match struct {
	Record
	Similarity float64
}

// =============================================================================
// STORE
// =============================================================================

// DefaultMaxRecords bounds the store when no limit is configured.
const DefaultMaxRecords = 1024

// Config controls a Store.
type Config struct {
	// Embedder produces vectors for stored and queried text. Required.
	Embedder Embedder

	// Model is the embedding model name passed to the embedder.
	Model string

	// MaxRecords bounds the store. Zero or less selects
	// DefaultMaxRecords.
	MaxRecords int
}

// Store is an in-process vector store. It is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	records    []Record
	embedder   Embedder
	model      string
	maxRecords int
}

// NewStore creates a Store from cfg.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	max := cfg.MaxRecords
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &Store{
		embedder:   cfg.Embedder,
		model:      cfg.Model,
		maxRecords: max,
	}, nil
}

// Store embeds content and remembers it under conversationID. It returns
// the new record's ID.
func (s *Store) Store(ctx context.Context, conversationID, content string, metadata map[string]string) (string, error) {
	vec, err := s.embedder.GenerateEmbedding(ctx, s.model, content)
	if err != nil {
		return "", fmt.Errorf("failed to embed content: %w", err)
	}

	rec := Record{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
		embedding:      vec,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	for len(s.records) > s.maxRecords {
		s.records = s.records[1:]
	}
	return rec.ID, nil
}

// Retrieve embeds the query and returns up to limit records ordered by
// descending cosine similarity. A non-empty conversationID restricts the
// search to that conversation.
func (s *Store) Retrieve(ctx context.Context, conversationID, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	qvec, err := s.embedder.GenerateEmbedding(ctx, s.model, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.mu.Lock()
	matches := make([]Match, 0, len(s.records))
	for _, rec := range s.records {
		if conversationID != "" && rec.ConversationID != conversationID {
			continue
		}
		matches = append(matches, Match{
			Record:     rec,
			Similarity: cosineSimilarity(qvec, rec.embedding),
		})
	}
	s.mu.Unlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Prune drops every record belonging to conversationID and returns the
// number removed.
func (s *Store) Prune(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if rec.ConversationID == conversationID {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// =============================================================================
// SIMILARITY
// =============================================================================

// cosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
