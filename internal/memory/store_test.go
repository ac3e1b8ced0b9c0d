// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"errors"
	"testing"
)

// fakeEmbedder returns fixed vectors per text so similarity is
// deterministic.
type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, _ string, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float64{0, 0, 1}, nil
}

func newTestStore(t *testing.T, maxRecords int, vectors map[string][]float64) *Store {
	t.Helper()
	s, err := NewStore(Config{
		Embedder:   &fakeEmbedder{vectors: vectors},
		Model:      "nomic-embed-text",
		MaxRecords: maxRecords,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStore_RetrieveOrdersBySimilarity(t *testing.T) {
	vectors := map[string][]float64{
		"cats are great":    {1, 0, 0},
		"dogs are loyal":    {0.9, 0.1, 0},
		"stocks went down":  {0, 1, 0},
		"tell me about cats": {1, 0, 0},
	}
	s := newTestStore(t, 0, vectors)
	ctx := context.Background()

	for _, content := range []string{"cats are great", "dogs are loyal", "stocks went down"} {
		if _, err := s.Store(ctx, "conv-1", content, nil); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	matches, err := s.Retrieve(ctx, "conv-1", "tell me about cats", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len = %d, want 2", len(matches))
	}
	if matches[0].Content != "cats are great" {
		t.Errorf("matches[0] = %q, want the identical vector first", matches[0].Content)
	}
	if matches[1].Content != "dogs are loyal" {
		t.Errorf("matches[1] = %q", matches[1].Content)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Error("similarities out of order")
	}
}

func TestStore_ConversationFilter(t *testing.T) {
	s := newTestStore(t, 0, nil)
	ctx := context.Background()

	s.Store(ctx, "conv-a", "alpha", nil)
	s.Store(ctx, "conv-b", "beta", nil)

	matches, err := s.Retrieve(ctx, "conv-a", "query", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Content != "alpha" {
		t.Errorf("matches = %v, want only conv-a records", matches)
	}

	// Empty conversation ID searches everything.
	all, err := s.Retrieve(ctx, "", "query", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered len = %d, want 2", len(all))
	}
}

func TestStore_EvictsOldestWhenFull(t *testing.T) {
	s := newTestStore(t, 2, nil)
	ctx := context.Background()

	s.Store(ctx, "c", "first", nil)
	s.Store(ctx, "c", "second", nil)
	s.Store(ctx, "c", "third", nil)

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	matches, _ := s.Retrieve(ctx, "c", "query", 10)
	for _, m := range matches {
		if m.Content == "first" {
			t.Error("oldest record survived eviction")
		}
	}
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t, 0, nil)
	ctx := context.Background()

	s.Store(ctx, "keep", "a", nil)
	s.Store(ctx, "drop", "b", nil)
	s.Store(ctx, "drop", "c", nil)

	if removed := s.Prune("drop"); removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d after Prune, want 1", s.Len())
	}
}

func TestStore_EmbedderErrorPropagates(t *testing.T) {
	boom := errors.New("embedding backend down")
	s, err := NewStore(Config{Embedder: &fakeEmbedder{err: boom}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Store(context.Background(), "c", "text", nil); !errors.Is(err, boom) {
		t.Errorf("Store err = %v, want wrapped boom", err)
	}
	if _, err := s.Retrieve(context.Background(), "c", "q", 1); !errors.Is(err, boom) {
		t.Errorf("Retrieve err = %v, want wrapped boom", err)
	}
}

func TestStore_RequiresEmbedder(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Error("expected error for missing embedder")
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		a, b []float64
		want float64
	}{
		{[]float64{1, 0}, []float64{1, 0}, 1},
		{[]float64{1, 0}, []float64{0, 1}, 0},
		{[]float64{1, 0}, []float64{-1, 0}, -1},
		{[]float64{1, 0}, []float64{0, 0}, 0},
		{[]float64{1, 0}, []float64{1, 0, 0}, 0},
	}
	for _, tc := range cases {
		if got := cosineSimilarity(tc.a, tc.b); got != tc.want {
			t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
