// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ollaflow/ollaflow/internal/memory"
	"github.com/ollaflow/ollaflow/internal/ollama"
)

// newTestPipeline builds a pipeline against an httptest server.
func newTestPipeline(t *testing.T, handler http.Handler, mutate func(*Config)) *Pipeline {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      server.URL,
		DefaultModel: "test-model",
	})
	cfg := Config{
		Client:          client,
		RememberContext: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// chatHandler answers /api/chat with a fixed non-streaming reply.
func chatHandler(t *testing.T, reply string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "test-model",
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	})
}

// streamHandler answers /api/chat with NDJSON chunks.
func streamHandler(deltas []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for _, d := range deltas {
			enc.Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": d},
				"done":    false,
			})
		}
		enc.Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": ""},
			"done":    true,
		})
	})
}

func TestPipeline_Chat(t *testing.T) {
	p := newTestPipeline(t, chatHandler(t, "~~quoted~~ and <b>tagged</b>"), nil)

	reply, err := p.Chat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "〜〜quoted〜〜 and tagged" {
		t.Errorf("reply = %q", reply)
	}

	// The exchange landed in the window.
	if size, _ := p.ContextSize(); size == 0 {
		t.Error("window empty after Chat with RememberContext")
	}
}

func TestPipeline_ChatWithoutRemember(t *testing.T) {
	p := newTestPipeline(t, chatHandler(t, "reply"), func(cfg *Config) {
		cfg.RememberContext = false
	})

	if _, err := p.Chat(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if size, _ := p.ContextSize(); size != 0 {
		t.Errorf("window size = %d, want 0", size)
	}
}

func TestPipeline_ChatSendsWindowAndSystem(t *testing.T) {
	var got ollama.ChatRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "ok"},
			"done":    true,
		})
	})
	p := newTestPipeline(t, handler, func(cfg *Config) {
		cfg.System = "be brief"
	})

	ctx := context.Background()
	if _, err := p.Chat(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Chat(ctx, "second"); err != nil {
		t.Fatal(err)
	}

	// Second request: system, prior user/assistant pair, new prompt.
	if len(got.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(got.Messages))
	}
	if got.Messages[0].Role != ollama.RoleSystem || got.Messages[0].Content != "be brief" {
		t.Errorf("messages[0] = %+v", got.Messages[0])
	}
	if got.Messages[3].Content != "second" {
		t.Errorf("messages[3] = %+v", got.Messages[3])
	}
}

func TestPipeline_ChatStream(t *testing.T) {
	deltas := []string{"Line one", " continues.\n", "Line two."}
	p := newTestPipeline(t, streamHandler(deltas), nil)

	units, err := p.ChatStream(context.Background(), "go")
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var texts []string
	for unit := range units {
		if unit.Err != nil {
			t.Fatalf("unit error: %v", unit.Err)
		}
		texts = append(texts, unit.Text)
	}
	if len(texts) != 2 {
		t.Fatalf("units = %q, want 2", texts)
	}
	if texts[0] != "Line one continues." {
		t.Errorf("texts[0] = %q", texts[0])
	}
	if texts[1] != "Line two." {
		t.Errorf("texts[1] = %q", texts[1])
	}

	// The stream folded into the window like a blocking chat.
	if size, _ := p.ContextSize(); size == 0 {
		t.Error("window empty after ChatStream")
	}
}

func TestPipeline_ChatStructured(t *testing.T) {
	p := newTestPipeline(t, chatHandler(t, `Here you go: {"answer": 42}`), nil)

	obj, ok, err := p.ChatStructured(context.Background(), "give me json")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected an extracted object")
	}
	if obj["answer"] != float64(42) {
		t.Errorf("answer = %v", obj["answer"])
	}
}

func TestPipeline_ChatStructuredMiss(t *testing.T) {
	p := newTestPipeline(t, chatHandler(t, "no structure here"), nil)

	_, ok, err := p.ChatStructured(context.Background(), "give me json")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected a miss, not an object")
	}
}

func TestPipeline_BatchProcess(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		last := req.Messages[len(req.Messages)-1].Content
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "re: " + last},
			"done":    true,
		})
	})
	p := newTestPipeline(t, handler, func(cfg *Config) {
		cfg.MaxConcurrent = 2
	})

	prompts := []string{"a", "b", "c", "d"}
	results := p.BatchProcess(context.Background(), prompts)

	if len(results) != len(prompts) {
		t.Fatalf("results = %d, want %d", len(results), len(prompts))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("results[%d].Err = %v", i, r.Err)
		}
		if want := "re: " + prompts[i]; r.Content != want {
			t.Errorf("results[%d] = %q, want %q", i, r.Content, want)
		}
	}

	// Batch requests are stateless.
	if size, _ := p.ContextSize(); size != 0 {
		t.Errorf("window size = %d after batch, want 0", size)
	}
}

func TestPipeline_ClearContext(t *testing.T) {
	p := newTestPipeline(t, chatHandler(t, "reply"), nil)

	if _, err := p.Chat(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	before := p.SessionID()
	p.ClearContext()

	if size, _ := p.ContextSize(); size != 0 {
		t.Errorf("window size = %d after clear, want 0", size)
	}
	if p.SessionID() == before {
		t.Error("session ID unchanged after ClearContext")
	}
}

func TestPipeline_MemoryRecall(t *testing.T) {
	p := newTestPipeline(t, chatHandler(t, "the capital of France is Paris"), func(cfg *Config) {
		store, err := memory.NewStore(memory.Config{Embedder: constantEmbedder{}})
		if err != nil {
			t.Fatal(err)
		}
		cfg.Memory = store
	})

	ctx := context.Background()
	if _, err := p.Chat(ctx, "capital of France?"); err != nil {
		t.Fatal(err)
	}

	matches, err := p.Recall(ctx, "France", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if !strings.Contains(matches[0].Content, "Paris") {
		t.Errorf("recalled %q", matches[0].Content)
	}

	// ClearContext prunes the session's records.
	p.ClearContext()
	matches, _ = p.Recall(ctx, "France", 5)
	if len(matches) != 0 {
		t.Errorf("matches = %d after clear, want 0", len(matches))
	}
}

func TestPipeline_ConcurrentClearAndChat(t *testing.T) {
	p := newTestPipeline(t, chatHandler(t, "reply"), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := p.Chat(ctx, "hello"); err != nil {
					t.Errorf("Chat: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			p.ClearContext()
			if p.SessionID() == "" {
				t.Error("empty session ID")
				return
			}
		}
	}()
	wg.Wait()
}

func TestPipeline_RequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing client")
	}
}

func TestPipeline_ChatStreamRequestError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "model not found"}`)
	})
	p := newTestPipeline(t, handler, nil)

	if _, err := p.ChatStream(context.Background(), "go"); err == nil {
		t.Error("expected error for missing model")
	}
}

// constantEmbedder maps every text to the same vector so recall returns
// everything stored.
type constantEmbedder struct{}

func (constantEmbedder) GenerateEmbedding(context.Context, string, string) ([]float64, error) {
	return []float64{1, 0}, nil
}
