// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// TEST SERVER
// =============================================================================

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClientWithConfig(&ClientConfig{
		BaseURL:      srv.URL,
		DefaultModel: "llama3",
	})
	return client, srv
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestClient_Generate(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("Generate must not request streaming")
		}
		if req.Prompt != "hello" || req.System != "be brief" {
			t.Errorf("prompt = %q, system = %q", req.Prompt, req.System)
		}
		json.NewEncoder(w).Encode(GenerateResponse{Response: "hi there", Done: true})
	}))
	defer srv.Close()

	resp, err := client.Generate(context.Background(), "", "hello", "be brief", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Response != "hi there" {
		t.Errorf("Response = %q, want 'hi there'", resp.Response)
	}
}

func TestClient_Chat(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3" {
			t.Errorf("Model = %q, want default applied", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Errorf("Messages length = %d, want 2", len(req.Messages))
		}
		json.NewEncoder(w).Encode(ChatResponse{
			Message: NewAssistantMessage("sure"),
			Done:    true,
		})
	}))
	defer srv.Close()

	resp, err := client.Chat(context.Background(), "", []Message{
		NewSystemMessage("be kind"),
		NewUserMessage("help"),
	}, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Message.Content != "sure" {
		t.Errorf("Content = %q, want 'sure'", resp.Message.Content)
	}
}

func TestClient_ChatStream(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"a"},"done":false}`+"\n")
		io.WriteString(w, `{"message":{"content":"b"},"done":true}`+"\n")
	}))
	defer srv.Close()

	stream, err := client.ChatStream(context.Background(), "llama3", []Message{NewUserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	defer stream.Close()

	events := drain(t, stream)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if stream.Accumulated() != "ab" {
		t.Errorf("Accumulated() = %q, want 'ab'", stream.Accumulated())
	}
}

func TestClient_ListModelNames(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ListModelsResponse{
			Models: []ModelInfo{
				{Name: "llama3:8b"},
				{Name: "llama3:70b"},
				{Name: "qwen2.5:14b"},
			},
		})
	}))
	defer srv.Close()

	names, err := client.ListModelNames(context.Background())
	if err != nil {
		t.Fatalf("ListModelNames() error = %v", err)
	}
	want := []string{"llama3", "qwen2.5"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestClient_GenerateEmbedding(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EmbeddingResponse{Embedding: []float64{0.1, 0.2}})
	}))
	defer srv.Close()

	emb, err := client.GenerateEmbedding(context.Background(), "nomic-embed-text", "hello")
	if err != nil {
		t.Fatalf("GenerateEmbedding() error = %v", err)
	}
	if len(emb) != 2 {
		t.Errorf("embedding length = %d, want 2", len(emb))
	}
}

// =============================================================================
// ERROR HANDLING TESTS
// =============================================================================

func TestClient_ModelNotFound(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := client.Chat(context.Background(), "missing", nil, nil)
	if !IsModelNotFound(err) {
		t.Errorf("error = %v, want model not found", err)
	}
}

func TestClient_APIErrorMessage(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(APIError{Error: "out of memory"})
	}))
	defer srv.Close()

	_, err := client.Generate(context.Background(), "llama3", "hi", "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "out of memory" {
		t.Errorf("error = %q, want server message surfaced", err.Error())
	}
}

func TestClient_NotRunning(t *testing.T) {
	client := NewClientWithConfig(&ClientConfig{BaseURL: "http://127.0.0.1:1"})

	err := client.CheckRunning(context.Background())
	if !IsNotRunning(err) {
		t.Errorf("error = %v, want not running", err)
	}
}

func TestClientError_Unwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := &ClientError{Type: ErrTypeConnection, Message: "read failed", Cause: cause}

	if err.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
	if err.Error() != "read failed: unexpected EOF" {
		t.Errorf("Error() = %q", err.Error())
	}
}
