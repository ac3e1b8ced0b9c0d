// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
//
// This package implements a client for the Ollama local LLM server,
// supporting streaming chat completions, single-shot generation,
// embeddings, and model listing.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role and content
//   - Event: One decoded increment of a streaming response
//   - StreamReader: Pull-based reader over the newline-delimited JSON stream
//
// # Usage
//
// Create a client and open a streaming chat request:
//
//	client := ollama.NewClient()
//	stream, err := client.ChatStream(ctx, "llama3", messages, nil)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    ev, err := stream.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(ev.Delta)
//	}
//
// The stream is finite and non-restartable: once Next returns io.EOF the
// transport is exhausted, and a fresh ChatStream call is required to
// obtain another stream.
package ollama
