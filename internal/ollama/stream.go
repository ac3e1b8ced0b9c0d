// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama API.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader decodes the newline-delimited JSON stream of a chat or
// generate response into Events. It is a finite, non-restartable sequence:
// once Next returns io.EOF, the underlying transport is exhausted.
type StreamReader struct {
	reader *bufio.Reader
	body   io.Closer
	done   bool

	// accumulator collects every delta seen, for callers that want the
	// full text after the stream ends.
	accumulator strings.Builder
}

// NewStreamReader creates a stream reader over a response body. The reader
// takes ownership of the body and closes it when the stream ends or when
// Close is called.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	return &StreamReader{
		reader: bufio.NewReader(body),
		body:   body,
	}
}

// Next returns the next decoded event from the stream. It returns io.EOF
// when the stream is exhausted, either because the server sent a final
// event or because the transport closed. Context cancellation closes the
// transport and surfaces ctx.Err().
func (s *StreamReader) Next(ctx context.Context) (*Event, error) {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil, ctx.Err()
		default:
		}

		if s.done {
			return nil, io.EOF
		}

		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			// The last line may arrive without a terminator; decode it
			// before reporting end of stream.
			if len(line) == 0 {
				s.Close()
				if err == io.EOF {
					return nil, io.EOF
				}
				return nil, &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
			}
			s.done = true
			s.body.Close()
		}

		ev, ok := decodeLine(line)
		if !ok {
			// Malformed or keep-alive line: skip, never fatal.
			continue
		}

		s.accumulator.WriteString(ev.Delta)
		if ev.Final {
			s.done = true
			s.body.Close()
		}
		return ev, nil
	}
}

// Close releases the underlying transport. Safe to call more than once;
// closing mid-stream causes the next Next call to terminate.
func (s *StreamReader) Close() error {
	s.done = true
	return s.body.Close()
}

// Accumulated returns the concatenation of every delta decoded so far.
func (s *StreamReader) Accumulated() string {
	return s.accumulator.String()
}

// =============================================================================
// LINE DECODING
// =============================================================================

// decodeLine parses one transport line into an Event. A line must carry
// either the chat shape (message.content) or the generate shape (response)
// to produce an event; anything else is reported as unparseable.
func decodeLine(line []byte) (*Event, bool) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil, false
	}

	var record struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Response *string `json:"response"`
		Done     bool    `json:"done"`
	}
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, false
	}
	if record.Message == nil && record.Response == nil && !record.Done {
		return nil, false
	}

	ev := &Event{
		Final: record.Done,
		Raw:   []byte(trimmed),
	}
	switch {
	case record.Message != nil:
		ev.Delta = record.Message.Content
	case record.Response != nil:
		ev.Delta = *record.Response
	}
	return ev, true
}
