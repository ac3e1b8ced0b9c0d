// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package batch fans a set of prompts out to a requester with a ceiling
// on concurrent in-flight requests.
//
// Results come back in input order regardless of completion order, and a
// failed prompt never disturbs its neighbors: each slot carries its own
// error. An optional rate limit caps request starts per second on top of
// the concurrency ceiling.
package batch
