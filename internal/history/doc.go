// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history maintains a bounded conversation window.
//
// A Window holds the ordered messages of one conversation and evicts the
// oldest entries when the total size exceeds a configured budget. Eviction
// always keeps at least the most recent message, even when that single
// message alone exceeds the budget: a conversation with no context at all
// is worse than one slightly over budget.
package history
