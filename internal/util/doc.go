// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the ollaflow pipeline.
package util
