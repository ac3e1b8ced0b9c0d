// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt manages reusable prompt templates stored as YAML files.
//
// A Registry loads every .yml/.yaml file in a directory, keyed by file
// stem. Templates carry {placeholder} slots that Combine fills from a
// variable map. Edits go through the registry so writes stay atomic, and
// a Watcher can reload templates when the directory changes on disk.
package prompt
