// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses ollaflow's command-line arguments into a Command
// and an Args struct. Execution lives in main; this package only decides
// what was asked for.
package cli
