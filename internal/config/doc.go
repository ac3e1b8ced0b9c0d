// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// ollaflow.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.ollaflow/config.toml
//   - ~/.ollaflow/config.json
//   - Built-in defaults
package config
