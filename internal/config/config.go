// Copyright (c) 2025 Ollaflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ollaflow/ollaflow/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete ollaflow configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" json:"server"`
	Pipeline PipelineConfig `toml:"pipeline" json:"pipeline"`
	Params   ParamsConfig   `toml:"params" json:"params"`
	Prompts  PromptsConfig  `toml:"prompts" json:"prompts"`
	Memory   MemoryConfig   `toml:"memory" json:"memory"`
	Logging  LoggingConfig  `toml:"logging" json:"logging"`
}

// ServerConfig describes the generation backend.
type ServerConfig struct {
	// BaseURL is the URL of the Ollama server.
	BaseURL string `toml:"base_url" json:"base_url"`
	// DefaultModel is used when a request names no model.
	DefaultModel string `toml:"default_model" json:"default_model"`
	// TimeoutSecs bounds non-streaming requests. Streaming requests are
	// bounded by context instead.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// PipelineConfig controls the response pipeline.
type PipelineConfig struct {
	// ContextBudget is the conversation window budget in measured units.
	ContextBudget int `toml:"context_budget" json:"context_budget"`
	// FlushThreshold is the streamed-unit length that forces a flush.
	FlushThreshold int `toml:"flush_threshold" json:"flush_threshold"`
	// MaxConcurrent caps in-flight batch requests.
	MaxConcurrent int `toml:"max_concurrent" json:"max_concurrent"`
	// RequestsPerSecond caps batch request starts. Zero disables the cap.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	// RememberContext folds each exchange back into the window. A config
	// file that omits the key reads as false: a plain bool has no absent
	// state, so fillDefaults cannot restore the built-in true here.
	RememberContext bool `toml:"remember_context" json:"remember_context"`
}

// ParamsConfig holds default sampling parameters.
type ParamsConfig struct {
	Temperature   float64 `toml:"temperature" json:"temperature"`
	TopP          float64 `toml:"top_p" json:"top_p"`
	TopK          int     `toml:"top_k" json:"top_k"`
	RepeatPenalty float64 `toml:"repeat_penalty" json:"repeat_penalty"`
}

// PromptsConfig controls the template registry.
type PromptsConfig struct {
	// Dir is the template directory. Empty selects ~/.ollaflow/prompts.
	Dir string `toml:"dir" json:"dir"`
	// Watch reloads templates when the directory changes.
	Watch bool `toml:"watch" json:"watch"`
}

// MemoryConfig controls conversation recall.
type MemoryConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// Model is the embedding model name.
	Model string `toml:"model" json:"model"`
	// MaxRecords bounds the store.
	MaxRecords int `toml:"max_records" json:"max_records"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `toml:"level" json:"level"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:      "http://127.0.0.1:11434",
			DefaultModel: "llama3",
			TimeoutSecs:  30,
		},
		Pipeline: PipelineConfig{
			ContextBudget:   8192,
			FlushThreshold:  80,
			MaxConcurrent:   3,
			RememberContext: true,
		},
		Params: ParamsConfig{
			Temperature:   0.7,
			TopP:          0.9,
			TopK:          40,
			RepeatPenalty: 1.1,
		},
		Prompts: PromptsConfig{
			Watch: true,
		},
		Memory: MemoryConfig{
			Model:      "nomic-embed-text",
			MaxRecords: 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// fillDefaults replaces zero-value fields with the built-in defaults, so
// partial config files stay valid.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = def.Server.BaseURL
	}
	if cfg.Server.DefaultModel == "" {
		cfg.Server.DefaultModel = def.Server.DefaultModel
	}
	if cfg.Server.TimeoutSecs <= 0 {
		cfg.Server.TimeoutSecs = def.Server.TimeoutSecs
	}
	if cfg.Pipeline.ContextBudget <= 0 {
		cfg.Pipeline.ContextBudget = def.Pipeline.ContextBudget
	}
	if cfg.Pipeline.FlushThreshold <= 0 {
		cfg.Pipeline.FlushThreshold = def.Pipeline.FlushThreshold
	}
	if cfg.Pipeline.MaxConcurrent <= 0 {
		cfg.Pipeline.MaxConcurrent = def.Pipeline.MaxConcurrent
	}
	if cfg.Params.Temperature == 0 {
		cfg.Params.Temperature = def.Params.Temperature
	}
	if cfg.Params.TopP == 0 {
		cfg.Params.TopP = def.Params.TopP
	}
	if cfg.Params.TopK == 0 {
		cfg.Params.TopK = def.Params.TopK
	}
	if cfg.Params.RepeatPenalty == 0 {
		cfg.Params.RepeatPenalty = def.Params.RepeatPenalty
	}
	if cfg.Memory.Model == "" {
		cfg.Memory.Model = def.Memory.Model
	}
	if cfg.Memory.MaxRecords <= 0 {
		cfg.Memory.MaxRecords = def.Memory.MaxRecords
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// =============================================================================
// FILE LOCATIONS
// =============================================================================

// ConfigDir returns the ollaflow configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ollaflow"), nil
}

// ConfigPathTOML returns the TOML config file path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the JSON config file path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// PromptsDir returns the effective template directory.
func (c *Config) PromptsDir() (string, error) {
	if c.Prompts.Dir != "" {
		return c.Prompts.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prompts"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration from the standard locations, falling back
// to defaults. Environment overrides and validation apply in every case.
func Load() (*Config, error) {
	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath reads a configuration file, choosing the format by file
// extension.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load TOML config: %w", err)
		}
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to load JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the TOML path atomically.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to path as TOML.
func SaveTOML(cfg *Config, path string) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies OLLAFLOW_* environment variables on top of
// the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if url := os.Getenv("OLLAFLOW_BASE_URL"); url != "" {
		c.Server.BaseURL = url
	}
	if model := os.Getenv("OLLAFLOW_MODEL"); model != "" {
		c.Server.DefaultModel = model
	}
	if timeout := os.Getenv("OLLAFLOW_TIMEOUT_SECS"); timeout != "" {
		if v, err := strconv.Atoi(timeout); err == nil && v > 0 {
			c.Server.TimeoutSecs = v
		}
	}
	if budget := os.Getenv("OLLAFLOW_CONTEXT_BUDGET"); budget != "" {
		if v, err := strconv.Atoi(budget); err == nil && v > 0 {
			c.Pipeline.ContextBudget = v
		}
	}
	if concurrent := os.Getenv("OLLAFLOW_MAX_CONCURRENT"); concurrent != "" {
		if v, err := strconv.Atoi(concurrent); err == nil && v > 0 {
			c.Pipeline.MaxConcurrent = v
		}
	}
	if level := os.Getenv("OLLAFLOW_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("OLLAFLOW_PROMPTS_DIR"); dir != "" {
		c.Prompts.Dir = dir
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if !strings.HasPrefix(c.Server.BaseURL, "http://") &&
		!strings.HasPrefix(c.Server.BaseURL, "https://") {
		errs = append(errs, ValidationError{
			Field:   "server.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must start with http:// or https://", c.Server.BaseURL),
		})
	}
	if c.Server.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.timeout_secs",
			Message: "must be positive",
		})
	}
	if c.Pipeline.ContextBudget <= 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.context_budget",
			Message: "must be positive",
		})
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.max_concurrent",
			Message: "must be positive",
		})
	}
	if c.Pipeline.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.requests_per_second",
			Message: "must not be negative",
		})
	}
	if c.Params.Temperature < 0 || c.Params.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "params.temperature",
			Message: "must be between 0 and 2",
		})
	}
	if c.Params.TopP < 0 || c.Params.TopP > 1 {
		errs = append(errs, ValidationError{
			Field:   "params.top_p",
			Message: "must be between 0 and 1",
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
