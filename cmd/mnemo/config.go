// Copyright (C) 2025-2026 Kraklabs. All rights reserved.
// Use of this source code is governed by the AGPL-3.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".mnemo"
	defaultConfigFile = "config.yaml"
	configVersion     = "1"
)

// Config represents the .mnemo/config.yaml configuration file.
type Config struct {
	Version   string          `yaml:"version"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Plan      PlanConfig      `yaml:"plan"`
	Engine    EngineConfig    `yaml:"engine"`
	Server    ServerConfig    `yaml:"server"`
}

// StorageConfig contains the CozoDB backend configuration.
type StorageConfig struct {
	Engine string `yaml:"engine"` // mem, sqlite, rocksdb
	Path   string `yaml:"path"`   // Auto: ~/.mnemo/data/default/
}

// EmbeddingConfig contains B.embed provider configuration.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // ollama, openai
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key,omitempty"`
}

// PlanConfig contains B.plan provider configuration.
type PlanConfig struct {
	Provider string `yaml:"provider"` // anthropic
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// EngineConfig contains Memory Engine tuning (4.E, §5, §6.4).
type EngineConfig struct {
	NeighborK            int    `yaml:"neighbor_k"`
	MaxConcurrency       int    `yaml:"max_concurrency"`
	GraphEnabled         bool   `yaml:"graph_enabled"`
	GraphQueryExtraction string `yaml:"graph_query_extraction"` // llm, heuristic
	VectorDistance       string `yaml:"vector_distance"`        // cosine, inner_product
}

// ServerConfig contains Remote Access Surface configuration (4.F).
type ServerConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	SessionIdleTimeoutSeconds int `yaml:"session_idle_timeout_seconds"`
}

// DefaultConfig returns a config with sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Version: configVersion,
		Storage: StorageConfig{
			Engine: "sqlite",
			Path:   "",
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			BaseURL:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
			Model:      getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
			Dimensions: 768,
		},
		Plan: PlanConfig{
			Provider: "anthropic",
			Model:    "claude-3-5-sonnet-latest",
		},
		Engine: EngineConfig{
			NeighborK:            5,
			MaxConcurrency:       8,
			GraphEnabled:         true,
			GraphQueryExtraction: "heuristic",
			VectorDistance:       "cosine",
		},
		Server: ServerConfig{
			ListenAddr:                ":8765",
			SessionIdleTimeoutSeconds: 1800,
		},
	}
}

// LoadConfig loads configuration from the specified path or finds it
// automatically, then applies environment variable overrides.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("MNEMO_CONFIG_PATH")
	}
	if configPath == "" {
		var err error
		configPath, err = findConfigFile()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // G304: Path comes from user config or discovery
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config format in %s: %w", configPath, err)
	}

	if cfg.Version != configVersion {
		return nil, fmt.Errorf("unsupported config version %q (expected %q), run 'mnemo init --force' to regenerate", cfg.Version, configVersion)
	}

	cfg.applyEnvOverrides()

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateConfig checks that the configuration values are valid, failing
// fast before any resource (CozoDB handle, HTTP listener) is opened.
func ValidateConfig(cfg *Config) error {
	switch cfg.Storage.Engine {
	case "mem", "sqlite", "rocksdb":
	default:
		return fmt.Errorf("unsupported storage engine %q (supported: mem, sqlite, rocksdb)", cfg.Storage.Engine)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", cfg.Embedding.Dimensions)
	}
	switch cfg.Engine.GraphQueryExtraction {
	case "llm", "heuristic":
	default:
		return fmt.Errorf("unsupported engine.graph_query_extraction %q (supported: llm, heuristic)", cfg.Engine.GraphQueryExtraction)
	}
	switch cfg.Engine.VectorDistance {
	case "cosine", "inner_product":
	default:
		return fmt.Errorf("unsupported engine.vector_distance %q (supported: cosine, inner_product)", cfg.Engine.VectorDistance)
	}
	if cfg.Engine.NeighborK <= 0 || cfg.Engine.NeighborK > 50 {
		return fmt.Errorf("engine.neighbor_k must be in 1..50, got %d", cfg.Engine.NeighborK)
	}
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	return nil
}

// SaveConfig writes the configuration to the specified path as YAML.
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot encode config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("cannot create config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("cannot write config file %s: %w", configPath, err)
	}

	return nil
}

// ConfigPath returns the path to the config file in the given directory.
func ConfigPath(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// DefaultDataDir returns the default data directory for mnemo storage.
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".mnemo", "data", "default"), nil
}

// ResolveDataDir returns the effective data directory from config.
func ResolveDataDir(cfg *Config) (string, error) {
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path, nil
	}
	return DefaultDataDir()
}

// findConfigFile searches for .mnemo/config.yaml in current and parent directories.
func findConfigFile() (string, error) {
	if configPath := os.Getenv("MNEMO_CONFIG_PATH"); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("MNEMO_CONFIG_PATH is set to %q but the file does not exist", configPath)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cannot access working directory: %w", err)
	}

	for {
		configPath := ConfigPath(dir)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no .mnemo/config.yaml found in current directory or any parent directory; run 'mnemo init' to create one")
}

// applyEnvOverrides applies environment variable overrides to the
// configuration (6.4): the unprefixed 6.4 names (STORAGE_ENGINE,
// EMBEDDING_DIM, NEIGHBOR_K, ...), MNEMO_STORAGE_PATH and MNEMO_LISTEN_ADDR,
// and the provider-native OLLAMA_HOST and ANTHROPIC_API_KEY as fallbacks.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STORAGE_ENGINE"); v != "" {
		c.Storage.Engine = v
	}
	if v := os.Getenv("MNEMO_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	} else if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embedding.Dimensions = n
		}
	}

	if v := os.Getenv("PLAN_PROVIDER"); v != "" {
		c.Plan.Provider = v
	}
	if v := os.Getenv("PLAN_MODEL"); v != "" {
		c.Plan.Model = v
	}
	if v := os.Getenv("PLAN_API_KEY"); v != "" {
		c.Plan.APIKey = v
	} else if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Plan.APIKey = v
	}

	if v := os.Getenv("NEIGHBOR_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.NeighborK = n
		}
	}
	if v := os.Getenv("LLM_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxConcurrency = n
		}
	}
	if v := os.Getenv("GRAPH_ENABLED"); v != "" {
		c.Engine.GraphEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("GRAPH_QUERY_EXTRACTION"); v != "" {
		c.Engine.GraphQueryExtraction = v
	}
	if v := os.Getenv("VECTOR_DISTANCE"); v != "" {
		c.Engine.VectorDistance = v
	}

	if v := os.Getenv("MNEMO_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.SessionIdleTimeoutSeconds = n
		}
	}
}

// getEnv retrieves an environment variable or returns a fallback value if not set.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
