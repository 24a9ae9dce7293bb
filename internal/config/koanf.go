// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ingestwatch/config.yaml",
	"/etc/ingestwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if found)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// STORE_FAILOVER_PATH -> store.failover_path
	// NOTIFIER_FLUSH_INTERVAL -> notifier.flush_interval
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// configSections are the recognized top-level env var prefixes.
var configSections = map[string]string{
	"store":    "store",
	"notifier": "notifier",
	"server":   "server",
	"logging":  "logging",
	// LOG_LEVEL / LOG_FORMAT shorthand
	"log": "logging",
}

// envTransformFunc maps an environment variable name to a koanf path.
// Variables without a recognized section prefix are ignored so stray
// environment noise (PATH, HOME, ...) never leaks into the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	idx := strings.Index(key, "_")
	if idx <= 0 || idx == len(key)-1 {
		return ""
	}

	section, ok := configSections[key[:idx]]
	if !ok {
		return ""
	}

	return section + "." + key[idx+1:]
}
