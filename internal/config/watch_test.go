// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, defaultModel string) {
	t.Helper()
	content := `
default_model = "` + defaultModel + `"

[[models]]
id = "` + defaultModel + `"
name = "Model"
cost_per_1k_tokens = 0.001
max_tokens = 4096
context_length = 100000
temperature = 0.7
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "first/model")

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	writeConfig(t, path, "second/model")

	select {
	case cfg := <-reloaded:
		if cfg.DefaultModel != "second/model" {
			t.Errorf("DefaultModel = %q, want second/model", cfg.DefaultModel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
}

// TestWatchKeepsOldConfigOnBadReload verifies an invalid rewrite is dropped
// rather than delivered.
func TestWatchKeepsOldConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, "first/model")

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	// default_model references a model that does not exist: invalid.
	bad := `default_model = "ghost/model"

[[models]]
id = "first/model"
name = "Model"
cost_per_1k_tokens = 0.001
max_tokens = 4096
context_length = 100000
temperature = 0.7
`
	if err := os.WriteFile(path, []byte(bad), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config was delivered: default_model=%q", cfg.DefaultModel)
	case <-time.After(1 * time.Second):
		// Expected: the bad write never reaches the callback.
	}
}
