// Package settings loads engine-level configuration: where caches, artifacts
// and logs live, the default branch name, and the optional status API port.
// Values come from an optional YAML file overlaid with STAGEHAND_-prefixed
// environment variables; pipeline definitions are a separate concern.
package settings

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Settings holds engine-level configuration.
type Settings struct {
	// DataDir is the root for caches, artifacts, logs and the history
	// database unless overridden individually.
	DataDir string `koanf:"data_dir"`
	// CacheDir is where cross-run cache regions live.
	CacheDir string `koanf:"cache_dir"`
	// ArtifactDir is where run-scoped artifact bundles live.
	ArtifactDir string `koanf:"artifact_dir"`
	// LogDir is where captured job logs are written.
	LogDir string `koanf:"log_dir"`
	// HistoryDB is the path of the SQLite run-history database.
	HistoryDB string `koanf:"history_db"`
	// DefaultBranch is the branch that counts as a default-branch push.
	DefaultBranch string `koanf:"default_branch"`
	// ArtifactExpiry is the default retention for artifacts published
	// without an explicit expire_in, e.g. "30d". Empty means no expiry.
	ArtifactExpiry string `koanf:"artifact_expiry"`
	// StatusPort is the port of the status HTTP API. 0 disables it.
	StatusPort int `koanf:"status_port"`
}

// Load reads settings from the given YAML file (skipped when path is empty
// or the file does not exist) and the environment, then applies defaults.
func Load(path string) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load settings file %s: %w", path, err)
		}
	}

	// Settings keys are flat, so underscores stay underscores:
	// STAGEHAND_DATA_DIR -> data_dir.
	if err := k.Load(env.Provider("STAGEHAND_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "STAGEHAND_"))
	}), nil); err != nil {
		return nil, err
	}

	var cfg Settings
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = ".stagehand"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.DataDir, "cache")
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = filepath.Join(cfg.DataDir, "artifacts")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = filepath.Join(cfg.DataDir, "history.db")
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}
	return &cfg, nil
}
