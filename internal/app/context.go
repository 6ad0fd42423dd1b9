package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"prodline/internal/config"
	"prodline/internal/engine"
	"prodline/internal/repo"
)

// ConfigFileName is looked up in the workspace when the settings table has no
// stored config yet.
const ConfigFileName = "prodline.yml"

// ResolveConfig returns the effective configuration for a workspace. The
// settings table is the source of truth; on first use the workspace's
// prodline.yml (or the built-in default) is imported into it.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	raw, err := r.GetSetting(ctx, nil, engine.SettingConfig)
	if err == nil {
		cfg := &config.Config{}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("stored config: %w", err)
		}
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	cfg, err := seedConfig(workspace)
	if err != nil {
		return nil, err
	}
	if err := StoreConfig(ctx, r, cfg); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return cfg, nil
}

// StoreConfig validates and writes a config into the settings table.
func StoreConfig(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.PutSetting(ctx, nil, engine.SettingConfig, raw)
}

func seedConfig(workspace string) (*config.Config, error) {
	path := filepath.Join(workspace, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", ConfigFileName, err)
		}
		return cfg, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return config.Default(), nil
}
