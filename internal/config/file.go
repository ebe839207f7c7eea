package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads gui_config.json from the resolved data directory. The caller
// is told whether the file existed so a headless entry point can persist
// the generated default on first run (spec.md §5 Startup).
func Load() (cfg AppConfig, existed bool, err error) {
	path, err := ConfigPath()
	if err != nil {
		return AppConfig{}, false, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg, genErr := DefaultAppConfig()
		if genErr != nil {
			return AppConfig{}, false, genErr
		}
		return cfg, false, nil
	}
	if err != nil {
		return AppConfig{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, true, fmt.Errorf("parse config: %w", err)
	}
	return cfg, true, nil
}

// Save writes cfg to gui_config.json, creating the data directory if
// needed, pretty-printed to match the rest of this repo's on-disk JSON.
func Save(cfg AppConfig) error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
