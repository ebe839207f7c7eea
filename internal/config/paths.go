package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the directory holding gui_config.json and the accounts/
// subdirectory.
//
//   - Windows: %APPDATA%\acctgate
//   - Other OS: ~/.acctgate
//
// ACCTGATE_DATA_DIR overrides the default on any platform, mainly for tests.
func DataDir() (string, error) {
	if dir := os.Getenv("ACCTGATE_DATA_DIR"); dir != "" {
		return dir, nil
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "acctgate"), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".acctgate"), nil
}

// AccountsDir returns <data_dir>/accounts.
func AccountsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "accounts"), nil
}

// ConfigPath returns <data_dir>/gui_config.json.
func ConfigPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gui_config.json"), nil
}

// ArchivePath returns <data_dir>/requests.db, the StatsArchive's SQLite
// file (SPEC_FULL.md §4.8).
func ArchivePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "requests.db"), nil
}

// EnsureDataDir creates the data directory (and accounts/ beneath it) if
// missing.
func EnsureDataDir() error {
	dir, err := DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	accounts, err := AccountsDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(accounts, 0o700)
}
