package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults resolves where podlog keeps its config file and data.
//
// The config file is $PODLOG_CONFIG_PATH, else $XDG_CONFIG_HOME/podlog.toml,
// else ~/.config/podlog.toml. Data lives under $PODLOG_HOME, else
// $XDG_DATA_HOME/podlog, else ~/.local/share/podlog. Logs go to <data>/log.
func GetDefaults() (map[string]string, error) {
	configPath, err := resolvePath("PODLOG_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", "podlog.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := resolvePath("PODLOG_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "podlog")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// resolvePath returns $override verbatim if set. Otherwise name is joined
// onto $xdgVar, or onto homeRel under the user's home directory.
func resolvePath(override, xdgVar, homeRel, name string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdgVar); dir != "" {
		return filepath.Join(dir, name), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving %s: no home directory: %w", override, err)
	}
	return filepath.Join(homeDir, homeRel, name), nil
}
