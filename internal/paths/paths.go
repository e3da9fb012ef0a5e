// Package paths provides path resolution utilities.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// DataDirName is the per-project directory holding config and state.
	DataDirName = ".arbor"
	// DBFileName is the registry database inside the data directory.
	DBFileName = "arbor.db"
	// ConfigFileName is the project config file inside the data directory.
	ConfigFileName = "config.yaml"
)

// ResolveDataDir resolves the .arbor directory path from user input.
//
// Input normalization:
//   - "/path/to/project" -> "/path/to/project/.arbor"
//   - "/path/to/project/.arbor" -> "/path/to/project/.arbor"
//   - "/path/to/state" (containing arbor.db) -> "/path/to/state"
//   - "" -> "./.arbor"
//
// If .arbor/redirect exists it is followed, so git worktrees can share the
// registry of the main checkout.
func ResolveDataDir(path string) string {
	if path == "" {
		path = "."
	}
	path = filepath.Clean(path)

	if filepath.Base(path) == DataDirName {
		return followRedirect(path)
	}

	if _, err := os.Stat(filepath.Join(path, DBFileName)); err == nil {
		return followRedirect(path)
	}

	return followRedirect(filepath.Join(path, DataDirName))
}

// followRedirect reads a redirect file relative to dir, if present.
func followRedirect(dir string) string {
	content, err := os.ReadFile(filepath.Join(dir, "redirect")) //nolint:gosec // redirect path is within the data dir
	if err != nil {
		return dir
	}

	target := strings.TrimSpace(string(content))
	if target == "" {
		return dir
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(dir, target))
}

// DefaultDBPath returns the registry database path for a project directory.
func DefaultDBPath(projectDir string) string {
	return filepath.Join(ResolveDataDir(projectDir), DBFileName)
}

// ProjectConfigPath returns the project-local config file path.
func ProjectConfigPath() string {
	return filepath.Join(DataDirName, ConfigFileName)
}

// UserConfigDir returns ~/.config/arbor, or "" when the home directory is
// unavailable.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "arbor")
}

// DefaultTracesPath returns ~/.config/arbor/traces/traces.jsonl, or "" when
// the home directory is unavailable.
func DefaultTracesPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}
