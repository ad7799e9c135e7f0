package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard paths for opengate data.
type Paths struct {
	Data   string // ~/.local/share/opengate
	Config string // ~/.config/opengate
	Cache  string // ~/.cache/opengate
	State  string // ~/.local/state/opengate
}

// GetPaths returns the standard paths for opengate data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "opengate"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "opengate"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "opengate"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "opengate"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// UserConfigDir returns the directory holding user-scope settings.
// OPENGATE_CONFIG_DIR overrides the XDG location.
func UserConfigDir() string {
	if dir := os.Getenv("OPENGATE_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}

// UserSettingsPath returns the user-scope settings file.
func UserSettingsPath() string {
	return filepath.Join(UserConfigDir(), "settings.json")
}

// ProjectDir returns the project's .opengate directory.
func ProjectDir(workdir string) string {
	return filepath.Join(workdir, ".opengate")
}

// ProjectSettingsPath returns the shared project-scope settings file.
func ProjectSettingsPath(workdir string) string {
	return filepath.Join(ProjectDir(workdir), "settings.json")
}

// LocalSettingsPath returns the project-local settings file. It holds
// per-developer overrides and is meant to stay out of version control.
func LocalSettingsPath(workdir string) string {
	return filepath.Join(ProjectDir(workdir), "settings.local.json")
}

// CommandDir returns the directory holding workflow command definitions.
func CommandDir(workdir string) string {
	return filepath.Join(ProjectDir(workdir), "command")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}
