package config

import (
	"os"
	"path/filepath"

	"encore-converter/internal/domain"
)

// AppDirName is the per-user directory holding settings, logs and history.
const AppDirName = ".encore-converter"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		OutputDir: filepath.Join(homeDir(), "Documents", "MusicXML"),
	}
}

// DefaultSearchDirs lists the well-known install locations probed before
// falling back to the shell, in priority order.
func DefaultSearchDirs() []string {
	home := homeDir()
	return []string{
		filepath.Join(home, "go", "bin"),
		"/usr/local/bin",
		"/opt/homebrew/bin",
		"/usr/local/go/bin",
		filepath.Join(home, ".local", "bin"),
		"/usr/bin",
	}
}

// SettingsPath is where the JSON settings store lives.
func SettingsPath() string {
	return filepath.Join(homeDir(), AppDirName, "settings.json")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
