package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir picks the Pebble data directory for the host OS, falling
// back to ./data when no home directory is known.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pollbus")
	}
	if isDir("/var/lib") && isWritable("/var/lib") {
		return "/var/lib/pollbus"
	}
	// macOS
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "pollbus")
	}
	// Windows
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "pollbus")
	}
	return filepath.Join(homeDir, ".pollbus")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func isWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".pollbus-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
