package util

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory
const DataDirEnv = "VENTANA_LINK_DIR"

// DataDir returns the data directory path
func DataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ventana-link-data")
	}
	return filepath.Join(home, ".ventana-link-data")
}

// DeviceDir returns the per-peripheral directory, keyed by radio address
func DeviceDir(address string) string {
	return filepath.Join(DataDir(), sanitize(address))
}

// DatabasePath returns the SQLite file used by the mirror and accounts
func DatabasePath() string {
	return filepath.Join(DataDir(), "ventana.db")
}

// EnsureDir creates dir and its parents
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// sanitize makes an address usable as a single path element
func sanitize(address string) string {
	r := strings.NewReplacer(":", "-", "/", "_", "\\", "_")
	s := r.Replace(strings.ToUpper(strings.TrimSpace(address)))
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
