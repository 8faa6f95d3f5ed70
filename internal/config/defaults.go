// Package config loads gateway configuration from defaults, a config file,
// DROP_* environment variables and command-line flags, in that order.
package config

import (
	"os"
	"path/filepath"
)

// Defaults holds the default values that are not backend-specific.
var Defaults = struct {
	HTTPAddr           string
	ReadTimeout        string
	WriteTimeout       string
	MaxUploadSize      string
	LargeFileThreshold string
	RateTTL            string
	MetadataBackend    string
	LogLevel           string
	LogFormat          string
	MetricsAddr        string
	ServiceName        string
}{
	HTTPAddr:           ":8080",
	ReadTimeout:        "5m",
	WriteTimeout:       "5m",
	MaxUploadSize:      "100MB",
	LargeFileThreshold: "25MB",
	RateTTL:            "1h",
	MetadataBackend:    "badger",
	LogLevel:           "info",
	LogFormat:          "auto",
	MetricsAddr:        ":9090",
	ServiceName:        "drop",
}

// DefaultDataDir returns the default data directory (~/.drop).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drop"
	}
	return filepath.Join(home, ".drop")
}
