package storage

import (
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the flat key/value form every backend factory receives.
type Config = map[string]string

// GetString returns config[key], or defaultValue when the key is absent or empty.
func GetString(config Config, key, defaultValue string) string {
	if v, ok := config[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

// Require returns the values for keys in order. Missing or empty keys are
// reported together in a single ConfigError for backend.
func Require(backend string, config Config, keys ...string) ([]string, error) {
	values := make([]string, len(keys))
	var missing []string
	for i, k := range keys {
		values[i] = strings.TrimSpace(config[k])
		if values[i] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, NewConfigError(backend, strings.Join(missing, ","), "must be set")
	}
	return values, nil
}

// GetBool parses config[key] as a boolean.
// Accepts true/false, 1/0 and yes/no in any case.
func GetBool(config Config, key string, defaultValue bool) (bool, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, &ConfigError{Field: key, Value: v, Message: "must be a boolean (true/false, 1/0, yes/no)"}
}

// GetInt parses config[key] as an int.
func GetInt(config Config, key string, defaultValue int) (int, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Value: v, Message: "must be an integer", Cause: err}
	}
	return i, nil
}

// GetSize parses config[key] as a byte size. Both plain integers and
// human-readable sizes ("25MB", "1 GiB") are accepted.
func GetSize(config Config, key string, defaultValue int64) (int64, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}
	return ParseSize(key, v)
}

// ParseSize converts a human-readable size to bytes.
func ParseSize(field, v string) (int64, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, &ConfigError{Field: field, Value: v, Message: "must be a byte size (e.g. 1048576, '25MB')", Cause: err}
	}
	return int64(n), nil
}

// GetDuration parses config[key] as a Go duration, falling back to integer seconds.
func GetDuration(config Config, key string, defaultValue time.Duration) (time.Duration, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, &ConfigError{Field: key, Value: v, Message: "must be a duration (e.g., '5s', '1m30s') or integer seconds"}
}

// ExpandPath expands a leading ~/ to the user's home directory and cleans the path.
func ExpandPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, rest)
	}
	return filepath.Clean(path)
}

// MergeConfig returns a new map holding dst overlaid with src.
func MergeConfig(dst, src Config) Config {
	result := make(Config, len(dst)+len(src))
	maps.Copy(result, dst)
	maps.Copy(result, src)
	return result
}
