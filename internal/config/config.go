package config

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/observability"
	"github.com/gezibash/drop/internal/storage"
)

type Config struct {
	DataDir       string                   `mapstructure:"data_dir"`
	HTTP          HTTPConfig               `mapstructure:"http"`
	Limits        LimitsConfig             `mapstructure:"limits"`
	Auth          AuthConfig               `mapstructure:"auth"`
	Storage       map[string]StorageConfig `mapstructure:"storage"`
	Metadata      BackendConfig            `mapstructure:"metadata"`
	Observability ObservabilityConfig      `mapstructure:"observability"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	PublicURL         string        `mapstructure:"public_url"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
}

type LimitsConfig struct {
	MaxUploadSize      string        `mapstructure:"max_upload_size"`
	LargeFileThreshold string        `mapstructure:"large_file_threshold"`
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	RateTTL            time.Duration `mapstructure:"rate_ttl"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig configures one object backend. A backend is opened when it
// appears in the config and is not disabled; local disk is always opened
// unless disabled.
type StorageConfig struct {
	Disabled bool              `mapstructure:"disabled"`
	Config   map[string]string `mapstructure:"config"`
}

type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

type ObservabilityConfig struct {
	LogLevel         string            `mapstructure:"log_level"`
	LogFormat        string            `mapstructure:"log_format"`
	LogFile          string            `mapstructure:"log_file"`
	LogMaxSizeMB     int               `mapstructure:"log_max_size_mb"`
	LogMaxBackups    int               `mapstructure:"log_max_backups"`
	LogMaxAgeDays    int               `mapstructure:"log_max_age_days"`
	MetricsAddr      string            `mapstructure:"metrics_addr"`
	OTLPEndpoint     string            `mapstructure:"otlp_endpoint"`
	OTLPProtocol     string            `mapstructure:"otlp_protocol"`
	OTLPInsecure     bool              `mapstructure:"otlp_insecure"`
	OTLPHeaders      map[string]string `mapstructure:"otlp_headers"`
	TraceSampleRatio float64           `mapstructure:"trace_sample_ratio"`
	ServiceName      string            `mapstructure:"service_name"`
	ServiceVersion   string            `mapstructure:"service_version"`
	Environment      string            `mapstructure:"environment"`
}

// MaxUploadBytes parses limits.max_upload_size. Zero means no limit.
func (l LimitsConfig) MaxUploadBytes() (int64, error) {
	return parseLimit("limits.max_upload_size", l.MaxUploadSize)
}

// LargeFileBytes parses limits.large_file_threshold. Zero disables
// large-file routing.
func (l LimitsConfig) LargeFileBytes() (int64, error) {
	return parseLimit("limits.large_file_threshold", l.LargeFileThreshold)
}

func parseLimit(field, v string) (int64, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	return storage.ParseSize(field, v)
}

// Backends returns the per-kind adapter configuration to open. Storage keys
// may use any alias object.ParseKind accepts.
func (c Config) Backends() (map[object.Kind]map[string]string, error) {
	out := make(map[object.Kind]map[string]string)
	disabled := make(map[object.Kind]bool)
	for name, sc := range c.Storage {
		kind, ok := object.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("storage.%s: unknown backend (want one of %v)", name, object.Kinds)
		}
		if sc.Disabled {
			disabled[kind] = true
			continue
		}
		cfg := out[kind]
		if cfg == nil {
			cfg = make(map[string]string)
			out[kind] = cfg
		}
		maps.Copy(cfg, sc.Config)
	}

	if !disabled[object.KindLocal] {
		if _, ok := out[object.KindLocal]; !ok {
			out[object.KindLocal] = map[string]string{}
		}
		if out[object.KindLocal]["path"] == "" {
			out[object.KindLocal]["path"] = filepath.Join(c.ResolvedDataDir(), "uploads")
		}
	}
	for kind := range disabled {
		delete(out, kind)
	}
	return out, nil
}

// MetadataConfig returns the metadata backend config, defaulting on-disk
// backends into the data directory.
func (c Config) MetadataConfig() map[string]string {
	cfg := make(map[string]string, len(c.Metadata.Config)+1)
	maps.Copy(cfg, c.Metadata.Config)
	if cfg["path"] == "" {
		switch c.Metadata.Backend {
		case "badger":
			cfg["path"] = filepath.Join(c.ResolvedDataDir(), "meta")
		case "sqlite":
			cfg["path"] = filepath.Join(c.ResolvedDataDir(), "meta.db")
		}
	}
	return cfg
}

// ResolvedDataDir returns the data directory from config, or the default (~/.drop).
func (c Config) ResolvedDataDir() string {
	if c.DataDir != "" {
		return storage.ExpandPath(c.DataDir)
	}
	return DefaultDataDir()
}

// ObsConfig converts to the observability package's config.
func (c Config) ObsConfig() observability.ObsConfig {
	o := c.Observability
	return observability.ObsConfig{
		Log: observability.LogConfig{
			Level:      o.LogLevel,
			Format:     o.LogFormat,
			File:       o.LogFile,
			MaxSizeMB:  o.LogMaxSizeMB,
			MaxBackups: o.LogMaxBackups,
			MaxAgeDays: o.LogMaxAgeDays,
		},
		OTLPEndpoint:     o.OTLPEndpoint,
		OTLPProtocol:     o.OTLPProtocol,
		OTLPInsecure:     o.OTLPInsecure,
		OTLPHeaders:      o.OTLPHeaders,
		TraceSampleRatio: o.TraceSampleRatio,
		ServiceName:      o.ServiceName,
		ServiceVersion:   o.ServiceVersion,
		Environment:      o.Environment,
		PublicURL:        c.HTTP.PublicURL,
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Limits.MaxUploadBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Limits.LargeFileBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Limits.RatePerSecond < 0 {
		errs = append(errs, errors.New("limits.rate_per_second must not be negative"))
	}
	if _, err := c.Backends(); err != nil {
		errs = append(errs, err)
	}
	if c.Metadata.Backend == "" {
		errs = append(errs, errors.New("metadata.backend must be set"))
	}
	if r := c.Observability.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio %v: want a value in [0, 1]", r))
	}
	switch c.Observability.LogFormat {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("observability.log_format %q: want auto, text or json", c.Observability.LogFormat))
	}
	return errors.Join(errs...)
}
