package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/object"
)

func TestDefaultDataDir(t *testing.T) {
	dir := DefaultDataDir()
	if !strings.HasSuffix(dir, ".drop") {
		t.Errorf("DefaultDataDir() = %s, want suffix .drop", dir)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.TrustProxyHeaders {
		t.Error("proxy headers trusted by default")
	}
	if cfg.HTTP.ReadTimeout != 5*time.Minute {
		t.Errorf("HTTP.ReadTimeout = %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.Limits.RateTTL != time.Hour {
		t.Errorf("Limits.RateTTL = %v", cfg.Limits.RateTTL)
	}
	if cfg.Metadata.Backend != "badger" {
		t.Errorf("Metadata.Backend = %q", cfg.Metadata.Backend)
	}
	if cfg.Observability.LogFormat != "auto" || cfg.Observability.ServiceName != "drop" {
		t.Errorf("Observability = %+v", cfg.Observability)
	}

	max, err := cfg.Limits.MaxUploadBytes()
	if err != nil || max != 100_000_000 {
		t.Errorf("MaxUploadBytes = %d, %v", max, err)
	}
	large, err := cfg.Limits.LargeFileBytes()
	if err != nil || large != 25_000_000 {
		t.Errorf("LargeFileBytes = %d, %v", large, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drop.yaml")
	content := `
data_dir: ` + dir + `
http:
  addr: ":9999"
  public_url: https://drop.example
limits:
  max_upload_size: 2GiB
  rate_per_second: 2.5
storage:
  s3:
    config:
      bucket: uploads
      endpoint: https://r2.example
  gridfs:
    config:
      uri: mongodb://localhost:27017
  vercel:
    disabled: true
metadata:
  backend: sqlite
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" || cfg.HTTP.PublicURL != "https://drop.example" {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Limits.RatePerSecond != 2.5 {
		t.Errorf("RatePerSecond = %v", cfg.Limits.RatePerSecond)
	}
	if max, _ := cfg.Limits.MaxUploadBytes(); max != 2<<30 {
		t.Errorf("MaxUploadBytes = %d", max)
	}

	backends, err := cfg.Backends()
	if err != nil {
		t.Fatalf("Backends: %v", err)
	}
	if backends[object.KindBucket]["bucket"] != "uploads" {
		t.Errorf("bucket config = %v", backends[object.KindBucket])
	}
	if backends[object.KindChunked]["uri"] != "mongodb://localhost:27017" {
		t.Errorf("chunked config = %v", backends[object.KindChunked])
	}
	if _, ok := backends[object.KindBlobCDN]; ok {
		t.Error("disabled blob backend returned")
	}
	if got := backends[object.KindLocal]["path"]; got != filepath.Join(dir, "uploads") {
		t.Errorf("local path = %q", got)
	}
	if got := cfg.MetadataConfig()["path"]; got != filepath.Join(dir, "meta.db") {
		t.Errorf("metadata path = %q", got)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DROP_HTTP_ADDR", ":7070")
	t.Setenv("DROP_LIMITS_MAX_UPLOAD_SIZE", "1KB")
	t.Setenv("DROP_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("DROP_HTTP_TRUST_PROXY_HEADERS", "true")

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Addr != ":7070" || cfg.Auth.JWTSecret != "s3cret" || !cfg.HTTP.TrustProxyHeaders {
		t.Errorf("cfg = %+v", cfg)
	}
	if limit, _ := cfg.Limits.MaxUploadBytes(); limit != 1000 {
		t.Errorf("MaxUploadBytes = %d", limit)
	}
}

func TestFlagsOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := &cobra.Command{Use: "serve"}
	v := viper.New()
	BindCommonFlags(cmd, v)
	BindServeFlags(cmd, v)
	if err := cmd.ParseFlags([]string{"--addr", ":1234", "--log-level", "debug", "--public-url", "https://x.test"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Addr != ":1234" || cfg.HTTP.PublicURL != "https://x.test" || cfg.Observability.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestBackendsLocalDisabled(t *testing.T) {
	cfg := Config{Storage: map[string]StorageConfig{"fs": {Disabled: true}}}
	backends, err := cfg.Backends()
	if err != nil {
		t.Fatal(err)
	}
	if len(backends) != 0 {
		t.Errorf("backends = %v", backends)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad size", Config{Metadata: BackendConfig{Backend: "badger"}, Limits: LimitsConfig{MaxUploadSize: "huge"}}, "max_upload_size"},
		{"negative rate", Config{Metadata: BackendConfig{Backend: "badger"}, Limits: LimitsConfig{RatePerSecond: -1}}, "rate_per_second"},
		{"unknown storage", Config{Metadata: BackendConfig{Backend: "badger"}, Storage: map[string]StorageConfig{"ftp": {}}}, "storage.ftp"},
		{"no metadata", Config{}, "metadata.backend"},
		{"bad log format", Config{Metadata: BackendConfig{Backend: "badger"}, Observability: ObservabilityConfig{LogFormat: "xml"}}, "log_format"},
		{"bad sample ratio", Config{Metadata: BackendConfig{Backend: "badger"}, Observability: ObservabilityConfig{TraceSampleRatio: 1.5}}, "trace_sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestObsConfig(t *testing.T) {
	cfg := Config{Observability: ObservabilityConfig{LogLevel: "warn", LogFile: "/tmp/x.log", OTLPEndpoint: "localhost:4317", OTLPProtocol: "grpc"}}
	o := cfg.ObsConfig()
	if o.Log.Level != "warn" || o.Log.File != "/tmp/x.log" || o.OTLPProtocol != "grpc" {
		t.Errorf("ObsConfig = %+v", o)
	}

	cfg.HTTP.PublicURL = "https://drop.example"
	cfg.Observability.OTLPInsecure = true
	cfg.Observability.OTLPHeaders = map[string]string{"x-api-key": "k"}
	cfg.Observability.TraceSampleRatio = 0.25
	cfg.Observability.Environment = "staging"
	o = cfg.ObsConfig()
	if !o.OTLPInsecure || o.OTLPHeaders["x-api-key"] != "k" || o.TraceSampleRatio != 0.25 ||
		o.Environment != "staging" || o.PublicURL != "https://drop.example" {
		t.Errorf("tracing options not carried: %+v", o)
	}
}

func TestLoadTracingDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	o := cfg.Observability
	if !o.OTLPInsecure || o.TraceSampleRatio != 1 || o.Environment != "" {
		t.Errorf("tracing defaults = insecure %v ratio %v env %q", o.OTLPInsecure, o.TraceSampleRatio, o.Environment)
	}
}
