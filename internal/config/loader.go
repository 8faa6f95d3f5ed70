package config

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. DROP_HTTP_ADDR.
const EnvPrefix = "DROP"

// ConfigFileKey holds the --config flag value.
const ConfigFileKey = "config_file"

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("http.addr", Defaults.HTTPAddr)
	v.SetDefault("http.public_url", "")
	v.SetDefault("http.read_timeout", Defaults.ReadTimeout)
	v.SetDefault("http.write_timeout", Defaults.WriteTimeout)
	v.SetDefault("http.trust_proxy_headers", false)

	v.SetDefault("limits.max_upload_size", Defaults.MaxUploadSize)
	v.SetDefault("limits.large_file_threshold", Defaults.LargeFileThreshold)
	v.SetDefault("limits.rate_per_second", 0)
	v.SetDefault("limits.rate_ttl", Defaults.RateTTL)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("metadata.backend", Defaults.MetadataBackend)

	v.SetDefault("observability.log_level", Defaults.LogLevel)
	v.SetDefault("observability.log_format", Defaults.LogFormat)
	v.SetDefault("observability.log_file", "")
	v.SetDefault("observability.log_max_size_mb", 100)
	v.SetDefault("observability.log_max_backups", 5)
	v.SetDefault("observability.log_max_age_days", 30)
	v.SetDefault("observability.metrics_addr", Defaults.MetricsAddr)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.otlp_insecure", true)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.environment", "")
	v.SetDefault("observability.service_name", Defaults.ServiceName)
	v.SetDefault("observability.service_version", "dev")
}

// BindCommonFlags binds the flags every command shares.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	f.String("config", "", "config file path")
	f.String("data-dir", "", "data directory (default ~/.drop)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (auto, text, json)")

	_ = v.BindPFlag(ConfigFileKey, f.Lookup("config"))
	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// BindServeFlags binds flags for the serve command.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address")
	f.String("public-url", "", "public base URL used in upload responses")
	f.String("metrics-addr", "", "metrics HTTP listen address")
	f.String("max-upload-size", "", "largest accepted upload (e.g. 100MB)")

	_ = v.BindPFlag("http.addr", f.Lookup("addr"))
	_ = v.BindPFlag("http.public_url", f.Lookup("public-url"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("limits.max_upload_size", f.Lookup("max-upload-size"))
}

// Load reads config from flags, env, and file, returning the merged Config.
// A missing config file is only an error when configFile names it explicitly.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("drop")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.drop")
		v.AddConfigPath("/etc/drop")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
