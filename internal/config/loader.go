// Package config provides configuration loading for goxeld.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for goxeld.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's SetConfigName would
// otherwise match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("goxeld")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: GOXEL_SOCKET_PATH, GOXEL_WORKER_COUNT, ...
	viper.SetEnvPrefix("GOXEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()

	// The shutdown method stays available unless the operator turns it off.
	viper.SetDefault("allow_remote_shutdown", true)
}

// findConfigFile searches standard locations for a goxeld config file with
// an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".goxel"),
		"/etc/goxeld",
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for goxeld.yaml or
// .yml, returning the full path of the first match.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "goxeld"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every DaemonConfig key for environment variable
// override (e.g. GOXEL_SOCKET_PATH overrides socket_path).
func bindNestedEnvKeys() {
	_ = viper.BindEnv("socket_path")
	_ = viper.BindEnv("worker_count")
	_ = viper.BindEnv("request_queue_capacity")
	_ = viper.BindEnv("max_connections")
	_ = viper.BindEnv("max_message_bytes")
	_ = viper.BindEnv("request_timeout_ms")
	_ = viper.BindEnv("outbound_queue_depth")
	_ = viper.BindEnv("session_drain_deadline_ms")
	_ = viper.BindEnv("session_idle_timeout_ms")

	_ = viper.BindEnv("render_dir")
	_ = viper.BindEnv("render_ttl_ms")
	_ = viper.BindEnv("render_max_total_bytes")
	_ = viper.BindEnv("render_sweep_interval_ms")

	_ = viper.BindEnv("pidfile_path")
	_ = viper.BindEnv("log_level")

	_ = viper.BindEnv("audit_dir")
	_ = viper.BindEnv("audit_retention_days")
	_ = viper.BindEnv("audit_max_file_mb")

	_ = viper.BindEnv("metrics_addr")
	_ = viper.BindEnv("tracing_enabled")

	_ = viper.BindEnv("access_token_hash")

	_ = viper.BindEnv("connect_rate_per_sec")
	_ = viper.BindEnv("connect_burst")
	_ = viper.BindEnv("allow_remote_shutdown")

	// Note: method_policies is a map, left to config-file-only configuration.
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, applies dev defaults, and validates. Use LoadConfigRaw
// instead when CLI flags need to influence dev-mode before validation.
func LoadConfig(devMode bool) (*DaemonConfig, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults(devMode)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate.
func LoadConfigRaw() (*DaemonConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg DaemonConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or empty string if none was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
