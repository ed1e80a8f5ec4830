package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for infragate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself is
// never picked up as the config file.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig will return ConfigFileNotFoundError, which callers
		// treat as "environment only".
		viper.SetConfigName("infragate")
		viper.SetConfigType("yaml")
	}

	// INFRAGATE_SERVER_HTTP_ADDR overrides server.http_addr
	viper.SetEnvPrefix("INFRAGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for infragate.yaml or .yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".infragate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "infragate"))
		}
	} else {
		paths = append(paths, "/etc/infragate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first infragate.yaml or infragate.yml
// found in paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "infragate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar keys so nested values can be overridden
// from the environment. Lists (identities, api_keys, validator rules) are
// file-only.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"server.tls_cert_file",
		"server.tls_key_file",

		"capabilities.path",

		"confirmation.backend",
		"confirmation.window",
		"confirmation.sweep_interval",

		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.prefix",

		"validator.timeout",
		"validator.max_replicas",

		"audit.backend",
		"audit.stdout",
		"audit.dir",
		"audit.max_file_size_mb",
		"audit.sqlite_path",

		"rate_limit.enabled",
		"rate_limit.rate",
		"rate_limit.burst",
		"rate_limit.period",
		"rate_limit.cleanup_interval",
		"rate_limit.max_ttl",

		"executor.mode",
		"executor.webhook.url",
		"executor.webhook.token",
		"executor.webhook.timeout",

		"query.postgres_dsn",
		"query.max_rows",
		"query.statement_timeout",
		"query.slow_threshold",

		"tracing.enabled",
		"tracing.sample_rate",

		"incidents.journal_path",
		"session.timeout",

		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates the result.
// Callers that apply CLI overrides (e.g. --dev) should use LoadConfigRaw,
// then call SetDevDefaults and Validate themselves.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// Duration parses a validated duration field. Empty or malformed values
// yield fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// dataPath returns name under ~/.infragate, or under the working directory
// when the home directory is unknown.
func dataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".infragate", name)
	}
	return filepath.Join(home, ".infragate", name)
}
