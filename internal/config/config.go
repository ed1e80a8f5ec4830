// Package config provides configuration types for InfraGate.
//
// Configuration is file-based (infragate.yaml) with environment overrides
// (INFRAGATE_*). Identities, roles and API keys are static: the capability
// registry and the keys that map to it are loaded once at startup.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for InfraGate.
type Config struct {
	// Server configures the REST listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Auth configures identities and API keys.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Capabilities points at the role -> capability registry file.
	// Optional in dev mode, where a built-in registry is used.
	Capabilities CapabilitiesConfig `yaml:"capabilities" mapstructure:"capabilities"`

	// Confirmation configures the confirmation tracker.
	Confirmation ConfirmationConfig `yaml:"confirmation" mapstructure:"confirmation"`

	// Redis is used when confirmation.backend is "redis".
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Validator configures the independent validator.
	Validator ValidatorConfig `yaml:"validator" mapstructure:"validator"`

	// Audit configures where audit records are stored.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// RateLimit limits mutating proposals per session.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Executor selects the backend that runs approved actions.
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`

	// Query configures the read-only database backend.
	Query QueryConfig `yaml:"query" mapstructure:"query"`

	// Redaction adds columns to the built-in PII column list.
	Redaction RedactionConfig `yaml:"redaction" mapstructure:"redaction"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Incidents configures the incident journal used by the demo backend.
	Incidents IncidentsConfig `yaml:"incidents" mapstructure:"incidents"`

	// Session configures conversation evidence retention.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// DevMode enables a built-in identity, key and registry for local use.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: debug, info, warn, error.
	// DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	// AllowedOrigins lists browser origins permitted to call the API.
	// Requests carrying any other Origin header are rejected.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`
}

// AuthConfig configures static authentication.
type AuthConfig struct {
	// Identities defines the known agents and humans.
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys maps hashed keys to identities.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// IdentityConfig defines an identity and its single role.
type IdentityConfig struct {
	ID   string `yaml:"id" mapstructure:"id" validate:"required"`
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// Role must name a role in the capability registry.
	Role string `yaml:"role" mapstructure:"role" validate:"required"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is "sha256:<hex>" or an Argon2id PHC string.
	// Generate with: infragate hash-key
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// IdentityID must match an ID in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`

	// Name is an optional label.
	Name string `yaml:"name" mapstructure:"name"`
}

// CapabilitiesConfig locates the capability registry.
type CapabilitiesConfig struct {
	// Path is a YAML file with a semver version and a roles map.
	Path string `yaml:"path" mapstructure:"path"`
}

// ConfirmationConfig configures the confirmation tracker.
type ConfirmationConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory redis"`

	// Window is how long a pending or confirmed proposal stays usable.
	// Defaults to "10m".
	Window string `yaml:"window" mapstructure:"window" validate:"omitempty,duration"`

	// SweepInterval is how often expired entries are purged (memory only).
	// Defaults to "1m".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty,duration"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"min=0"`
	// Prefix namespaces all keys. Defaults to "infragate".
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// ValidatorConfig configures the independent validator.
type ValidatorConfig struct {
	// Timeout bounds one validation. Timeouts block the proposal.
	// Defaults to "5s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// MaxReplicas caps scale_deployment. Defaults to 20.
	MaxReplicas int `yaml:"max_replicas" mapstructure:"max_replicas" validate:"omitempty,min=1"`

	// Rules are additional CEL deny rules evaluated after the built-in ones.
	Rules []DenyRuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// DenyRuleConfig defines a CEL rule that blocks matching proposals.
type DenyRuleConfig struct {
	// Name identifies the rule in verdicts and audit records.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Condition is a CEL expression over the proposal (action, arguments,
	// justification, role, session_id, identity_id) and the session evidence
	// (confirmed, user_messages, request_time). True blocks the proposal.
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`

	// Reason is shown to the agent when the rule fires.
	Reason string `yaml:"reason" mapstructure:"reason"`
}

// AuditConfig configures audit storage.
type AuditConfig struct {
	// Backend is "memory", "file" or "sqlite". Defaults to "file".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=memory file sqlite"`

	// Stdout mirrors every record as a JSON line on stdout (memory backend).
	Stdout bool `yaml:"stdout" mapstructure:"stdout"`

	// Dir is the directory for the file backend.
	// Defaults to "~/.infragate/audit".
	Dir string `yaml:"dir" mapstructure:"dir"`

	// MaxFileSizeMB rotates audit files above this size. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// SQLitePath is the database file for the sqlite backend.
	// Defaults to "~/.infragate/audit.db".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// RateLimitConfig limits mutating proposals per session.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Rate is the number of mutating proposals allowed per Period.
	// Defaults to 10.
	Rate int `yaml:"rate" mapstructure:"rate" validate:"omitempty,min=1"`

	// Burst allows short spikes above Rate. Defaults to Rate.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`

	// Period is the rate window. Defaults to "1m".
	Period string `yaml:"period" mapstructure:"period" validate:"omitempty,duration"`

	// CleanupInterval is how often idle limiter entries are removed.
	// Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL is the maximum age of an idle limiter entry. Defaults to "1h".
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// ExecutorConfig selects the action backend.
type ExecutorConfig struct {
	// Mode is "demo" (simulated cluster, monitoring and incidents),
	// "webhook" or "mcp". Defaults to "demo".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=demo webhook mcp"`

	// Webhook is used when Mode is "webhook".
	Webhook WebhookConfig `yaml:"webhook" mapstructure:"webhook"`

	// MCP is used when Mode is "mcp".
	MCP MCPUpstreamConfig `yaml:"mcp" mapstructure:"mcp"`
}

// MCPUpstreamConfig points at the MCP server that performs actions. Set
// either Command (stdio subprocess) or URL (Streamable HTTP).
type MCPUpstreamConfig struct {
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`
	URL     string   `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	Token   string   `yaml:"token" mapstructure:"token"`
	// Timeout bounds each tool call. Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// WebhookConfig configures the webhook executor.
type WebhookConfig struct {
	URL   string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	Token string `yaml:"token" mapstructure:"token"`
	// Timeout bounds each call. Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// QueryConfig configures the read-only database backend.
type QueryConfig struct {
	// PostgresDSN selects PostgreSQL. Empty uses the in-memory demo database.
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`

	// MaxRows truncates results. Defaults to 100.
	MaxRows int `yaml:"max_rows" mapstructure:"max_rows" validate:"omitempty,min=1"`

	// StatementTimeout is applied per statement. Defaults to "10s".
	StatementTimeout string `yaml:"statement_timeout" mapstructure:"statement_timeout" validate:"omitempty,duration"`

	// SlowThreshold is the mean execution time above which a statement is
	// reported by slow_queries. Defaults to "500ms".
	SlowThreshold string `yaml:"slow_threshold" mapstructure:"slow_threshold" validate:"omitempty,duration"`
}

// RedactionConfig extends PII masking.
type RedactionConfig struct {
	// ExtraColumns are masked in addition to the built-in list.
	ExtraColumns []string `yaml:"extra_columns" mapstructure:"extra_columns"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// SampleRate is between 0 and 1. Defaults to 1.
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// IncidentsConfig configures the incident journal.
type IncidentsConfig struct {
	// JournalPath persists logged incidents. Empty keeps them in memory.
	JournalPath string `yaml:"journal_path" mapstructure:"journal_path"`
}

// SessionConfig configures conversation sessions.
type SessionConfig struct {
	// Timeout drops idle session evidence. Defaults to "30m".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// DevAPIKey is the raw key accepted in dev mode.
const DevAPIKey = "dev-api-key"

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"

	if len(c.Auth.Identities) == 0 {
		c.Auth.Identities = []IdentityConfig{
			{
				ID:   "dev-user",
				Name: "Development User",
				Role: "sre-admin",
			},
		}
	}

	// SHA256 of "dev-api-key"
	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{
				KeyHash:    "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274",
				IdentityID: "dev-user",
				Name:       "dev",
			},
		}
	}

	if c.Audit.Backend == "" {
		c.Audit.Backend = "memory"
		c.Audit.Stdout = true
	}
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless told otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Confirmation.Backend == "" {
		c.Confirmation.Backend = "memory"
	}
	if c.Confirmation.Window == "" {
		c.Confirmation.Window = "10m"
	}
	if c.Confirmation.SweepInterval == "" {
		c.Confirmation.SweepInterval = "1m"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "infragate"
	}

	if c.Validator.Timeout == "" {
		c.Validator.Timeout = "5s"
	}
	if c.Validator.MaxReplicas == 0 {
		c.Validator.MaxReplicas = 20
	}

	if c.Audit.Backend == "" && !c.DevMode {
		c.Audit.Backend = "file"
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = dataPath("audit")
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.SQLitePath == "" {
		c.Audit.SQLitePath = dataPath("audit.db")
	}

	// Only apply the default when the user hasn't explicitly set it in YAML/env.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.Rate
	}
	if c.RateLimit.Period == "" {
		c.RateLimit.Period = "1m"
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.Executor.Mode == "" {
		c.Executor.Mode = "demo"
	}
	if c.Executor.Webhook.Timeout == "" {
		c.Executor.Webhook.Timeout = "30s"
	}
	if c.Executor.MCP.Timeout == "" {
		c.Executor.MCP.Timeout = "30s"
	}

	if c.Query.MaxRows == 0 {
		c.Query.MaxRows = 100
	}
	if c.Query.StatementTimeout == "" {
		c.Query.StatementTimeout = "10s"
	}
	if c.Query.SlowThreshold == "" {
		c.Query.SlowThreshold = "500ms"
	}

	if !viper.IsSet("tracing.sample_rate") && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}

	if c.Session.Timeout == "" {
		c.Session.Timeout = "30m"
	}
}
