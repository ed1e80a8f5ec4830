package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/capability"
)

// RegisterCustomValidators registers InfraGate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("key_hash", validateKeyHash); err != nil {
		return fmt.Errorf("failed to register key_hash validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateKeyHash accepts "sha256:<64 hex>" and Argon2id PHC strings.
func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != "unknown"
}

// validateDuration accepts anything time.ParseDuration accepts, if positive.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateIdentityReferences(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if c.Capabilities.Path == "" && !c.DevMode {
		return errors.New("capabilities.path is required outside dev mode")
	}
	return nil
}

// validateIdentityReferences ensures identity IDs are unique and every API
// key references a known identity.
func (c *Config) validateIdentityReferences() error {
	knownIdentities := make(map[string]struct{}, len(c.Auth.Identities))
	for i, identity := range c.Auth.Identities {
		if _, dup := knownIdentities[identity.ID]; dup {
			return fmt.Errorf("identities[%d]: duplicate id: %s", i, identity.ID)
		}
		knownIdentities[identity.ID] = struct{}{}
	}

	for i, apiKey := range c.Auth.APIKeys {
		if _, exists := knownIdentities[apiKey.IdentityID]; !exists {
			return fmt.Errorf("api_keys[%d]: references unknown identity_id: %s", i, apiKey.IdentityID)
		}
	}
	return nil
}

// validateBackends checks settings that only matter for the selected backend.
func (c *Config) validateBackends() error {
	if c.Executor.Mode == "webhook" && c.Executor.Webhook.URL == "" {
		return errors.New("executor.webhook.url is required when executor.mode is webhook")
	}
	if c.Executor.Mode == "mcp" {
		m := c.Executor.MCP
		if (m.Command == "") == (m.URL == "") {
			return errors.New("executor.mcp requires exactly one of command or url when executor.mode is mcp")
		}
	}
	if c.Confirmation.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when confirmation.backend is redis")
	}
	if c.Audit.Backend == "file" && c.Audit.Dir == "" {
		return errors.New("audit.dir is required when audit.backend is file")
	}
	if c.Audit.Backend == "sqlite" && c.Audit.SQLitePath == "" {
		return errors.New("audit.sqlite_path is required when audit.backend is sqlite")
	}
	return nil
}

// ValidateRoles checks that every identity's role exists in reg. It runs
// once the registry file has been loaded.
func (c *Config) ValidateRoles(reg *capability.Registry) error {
	for i, identity := range c.Auth.Identities {
		if !reg.HasRole(capability.Role(identity.Role)) {
			return fmt.Errorf("identities[%d]: role %q is not defined in the capability registry", i, identity.Role)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "key_hash":
		return fmt.Sprintf("%s must be 'sha256:<hex>' or an argon2id hash", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like '30s' or '5m'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
