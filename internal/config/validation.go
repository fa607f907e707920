package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation error(s):\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate performs comprehensive validation on the configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateQuestionLog()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateClaude()...)
	errors = append(errors, c.validateRouter()...)
	errors = append(errors, c.validateExecution()...)
	errors = append(errors, c.validateAnswer()...)
	errors = append(errors, c.validateAuth()...)
	errors = append(errors, c.validateServer()...)

	if errors.HasErrors() {
		return errors
	}

	return nil
}

func (c *Config) validateDatabase() []ValidationError {
	var errors []ValidationError

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "Database.Path",
				Message: "sqlite database path is required",
			})
		}
	case "postgres", "pgx":
		if c.Database.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "Database.Host",
				Message: "database host is required",
			})
		}

		if c.Database.Port == "" {
			errors = append(errors, ValidationError{
				Field:   "Database.Port",
				Message: "database port is required",
			})
		}

		if c.Database.Database == "" {
			errors = append(errors, ValidationError{
				Field:   "Database.Database",
				Message: "database name is required",
			})
		}

		if c.Database.Username == "" {
			errors = append(errors, ValidationError{
				Field:   "Database.Username",
				Message: "database username is required",
			})
		}

		if c.Database.Role == "" {
			errors = append(errors, ValidationError{
				Field:   "Database.Role",
				Message: "a read-only role is required for postgres",
			})
		}

		switch c.Database.ReaderUser {
		case "":
			errors = append(errors, ValidationError{
				Field:   "Database.ReaderUser",
				Message: "a read-only login is required for postgres",
			})
		case c.Database.Username:
			errors = append(errors, ValidationError{
				Field:   "Database.ReaderUser",
				Message: "the read-only login must differ from the schema owner",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "Database.Driver",
			Message: fmt.Sprintf("unsupported driver: %s (must be 'postgres', 'pgx', or 'sqlite')", c.Database.Driver),
		})
	}

	if c.Database.PoolSize < 1 || c.Database.PoolSize > 50 {
		errors = append(errors, ValidationError{
			Field:   "Database.PoolSize",
			Message: "pool size must be between 1 and 50",
		})
	}

	return errors
}

func (c *Config) validateQuestionLog() []ValidationError {
	var errors []ValidationError

	if !c.QuestionLog.Enabled {
		return errors
	}

	if c.QuestionLog.Host == "" || c.QuestionLog.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "QuestionLog.Host",
			Message: "question log host and database name are required when the log is enabled",
		})
	}

	if c.QuestionLog.ReportWindow <= 0 {
		errors = append(errors, ValidationError{
			Field:   "QuestionLog.ReportWindow",
			Message: "promotion report window must be positive",
		})
	}

	return errors
}

func (c *Config) validateRedis() []ValidationError {
	var errors []ValidationError

	if c.Redis.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "Redis.Addr",
			Message: "redis address is required",
		})
	}

	return errors
}

func (c *Config) validateClaude() []ValidationError {
	var errors []ValidationError

	// Without a key the service still answers template questions
	if c.Claude.APIKey != "" && c.Claude.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "Claude.Model",
			Message: "Claude model is required",
		})
	}

	if c.Router.Scorer == "llm" && c.Claude.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "Claude.APIKey",
			Message: "Claude API key is required for the llm router scorer",
		})
	}

	return errors
}

func (c *Config) validateRouter() []ValidationError {
	var errors []ValidationError

	if c.Router.Threshold < 0.5 || c.Router.Threshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "Router.Threshold",
			Message: fmt.Sprintf("threshold %.2f is outside [0.5, 1]", c.Router.Threshold),
		})
	}

	if c.Router.Scorer != "shape" && c.Router.Scorer != "llm" {
		errors = append(errors, ValidationError{
			Field:   "Router.Scorer",
			Message: fmt.Sprintf("invalid scorer: %s (must be 'shape' or 'llm')", c.Router.Scorer),
		})
	}

	return errors
}

func (c *Config) validateExecution() []ValidationError {
	var errors []ValidationError

	if c.Safety.MaxLength <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Safety.MaxLength",
			Message: "max SQL length must be positive",
		})
	}

	if c.Execution.StatementTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Execution.StatementTimeout",
			Message: "statement timeout must be positive",
		})
	}

	if c.Execution.MaxRows <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Execution.MaxRows",
			Message: "max rows must be positive",
		})
	}

	if c.Execution.MaxPayloadBytes < 0 {
		errors = append(errors, ValidationError{
			Field:   "Execution.MaxPayloadBytes",
			Message: "max payload bytes must be non-negative",
		})
	}

	if c.Execution.MaxConnRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "Execution.MaxConnRetries",
			Message: "connection retries must be non-negative",
		})
	}

	if c.Cache.TTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "Cache.TTL",
			Message: "cache TTL must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateAnswer() []ValidationError {
	var errors []ValidationError

	if len(c.Answer.Currency) != 3 {
		errors = append(errors, ValidationError{
			Field:   "Answer.Currency",
			Message: "currency must be a three-letter ISO code",
		})
	}

	if c.Answer.MaxGenerationAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "Answer.MaxGenerationAttempts",
			Message: "at least one generation attempt is required",
		})
	}

	if c.Answer.HintLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "Answer.HintLimit",
			Message: "hint limit must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateAuth() []ValidationError {
	var errors []ValidationError

	if c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		errors = append(errors, ValidationError{
			Field:   "Auth.JWTSecret",
			Message: "a JWT secret or at least one API key is required",
		})
	}

	if c.Auth.JWTExpiry <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Auth.JWTExpiry",
			Message: "JWT expiry must be positive",
		})
	}

	if _, err := c.Auth.APIKeyHashes(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "Auth.APIKeys",
			Message: err.Error(),
		})
	}

	if c.Auth.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "Auth.RateLimit",
			Message: "rate limit must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port == "" {
		errors = append(errors, ValidationError{
			Field:   "Server.Port",
			Message: "server port is required",
		})
	}

	// Validate GinMode
	validModes := []string{"debug", "release", "test"}
	isValid := false
	for _, mode := range validModes {
		if c.Server.GinMode == mode {
			isValid = true
			break
		}
	}
	if !isValid {
		errors = append(errors, ValidationError{
			Field:   "Server.GinMode",
			Message: fmt.Sprintf("invalid gin mode: %s (must be 'debug', 'release', or 'test')", c.Server.GinMode),
		})
	}

	if c.Server.RequestTimeout <= c.Execution.StatementTimeout {
		errors = append(errors, ValidationError{
			Field:   "Server.RequestTimeout",
			Message: "request timeout must be longer than the statement timeout",
		})
	}

	return errors
}

// ValidateProduction performs additional validation for production environments
// It checks for insecure default values that should not be used in production
func (c *Config) ValidateProduction() error {
	var errors ValidationErrors

	if c.Database.Driver == "sqlite" {
		errors = append(errors, ValidationError{
			Field:   "Database.Driver",
			Message: "production deployment must use PostgreSQL",
		})
	}

	// Check for insecure database passwords
	if c.Database.Password == "" || c.Database.Password == "changeme" {
		errors = append(errors, ValidationError{
			Field:   "Database.Password",
			Message: "production deployment must not use default or empty database password",
		})
	}

	if c.Database.Role == "" {
		errors = append(errors, ValidationError{
			Field:   "Database.Role",
			Message: "production deployment must execute under a read-only role",
		})
	}

	if c.Database.ReaderPassword == "" || c.Database.ReaderPassword == "changeme" {
		errors = append(errors, ValidationError{
			Field:   "Database.ReaderPassword",
			Message: "production deployment must not use default or empty read-only login password",
		})
	}

	// Check for insecure Redis passwords
	if c.Redis.Password == "" || c.Redis.Password == "changeme" {
		errors = append(errors, ValidationError{
			Field:   "Redis.Password",
			Message: "production deployment must not use default or empty Redis password",
		})
	}

	// Check for insecure JWT secrets
	insecureJWTSecrets := []string{
		"",
		"your-secret-key-change-in-production",
		"change-this-in-production",
		"secret",
		"jwt-secret",
	}
	for _, insecure := range insecureJWTSecrets {
		if c.Auth.JWTSecret == insecure {
			errors = append(errors, ValidationError{
				Field:   "Auth.JWTSecret",
				Message: "production deployment must not use default or insecure JWT secret",
			})
			break
		}
	}

	// Check JWT secret length (should be at least 32 characters)
	if len(c.Auth.JWTSecret) < 32 {
		errors = append(errors, ValidationError{
			Field:   "Auth.JWTSecret",
			Message: "JWT secret should be at least 32 characters for production use",
		})
	}

	// Check for placeholder Claude API key
	if c.Claude.APIKey == "your-api-key-here" {
		errors = append(errors, ValidationError{
			Field:   "Claude.APIKey",
			Message: "production deployment requires a valid Claude API key",
		})
	}

	// Ensure Gin is in release mode for production
	if c.Server.GinMode != "release" {
		errors = append(errors, ValidationError{
			Field:   "Server.GinMode",
			Message: "production deployment should use 'release' mode",
		})
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}

// IsProduction determines if the current environment is production
// based on the GinMode setting
func (c *Config) IsProduction() bool {
	return c.Server.GinMode == "release"
}

// ValidateWithContext validates configuration and runs production checks if appropriate
func (c *Config) ValidateWithContext() error {
	// Always run basic validation
	if err := c.Validate(); err != nil {
		return err
	}

	// Run production validation if in production mode
	if c.IsProduction() {
		if err := c.ValidateProduction(); err != nil {
			return fmt.Errorf("production validation failed: %w", err)
		}
	}

	return nil
}
