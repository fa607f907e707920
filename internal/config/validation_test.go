package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewLoader(NewChainProvider()).Load(context.Background())
	require.NoError(t, err)
	cfg.Database.Password = "ledger-pass"
	cfg.Database.ReaderPassword = "reader-pass"
	cfg.Redis.Password = "redis-pass"
	cfg.Auth.JWTSecret = "a-very-long-jwt-secret-for-finance-ai-tests"
	return cfg
}

func fieldsOf(err error) []string {
	var fields []string
	if errs, ok := err.(ValidationErrors); ok {
		for _, e := range errs {
			fields = append(fields, e.Field)
		}
	}
	return fields
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "sqlite needs only a path", mutate: func(c *Config) {
			c.Database.Driver = "sqlite"
			c.Database.Host = ""
		}},
		{name: "sqlite without path", mutate: func(c *Config) {
			c.Database.Driver = "sqlite"
			c.Database.Path = ""
		}, fields: []string{"Database.Path"}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, fields: []string{"Database.Driver"}},
		{name: "missing database host", mutate: func(c *Config) { c.Database.Host = "" }, fields: []string{"Database.Host"}},
		{name: "pool too large", mutate: func(c *Config) { c.Database.PoolSize = 51 }, fields: []string{"Database.PoolSize"}},
		{name: "postgres without read-only role", mutate: func(c *Config) { c.Database.Role = "" }, fields: []string{"Database.Role"}},
		{name: "postgres without reader login", mutate: func(c *Config) { c.Database.ReaderUser = "" }, fields: []string{"Database.ReaderUser"}},
		{name: "reader login is the schema owner", mutate: func(c *Config) { c.Database.ReaderUser = c.Database.Username }, fields: []string{"Database.ReaderUser"}},
		{name: "sqlite ignores roles", mutate: func(c *Config) {
			c.Database.Driver = "sqlite"
			c.Database.Role = ""
			c.Database.ReaderUser = ""
		}},
		{name: "question log without host", mutate: func(c *Config) { c.QuestionLog.Host = "" }, fields: []string{"QuestionLog.Host"}},
		{name: "disabled question log is not checked", mutate: func(c *Config) {
			c.QuestionLog.Enabled = false
			c.QuestionLog.Host = ""
		}},
		{name: "threshold below range", mutate: func(c *Config) { c.Router.Threshold = 0.4 }, fields: []string{"Router.Threshold"}},
		{name: "threshold above range", mutate: func(c *Config) { c.Router.Threshold = 1.01 }, fields: []string{"Router.Threshold"}},
		{name: "threshold bounds are inclusive", mutate: func(c *Config) { c.Router.Threshold = 0.5 }},
		{name: "unknown scorer", mutate: func(c *Config) { c.Router.Scorer = "regex" }, fields: []string{"Router.Scorer"}},
		{name: "llm scorer needs a key", mutate: func(c *Config) { c.Router.Scorer = "llm" }, fields: []string{"Claude.APIKey"}},
		{name: "no row cap", mutate: func(c *Config) { c.Execution.MaxRows = 0 }, fields: []string{"Execution.MaxRows"}},
		{name: "negative cache ttl", mutate: func(c *Config) { c.Cache.TTL = -time.Second }, fields: []string{"Cache.TTL"}},
		{name: "bad currency", mutate: func(c *Config) { c.Answer.Currency = "PESOS" }, fields: []string{"Answer.Currency"}},
		{name: "no generation attempts", mutate: func(c *Config) { c.Answer.MaxGenerationAttempts = 0 }, fields: []string{"Answer.MaxGenerationAttempts"}},
		{name: "no credentials", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, fields: []string{"Auth.JWTSecret"}},
		{name: "api keys alone are enough", mutate: func(c *Config) {
			c.Auth.JWTSecret = ""
			c.Auth.APIKeys = []string{"ci:$2a$10$hash"}
		}},
		{name: "malformed api key", mutate: func(c *Config) { c.Auth.APIKeys = []string{"ci"} }, fields: []string{"Auth.APIKeys"}},
		{name: "invalid gin mode", mutate: func(c *Config) { c.Server.GinMode = "production" }, fields: []string{"Server.GinMode"}},
		{name: "request timeout shorter than statement timeout", mutate: func(c *Config) {
			c.Server.RequestTimeout = 10 * time.Second
		}, fields: []string{"Server.RequestTimeout"}},
		{name: "errors accumulate", mutate: func(c *Config) {
			c.Redis.Addr = ""
			c.Safety.MaxLength = 0
		}, fields: []string{"Redis.Addr", "Safety.MaxLength"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.fields, fieldsOf(err))
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())

	msg := ValidationErrors{
		{Field: "Router.Threshold", Message: "out of range"},
		{Field: "Execution.MaxRows", Message: "must be positive"},
	}.Error()
	assert.True(t, strings.HasPrefix(msg, "2 validation error(s):"))
	assert.Contains(t, msg, "Router.Threshold - out of range")
}

func TestProductionValidation(t *testing.T) {
	production := func(t *testing.T) *Config {
		cfg := validConfig(t)
		cfg.Server.GinMode = "release"
		return cfg
	}

	t.Run("secure config passes", func(t *testing.T) {
		assert.NoError(t, production(t).ValidateWithContext())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "sqlite", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, field: "Database.Driver"},
		{name: "default database password", mutate: func(c *Config) { c.Database.Password = "changeme" }, field: "Database.Password"},
		{name: "no read-only role", mutate: func(c *Config) { c.Database.Role = "" }, field: "Database.Role"},
		{name: "empty reader password", mutate: func(c *Config) { c.Database.ReaderPassword = "" }, field: "Database.ReaderPassword"},
		{name: "empty redis password", mutate: func(c *Config) { c.Redis.Password = "" }, field: "Redis.Password"},
		{name: "short jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short-secret" }, field: "Auth.JWTSecret"},
		{name: "placeholder claude key", mutate: func(c *Config) { c.Claude.APIKey = "your-api-key-here" }, field: "Claude.APIKey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := production(t)
			tt.mutate(cfg)

			err := cfg.ValidateProduction()
			require.Error(t, err)
			assert.Contains(t, fieldsOf(err), tt.field)
		})
	}

	t.Run("debug mode skips production checks", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Database.Password = ""
		assert.NoError(t, cfg.ValidateWithContext())
		assert.Error(t, cfg.ValidateProduction())
	})
}

func TestIsProduction(t *testing.T) {
	for mode, want := range map[string]bool{"release": true, "debug": false, "test": false} {
		t.Run(mode, func(t *testing.T) {
			cfg := &Config{Server: ServerConfig{GinMode: mode}}
			assert.Equal(t, want, cfg.IsProduction())
		})
	}
}
