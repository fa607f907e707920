package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestEnvProvider(t *testing.T) {
	ctx := context.Background()
	t.Setenv("FINANCE_TEST_SECRET", "test-value")

	provider := NewEnvProvider()

	value, err := provider.GetSecret(ctx, "FINANCE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "test-value", value)

	value, err = provider.GetSecret(ctx, "FINANCE_TEST_MISSING")
	require.NoError(t, err)
	assert.Empty(t, value)

	assert.True(t, provider.IsAvailable(ctx))
	assert.Equal(t, "env", provider.Name())
}

func TestFileProvider(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "claude-api-key", "sk-ant-test-key\n")

	provider := NewFileProvider(dir)

	t.Run("reads and trims the secret file", func(t *testing.T) {
		value, err := provider.GetSecret(ctx, "CLAUDE_API_KEY")
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-test-key", value)
	})

	t.Run("missing file is empty", func(t *testing.T) {
		value, err := provider.GetSecret(ctx, "JWT_SECRET")
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("availability", func(t *testing.T) {
		assert.True(t, provider.IsAvailable(ctx))
		assert.False(t, NewFileProvider("/non/existent/path").IsAvailable(ctx))
		assert.False(t, NewFileProvider("").IsAvailable(ctx))

		file := writeFile(t, dir, "not-a-directory", "content")
		assert.False(t, NewFileProvider(file).IsAvailable(ctx))
	})

	t.Run("unconfigured path is an error", func(t *testing.T) {
		_, err := NewFileProvider("").GetSecret(ctx, "ANY_KEY")
		assert.Error(t, err)
	})

	assert.Equal(t, "claude-api-key", SecretFileName("CLAUDE_API_KEY"))
}

func TestK8sProvider(t *testing.T) {
	ctx := context.Background()
	secrets := t.TempDir()
	account := t.TempDir()
	writeFile(t, secrets, "jwt-secret", "k8s-jwt-secret-32-chars-minimum!")
	writeFile(t, account, "namespace", "finance\n")

	t.Run("unavailable without a service account token", func(t *testing.T) {
		provider := newK8sProvider(secrets, "", account)
		assert.False(t, provider.IsAvailable(ctx))
		assert.Equal(t, "finance", provider.Namespace())
	})

	t.Run("reads mounted secrets inside a pod", func(t *testing.T) {
		writeFile(t, account, "token", "token")
		provider := newK8sProvider(secrets, "", account)
		require.True(t, provider.IsAvailable(ctx))

		value, err := provider.GetSecret(ctx, "JWT_SECRET")
		require.NoError(t, err)
		assert.Equal(t, "k8s-jwt-secret-32-chars-minimum!", value)
		assert.Equal(t, "kubernetes", provider.Name())
	})

	t.Run("explicit namespace wins", func(t *testing.T) {
		assert.Equal(t, "prod", newK8sProvider(secrets, "prod", account).Namespace())
	})

	t.Run("defaults", func(t *testing.T) {
		provider := newK8sProvider("", "", t.TempDir())
		assert.Equal(t, "default", provider.Namespace())
		assert.Equal(t, "/var/secrets", provider.fileProvider.secretsPath)
	})
}

func TestViperProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("yaml with flat and nested keys", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.yaml", `
router:
  threshold: 0.8
  scorer: llm
db_pool_size: 9
cache_ttl: 1m
`)
		provider := NewViperProvider(dir)
		require.True(t, provider.IsAvailable(ctx))
		assert.Equal(t, filepath.Join(dir, "config.yaml"), provider.ConfigFile())

		value, err := provider.GetSecret(ctx, "ROUTER_THRESHOLD")
		require.NoError(t, err)
		assert.Equal(t, "0.8", value)

		value, err = provider.GetSecret(ctx, "DB_POOL_SIZE")
		require.NoError(t, err)
		assert.Equal(t, "9", value)

		value, err = provider.GetSecret(ctx, "REDIS_ADDR")
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("toml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.toml", "currency = \"USD\"\n\n[server]\nport = \"9090\"\n")

		provider := NewViperProvider(dir)
		value, err := provider.GetSecret(ctx, "SERVER_PORT")
		require.NoError(t, err)
		assert.Equal(t, "9090", value)

		value, err = provider.GetSecret(ctx, "CURRENCY")
		require.NoError(t, err)
		assert.Equal(t, "USD", value)
	})

	t.Run("no config file", func(t *testing.T) {
		provider := NewViperProvider(t.TempDir())
		assert.False(t, provider.IsAvailable(ctx))
		assert.Empty(t, provider.ConfigFile())

		value, err := provider.GetSecret(ctx, "PORT")
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "config.yaml", "router: [unclosed\n")

		provider := NewViperProviderFromFile(path)
		assert.False(t, provider.IsAvailable(ctx))
		_, err := provider.GetSecret(ctx, "PORT")
		assert.Error(t, err)
	})
}

func TestChainProvider(t *testing.T) {
	ctx := context.Background()
	t.Setenv("FINANCE_ENV_SECRET", "from-env")
	t.Setenv("FINANCE_SHADOWED", "from-env")

	dir := t.TempDir()
	writeFile(t, dir, "finance-file-secret", "from-file")
	writeFile(t, dir, "finance-shadowed", "from-file")

	chain := NewChainProvider(NewFileProvider(dir), NewEnvProvider())

	tests := []struct {
		key  string
		want string
	}{
		{key: "FINANCE_FILE_SECRET", want: "from-file"},
		{key: "FINANCE_ENV_SECRET", want: "from-env"},
		{key: "FINANCE_SHADOWED", want: "from-file"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			value, err := chain.GetSecret(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}

	t.Run("no available provider", func(t *testing.T) {
		empty := NewChainProvider(NewFileProvider("/non/existent"))
		_, err := empty.GetSecret(ctx, "ANY_KEY")
		assert.Error(t, err)
		assert.False(t, empty.IsAvailable(ctx))
	})

	assert.True(t, chain.IsAvailable(ctx))
	assert.Equal(t, "chain", chain.Name())
}

func TestConfigLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := NewLoader(NewChainProvider()).Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, "finance_reader", cfg.Database.Role)
		assert.Equal(t, "finance_reader", cfg.Database.ReaderUser)
		assert.NotEqual(t, cfg.Database.Username, cfg.Database.ReaderUser)
		assert.Equal(t, 5, cfg.Database.PoolSize)
		assert.True(t, cfg.QuestionLog.Enabled)
		assert.Equal(t, cfg.Database.Host, cfg.QuestionLog.Host)
		assert.Equal(t, 0.75, cfg.Router.Threshold)
		assert.Equal(t, "shape", cfg.Router.Scorer)
		assert.Equal(t, 4000, cfg.Safety.MaxLength)
		assert.Equal(t, 30*time.Second, cfg.Execution.StatementTimeout)
		assert.Equal(t, 10000, cfg.Execution.MaxRows)
		assert.Zero(t, cfg.Cache.TTL)
		assert.Equal(t, "MXN", cfg.Answer.Currency)
		assert.Equal(t, 2, cfg.Answer.MaxGenerationAttempts)
		assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
		assert.Equal(t, 60, cfg.Auth.RateLimit)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("environment overrides", func(t *testing.T) {
		env := map[string]string{
			"DB_DRIVER":         "sqlite",
			"DB_PATH":           "/tmp/ledger.db",
			"DB_POOL_SIZE":      "3",
			"ROUTER_THRESHOLD":  "0.9",
			"STATEMENT_TIMEOUT": "5s",
			"CACHE_TTL":         "2m",
			"API_KEYS":          "ci:$2a$10$abc, cron:$2a$10$def",
			"CURRENCY":          "USD",
			"QUESTION_LOG_HOST": "vectors",
		}
		for k, v := range env {
			t.Setenv(k, v)
		}

		cfg, err := NewLoader(NewEnvProvider()).Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.False(t, cfg.QuestionLog.Enabled, "sqlite deployments log nothing by default")
		assert.Equal(t, "vectors", cfg.QuestionLog.Host)
		assert.Equal(t, 3, cfg.Database.PoolSize)
		assert.Equal(t, 0.9, cfg.Router.Threshold)
		assert.Equal(t, 5*time.Second, cfg.Execution.StatementTimeout)
		assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
		assert.Equal(t, []string{"ci:$2a$10$abc", "cron:$2a$10$def"}, cfg.Auth.APIKeys)
		assert.Equal(t, "USD", cfg.Answer.Currency)
	})

	t.Run("unparsable values keep defaults", func(t *testing.T) {
		t.Setenv("ROUTER_THRESHOLD", "high")
		t.Setenv("MAX_ROWS", "lots")
		t.Setenv("JWT_EXPIRY", "a day")

		cfg, err := NewLoader(NewEnvProvider()).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0.75, cfg.Router.Threshold)
		assert.Equal(t, 10000, cfg.Execution.MaxRows)
		assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiry)
	})

	t.Run("config file under environment", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.yaml", "router:\n  threshold: 0.6\nmax_rows: 500\n")
		t.Setenv("MAX_ROWS", "")

		loader := NewLoader(NewChainProvider(NewViperProvider(dir), NewEnvProvider()))
		cfg, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0.6, cfg.Router.Threshold)
		assert.Equal(t, 500, cfg.Execution.MaxRows)
	})
}

func TestAPIKeyHashes(t *testing.T) {
	tests := []struct {
		name    string
		keys    []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", keys: nil, want: map[string]string{}},
		{name: "pairs", keys: []string{"ci:hash1", " cron : hash2 "}, want: map[string]string{"ci": "hash1", "cron": "hash2"}},
		{name: "hash keeps colons", keys: []string{"ci:$2a$10$x:y"}, want: map[string]string{"ci": "$2a$10$x:y"}},
		{name: "missing hash", keys: []string{"ci"}, wantErr: true},
		{name: "duplicate name", keys: []string{"ci:a", "ci:b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AuthConfig{APIKeys: tt.keys}.APIKeyHashes()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
