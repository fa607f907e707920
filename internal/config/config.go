package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Analytics database holding the ledger
	Database DatabaseConfig

	// Question log with embeddings (PostgreSQL + pgvector)
	QuestionLog QuestionLogConfig

	// Redis for the result cache and rate limiting
	Redis RedisConfig

	// Claude LLM configuration
	Claude ClaudeConfig

	Router    RouterConfig
	Safety    SafetyConfig
	Execution ExecutionConfig
	Cache     CacheConfig
	Answer    AnswerConfig

	// Authentication configuration
	Auth AuthConfig

	// Server configuration
	Server ServerConfig

	LogLevel string
}

// DatabaseConfig holds the analytics database configuration
type DatabaseConfig struct {
	Driver   string // "postgres", "pgx" or "sqlite"
	Path     string // sqlite file
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
	Role     string // read-only role assumed per statement

	// Login for the executor pool; Username and Password belong to the
	// schema owner and are only used for migrations
	ReaderUser     string
	ReaderPassword string

	PoolSize int
}

// QuestionLogConfig holds the question log database configuration
type QuestionLogConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	Username       string
	Password       string
	SSLMode        string
	ReportSchedule string
	ReportWindow   time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClaudeConfig holds Claude API configuration
type ClaudeConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// RouterConfig controls template matching
type RouterConfig struct {
	Threshold float64
	Scorer    string // "shape" or "llm"
}

// SafetyConfig controls the generated SQL validator
type SafetyConfig struct {
	MaxLength int
}

// ExecutionConfig is the executor policy
type ExecutionConfig struct {
	StatementTimeout time.Duration
	MaxRows          int
	MaxPayloadBytes  int
	MaxConnRetries   int
}

// CacheConfig controls the result cache. A zero TTL disables it.
type CacheConfig struct {
	TTL time.Duration
}

// AnswerConfig controls the answer pipeline
type AnswerConfig struct {
	Currency              string
	MaxGenerationAttempts int
	HintLimit             int
}

// AuthConfig holds authentication and authorization configuration
type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration
	APIKeys   []string // name:bcrypt-hash pairs
	RateLimit int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	GinMode         string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Loader handles loading configuration from various sources
type Loader struct {
	provider SecretProvider
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{
		provider: provider,
	}
}

// NewDefaultLoader creates a loader with the default provider chain:
// 1. Kubernetes secrets (if available)
// 2. File-based secrets (if available)
// 3. config.yaml / config.toml in $FINANCE_AI_CONFIG_DIR, ~/.finance-ai or the working directory
// 4. Environment variables (fallback)
func NewDefaultLoader() *Loader {
	providers := []SecretProvider{
		NewK8sProvider("", ""),          // Auto-detect K8s environment
		NewFileProvider("/var/secrets"), // Common secret mount path
		NewViperProvider(configDirs()...),
		NewEnvProvider(), // Always available fallback
	}

	return &Loader{
		provider: NewChainProvider(providers...),
	}
}

func configDirs() []string {
	var dirs []string
	if dir := os.Getenv("FINANCE_AI_CONFIG_DIR"); dir != "" {
		dirs = append(dirs, dir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".finance-ai"))
	}
	return append(dirs, ".")
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	cfg.Database = DatabaseConfig{
		Driver:   l.getString(ctx, "DB_DRIVER", "postgres"),
		Path:     l.getString(ctx, "DB_PATH", "finance.db"),
		Host:     l.getString(ctx, "DB_HOST", "localhost"),
		Port:     l.getString(ctx, "DB_PORT", "5432"),
		Database: l.getString(ctx, "DB_NAME", "finance"),
		Username: l.getString(ctx, "DB_USER", "finance_ai"),
		Password: l.getString(ctx, "DB_PASSWORD", ""),
		SSLMode:  l.getString(ctx, "DB_SSLMODE", "disable"),
		Role:     l.getString(ctx, "DB_READONLY_ROLE", "finance_reader"),
		PoolSize: l.getInt(ctx, "DB_POOL_SIZE", 5),

		ReaderUser:     l.getString(ctx, "DB_READER_USER", "finance_reader"),
		ReaderPassword: l.getString(ctx, "DB_READER_PASSWORD", ""),
	}

	// The question log defaults to the analytics database
	cfg.QuestionLog = QuestionLogConfig{
		Enabled:        l.getBool(ctx, "QUESTION_LOG_ENABLED", cfg.Database.Driver != "sqlite"),
		Host:           l.getString(ctx, "QUESTION_LOG_HOST", cfg.Database.Host),
		Port:           l.getString(ctx, "QUESTION_LOG_PORT", cfg.Database.Port),
		Database:       l.getString(ctx, "QUESTION_LOG_NAME", cfg.Database.Database),
		Username:       l.getString(ctx, "QUESTION_LOG_USER", cfg.Database.Username),
		Password:       l.getString(ctx, "QUESTION_LOG_PASSWORD", cfg.Database.Password),
		SSLMode:        l.getString(ctx, "QUESTION_LOG_SSLMODE", cfg.Database.SSLMode),
		ReportSchedule: l.getString(ctx, "PROMOTION_REPORT_SCHEDULE", "0 3 * * *"),
		ReportWindow:   l.getDuration(ctx, "PROMOTION_REPORT_WINDOW", 7*24*time.Hour),
	}

	cfg.Redis = RedisConfig{
		Addr:     l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password: l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:       l.getInt(ctx, "REDIS_DB", 0),
	}

	cfg.Claude = ClaudeConfig{
		APIKey:  l.getString(ctx, "CLAUDE_API_KEY", ""),
		Model:   l.getString(ctx, "CLAUDE_MODEL", "claude-3-5-sonnet-20241022"),
		Timeout: l.getDuration(ctx, "CLAUDE_TIMEOUT", 30*time.Second),
	}

	cfg.Router = RouterConfig{
		Threshold: l.getFloat(ctx, "ROUTER_THRESHOLD", 0.75),
		Scorer:    l.getString(ctx, "ROUTER_SCORER", "shape"),
	}

	cfg.Safety = SafetyConfig{
		MaxLength: l.getInt(ctx, "SAFETY_MAX_SQL_LENGTH", 4000),
	}

	cfg.Execution = ExecutionConfig{
		StatementTimeout: l.getDuration(ctx, "STATEMENT_TIMEOUT", 30*time.Second),
		MaxRows:          l.getInt(ctx, "MAX_ROWS", 10000),
		MaxPayloadBytes:  l.getInt(ctx, "MAX_PAYLOAD_BYTES", 8<<20),
		MaxConnRetries:   l.getInt(ctx, "MAX_CONN_RETRIES", 2),
	}

	cfg.Cache = CacheConfig{
		TTL: l.getDuration(ctx, "CACHE_TTL", 0),
	}

	cfg.Answer = AnswerConfig{
		Currency:              l.getString(ctx, "CURRENCY", "MXN"),
		MaxGenerationAttempts: l.getInt(ctx, "MAX_GENERATION_ATTEMPTS", 2),
		HintLimit:             l.getInt(ctx, "HINT_LIMIT", 3),
	}

	cfg.Auth = AuthConfig{
		JWTSecret: l.getString(ctx, "JWT_SECRET", ""),
		JWTExpiry: l.getDuration(ctx, "JWT_EXPIRY", 24*time.Hour),
		APIKeys:   l.getSlice(ctx, "API_KEYS", []string{}),
		RateLimit: l.getInt(ctx, "RATE_LIMIT", 60),
	}

	cfg.Server = ServerConfig{
		Port:            l.getString(ctx, "PORT", "8080"),
		GinMode:         l.getString(ctx, "GIN_MODE", "debug"),
		RequestTimeout:  l.getDuration(ctx, "REQUEST_TIMEOUT", 45*time.Second),
		ShutdownTimeout: l.getDuration(ctx, "SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	cfg.LogLevel = l.getString(ctx, "LOG_LEVEL", "info")

	return cfg, nil
}

// APIKeyHashes parses the name:hash pairs of Auth.APIKeys
func (a AuthConfig) APIKeyHashes() (map[string]string, error) {
	hashes := make(map[string]string, len(a.APIKeys))
	for _, pair := range a.APIKeys {
		name, hash, ok := strings.Cut(pair, ":")
		name, hash = strings.TrimSpace(name), strings.TrimSpace(hash)
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("api key entry %q is not name:hash", pair)
		}
		if _, dup := hashes[name]; dup {
			return nil, fmt.Errorf("api key name %q is listed twice", name)
		}
		hashes[name] = hash
	}
	return hashes, nil
}

// Helper methods for retrieving and parsing configuration values

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getFloat(ctx context.Context, key string, defaultValue float64) float64 {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func (l *Loader) getSlice(ctx context.Context, key string, defaultValue []string) []string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	// Split by comma and trim whitespace
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// MustLoad loads configuration and panics on error
// Useful for application startup
func (l *Loader) MustLoad(ctx context.Context) *Config {
	cfg, err := l.Load(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
