// Package app wires configuration into a running answer pipeline. The HTTP
// server and the command line tools share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/seanankenbruck/finance-ai/internal/auth"
	"github.com/seanankenbruck/finance-ai/internal/cache"
	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/config"
	"github.com/seanankenbruck/finance-ai/internal/database"
	"github.com/seanankenbruck/finance-ai/internal/llm"
	"github.com/seanankenbruck/finance-ai/internal/observability"
	"github.com/seanankenbruck/finance-ai/internal/processor"
	"github.com/seanankenbruck/finance-ai/internal/query"
	"github.com/seanankenbruck/finance-ai/internal/router"
	"github.com/seanankenbruck/finance-ai/internal/safety"
	"github.com/seanankenbruck/finance-ai/internal/semantic"
)

// Options adjusts how the pipeline is assembled
type Options struct {
	CatalogPath string // empty uses the embedded catalog
	Migrate     bool   // apply migrations after connecting
	SkipRedis   bool
	SkipAuth    bool
}

// App holds the assembled components
type App struct {
	Config      *config.Config
	Logger      *observability.Logger
	DB          *sql.DB // executor pool, authenticated as the read-only login
	OwnerDB     *sql.DB // schema owner, opened only when Options.Migrate is set
	Redis       *redis.Client
	Catalog     *catalog.Catalog
	Router      *router.Router
	Validator   *safety.Validator
	Executor    *query.Executor
	QuestionLog semantic.QuestionLog
	Reporter    *semantic.PromotionReporter
	Processor   *processor.Processor
	Health      *observability.HealthChecker
	Auth        *auth.AuthManager

	closers []func() error
}

// OwnerDatabaseConfig maps the analytics settings onto the schema owner's
// pool, used for migrations and seeding
func OwnerDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Driver:          cfg.Database.Driver,
		Path:            cfg.Database.Path,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Name:            cfg.Database.Database,
		User:            cfg.Database.Username,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		PoolSize:        cfg.Database.PoolSize,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// ReaderDatabaseConfig is the executor pool: the read-only login on
// postgres, a query_only connection on sqlite
func ReaderDatabaseConfig(cfg *config.Config) database.Config {
	c := OwnerDatabaseConfig(cfg)
	c.ReadOnly = true
	if c.Driver != database.DriverSQLite {
		c.User = cfg.Database.ReaderUser
		c.Password = cfg.Database.ReaderPassword
	}
	return c
}

// Policy builds the executor policy from configuration
func Policy(cfg *config.Config) query.Policy {
	policy := query.DefaultPolicy()
	policy.StatementTimeout = cfg.Execution.StatementTimeout
	policy.MaxRows = cfg.Execution.MaxRows
	policy.MaxPayloadBytes = cfg.Execution.MaxPayloadBytes
	policy.MaxConnRetries = cfg.Execution.MaxConnRetries
	policy.PoolSize = cfg.Database.PoolSize
	policy.Role = cfg.Database.Role
	return policy
}

// New connects to every backend and assembles the pipeline. Optional
// backends (redis, question log, LLM) degrade with a warning instead of
// failing startup.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := observability.NewLogger("finance-ai").WithLevel(observability.ParseLevel(cfg.LogLevel))
	a := &App{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthChecker(),
	}

	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config

	var err error
	if opts.CatalogPath != "" {
		a.Catalog, err = catalog.LoadFile(opts.CatalogPath)
	} else {
		a.Catalog, err = catalog.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	if opts.Migrate {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	dbConfig := ReaderDatabaseConfig(cfg)
	a.DB, err = database.Open(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open analytics database: %w", err)
	}
	a.closers = append(a.closers, a.DB.Close)

	policy := Policy(cfg)
	if dbConfig.Driver == database.DriverSQLite {
		policy.Role = ""
	} else if err := a.verifyReader(ctx); err != nil {
		return err
	}
	if err := policy.ValidateFor(dbConfig.Dialect()); err != nil {
		return fmt.Errorf("invalid execution policy: %w", err)
	}

	a.Validator = safety.NewValidator(a.Catalog.AllowedTables())
	a.Validator.MaxLength = cfg.Safety.MaxLength

	a.Executor = query.NewExecutor(a.DB, dbConfig.Dialect(), policy, a.Catalog, a.Validator).
		WithLogger(a.Logger.Component("query-executor"))

	a.Health.Register("analytics_database", observability.DatabaseHealthCheck(func(ctx context.Context) error {
		return database.HealthCheck(ctx, a.DB)
	}))

	limiter := a.connectRedis(ctx, opts)

	client := a.connectLLM(ctx)

	var scorer router.Scorer = router.NewShapeScorer()
	if cfg.Router.Scorer == "llm" && client != nil {
		scorer = router.NewLLMScorer(client)
	}
	a.Router, err = router.New(a.Catalog, scorer, cfg.Router.Threshold)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	a.Router.WithLogger(a.Logger.Component("router"))

	a.QuestionLog = a.openQuestionLog(ctx)
	a.Reporter, err = semantic.NewPromotionReporter(a.QuestionLog, a.Logger.Component("promotion-report"),
		cfg.QuestionLog.ReportSchedule, cfg.QuestionLog.ReportWindow)
	if err != nil {
		return fmt.Errorf("failed to create promotion reporter: %w", err)
	}

	deps := processor.Dependencies{
		Router:      a.Router,
		Catalog:     a.Catalog,
		Validator:   a.Validator,
		Executor:    a.Executor,
		QuestionLog: a.QuestionLog,
		Cache:       cache.NewResultCache(a.Redis, cfg.Cache.TTL),
	}
	if client != nil {
		deps.Generator = llm.NewSQLGenerator(client)
		deps.Embedder = client
	}

	a.Processor, err = processor.NewProcessor(deps, processor.Config{
		MaxGenerationAttempts: cfg.Answer.MaxGenerationAttempts,
		RequestTimeout:        cfg.Server.RequestTimeout,
		HintLimit:             cfg.Answer.HintLimit,
		Currency:              cfg.Answer.Currency,
	})
	if err != nil {
		return fmt.Errorf("failed to create answer processor: %w", err)
	}
	a.Processor.WithLogger(a.Logger.Component("answer-processor"))
	a.Processor.SetHealthChecker(a.Health)
	a.Health.SetMetadata("templates", len(a.Catalog.All()))
	a.Health.SetMetadata("driver", dbConfig.Driver)
	a.Health.SetMetadata("dynamic_generation", client != nil)

	if !opts.SkipAuth {
		hashes, err := cfg.Auth.APIKeyHashes()
		if err != nil {
			return fmt.Errorf("invalid api keys: %w", err)
		}
		a.Auth, err = auth.NewAuthManager(auth.AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			JWTExpiry: cfg.Auth.JWTExpiry,
			APIKeys:   hashes,
			RateLimit: cfg.Auth.RateLimit,
		}, limiter)
		if err != nil {
			return fmt.Errorf("failed to create auth manager: %w", err)
		}
	}

	return nil
}

// migrate applies the schema through the owner pool and, on postgres,
// provisions the read-only login when its password is configured
func (a *App) migrate(ctx context.Context) error {
	cfg := a.Config
	ownerConfig := OwnerDatabaseConfig(cfg)

	owner, err := database.Open(ctx, ownerConfig)
	if err != nil {
		return fmt.Errorf("failed to open analytics database as owner: %w", err)
	}
	a.OwnerDB = owner
	a.closers = append(a.closers, owner.Close)

	if err := database.Migrate(owner, ownerConfig.Driver); err != nil {
		return fmt.Errorf("failed to migrate analytics database: %w", err)
	}

	if ownerConfig.Driver != database.DriverSQLite && cfg.Database.ReaderPassword != "" {
		if err := database.ProvisionReader(ctx, owner, cfg.Database.ReaderUser, cfg.Database.ReaderPassword, cfg.Database.Role); err != nil {
			return err
		}
	}
	return nil
}

// verifyReader refuses to serve answers through a login that can write
func (a *App) verifyReader(ctx context.Context) error {
	report, err := database.VerifyReadOnly(ctx, a.DB)
	if err != nil {
		return fmt.Errorf("failed to verify read-only login: %w", err)
	}
	if !report.ReadOnly() {
		a.Logger.Error(ctx, "Analytics login can write", nil, map[string]interface{}{
			"login":     report.Login,
			"superuser": report.Superuser,
			"writable":  report.Writable,
		})
		return fmt.Errorf("analytics login %s is not read-only", report.Login)
	}
	return nil
}

// connectRedis returns the rate limiter to use. Without redis the result
// cache stays off and rate limiting is per process.
func (a *App) connectRedis(ctx context.Context, opts Options) auth.Limiter {
	if opts.SkipRedis {
		return auth.NewRateLimiter()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.Logger.Warn(ctx, "Redis unavailable, result cache disabled", map[string]interface{}{
			"addr":  a.Config.Redis.Addr,
			"error": err.Error(),
		})
		rdb.Close()
		return auth.NewRateLimiter()
	}

	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)
	a.Health.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	return auth.NewRedisRateLimiter(rdb)
}

// connectLLM returns nil when no API key is configured; only template
// questions are answered then.
func (a *App) connectLLM(ctx context.Context) *llm.BreakerClient {
	cfg := a.Config.Claude
	if cfg.APIKey == "" {
		a.Logger.Warn(ctx, "No Claude API key configured, dynamic generation disabled", nil)
		return nil
	}

	claude, err := llm.NewClaudeClientWithConfig(llm.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: int(cfg.Timeout / time.Second),
	})
	if err != nil {
		a.Logger.Warn(ctx, "Failed to create Claude client, dynamic generation disabled", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	client := llm.NewBreakerClient(claude, "claude", llm.DefaultGenerationBreakerConfig, a.Logger.Component("llm-circuit-breaker"))
	a.Health.Register("llm_service", observability.LLMHealthCheck(func(ctx context.Context) error {
		if !client.Available() {
			return fmt.Errorf("circuit breaker open")
		}
		return nil
	}))
	return client
}

// openQuestionLog falls back to an in-process log when postgres is disabled
// or unreachable
func (a *App) openQuestionLog(ctx context.Context) semantic.QuestionLog {
	cfg := a.Config.QuestionLog
	if cfg.Enabled {
		pgLog, err := semantic.NewPostgresLog(semantic.PostgresConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
			SSLMode:  cfg.SSLMode,
		})
		if err == nil {
			a.closers = append(a.closers, pgLog.Close)
			a.Health.Register("question_log", observability.QuestionLogHealthCheck(pgLog.Ping))
			return pgLog
		}
		a.Logger.Warn(ctx, "Question log unavailable, keeping it in memory", map[string]interface{}{
			"host":  cfg.Host,
			"error": err.Error(),
		})
	}
	return semantic.NewMemoryLog()
}

// Close releases connections in reverse order of opening
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
