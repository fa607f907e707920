package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/finance-ai/internal/app"
	"github.com/seanankenbruck/finance-ai/internal/config"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if err := cfg.ValidateWithContext(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}
	gin.SetMode(cfg.Server.GinMode)

	a, err := app.New(ctx, cfg, app.Options{
		CatalogPath: os.Getenv("CATALOG_PATH"),
		Migrate:     os.Getenv("AUTO_MIGRATE") == "true",
	})
	if err != nil {
		log.Fatal("Failed to start answer pipeline:", err)
	}
	defer a.Close()

	logger := a.Logger.Component("main")

	a.Reporter.Start()
	defer a.Reporter.Stop()

	router := a.Processor.SetupRoutes(a.Auth)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info(shutdownCtx, "Shutting down", nil)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "Graceful shutdown failed", err, nil)
		}
	}()

	logger.Info(ctx, "Query processor starting", map[string]interface{}{
		"port":      cfg.Server.Port,
		"version":   version,
		"driver":    cfg.Database.Driver,
		"threshold": cfg.Router.Threshold,
		"scorer":    cfg.Router.Scorer,
		"templates": len(a.Catalog.All()),
		"health":    a.Health.GetOverallStatus(ctx),
	})

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "Failed to start server", err, nil)
		os.Exit(1)
	}
}
