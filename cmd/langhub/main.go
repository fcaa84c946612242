package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ent0n29/langhub/internal/app"
	"github.com/ent0n29/langhub/internal/config"
	"github.com/ent0n29/langhub/internal/observability"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	built, err := app.Build(runCtx, cfg, logger)
	if err != nil {
		logger.Fatalw("build failed", "error", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warnw("cleanup failed", "error", err)
		}
	}()
	built.Start(runCtx)

	logger.Infow("voice provider resolved", "provider", built.Voice.Provider, "detail", built.Voice.Detail)
	logger.Infow("languages configured",
		"supported", cfg.SupportedLanguages.List(),
		"fallback", cfg.FallbackLanguage,
		"confidence_threshold", cfg.ConfidenceThreshold,
		"switch_margin", cfg.SwitchMargin,
	)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	go func() {
		logger.Infow("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("listen error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Infow("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Infow("shutdown complete")
}
