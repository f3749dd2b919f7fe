package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EmpathyChat/internal/anonymizer"
	"EmpathyChat/internal/audit"
	"EmpathyChat/internal/classifier"
	"EmpathyChat/internal/config"
	"EmpathyChat/internal/generative"
	"EmpathyChat/internal/persona"
	"EmpathyChat/internal/privacy"
	"EmpathyChat/internal/router"
	"EmpathyChat/internal/server"
	"EmpathyChat/internal/session"
	"EmpathyChat/internal/telemetry"
)

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.StringVar(&cfg.ClassifierURL, "classifier-url", cfg.ClassifierURL, "External classifier URL (empty uses the keyword classifier)")
	flag.StringVar(&cfg.OllamaEndpoint, "ollama-endpoint", cfg.OllamaEndpoint, "Ollama endpoint for the generative fallback")
	flag.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model specification (format: model:version)")
	flag.StringVar(&cfg.TemplateFile, "templates", cfg.TemplateFile, "TOML file overriding the built-in response templates")
	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger, err := telemetry.InitLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	db, err := telemetry.InitAuditDB(cfg.AuditDBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize audit database: %w", err)
	}
	defer db.Close()

	aud := audit.New(db, logger)
	store := session.NewStore(cfg.SessionTTL, aud, logger)
	engine := privacy.NewEngine(cfg.EpsilonBudget, aud, logger)

	templates := persona.Default()
	if cfg.TemplateFile != "" {
		templates, err = persona.LoadFile(cfg.TemplateFile)
		if err != nil {
			return fmt.Errorf("failed to load templates from %s: %w", cfg.TemplateFile, err)
		}
		logger.Info("loaded template overrides", "file", cfg.TemplateFile)
	}

	var cls classifier.Classifier = classifier.Keyword{}
	if cfg.ClassifierURL != "" {
		cls = classifier.NewHTTP(cfg.ClassifierURL, cfg.ClassifierTimeout, tracer, logger)
		logger.Info("using external classifier", "url", cfg.ClassifierURL)
	}

	gen := generative.NewOllama(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.FallbackTimeout, tracer, meter, logger)

	rt := router.New(store, templates, gen, anonymizer.New(), aud, logger, tracer, meter, router.Config{
		TemplateThreshold: cfg.TemplateThreshold,
		HistoryWindow:     cfg.HistoryWindow,
		FallbackTimeout:   cfg.FallbackTimeout,
	})

	handler := server.New(store, rt, cls, engine, logger, cfg.ClassifierTimeout, cfg.DefaultDelta)

	// Background sweeper: expired sessions vanish even if nobody
	// touches them again.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.SweepExpired()
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
