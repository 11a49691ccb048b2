package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/voiceomni/linebridge/internal/admission"
	"github.com/voiceomni/linebridge/internal/bot"
	"github.com/voiceomni/linebridge/internal/bridge"
	"github.com/voiceomni/linebridge/internal/config"
	"github.com/voiceomni/linebridge/internal/engine"
	"github.com/voiceomni/linebridge/internal/httpapi"
	"github.com/voiceomni/linebridge/internal/observability"
	"github.com/voiceomni/linebridge/internal/session"
	"github.com/voiceomni/linebridge/internal/tools"
	"github.com/voiceomni/linebridge/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	botStore, err := bot.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bot store init failed: %v", err)
	}
	defer botStore.Close()

	usageStore, err := usage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("usage store init failed: %v", err)
	}
	defer usageStore.Close()

	limiter, err := admission.NewLimiter(cfg.RedisURL, cfg.DefaultLineLimit)
	if err != nil {
		log.Fatalf("admission limiter init failed: %v", err)
	}
	defer limiter.Close()
	if cfg.RedisURL != "" {
		log.Printf("admission: redis-backed, default limit %d", cfg.DefaultLineLimit)
	} else {
		log.Printf("admission: in-process, default limit %d", cfg.DefaultLineLimit)
	}

	var provider engine.Provider
	switch strings.ToLower(strings.TrimSpace(cfg.EngineProvider)) {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Fatalf("ENGINE_PROVIDER=gemini but GEMINI_API_KEY is not set")
		}
		provider = engine.NewGeminiProvider(engine.GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			WSBaseURL: cfg.GeminiWSBaseURL,
			Model:     cfg.GeminiModel,
		})
		log.Printf("engine provider: gemini live (%s)", cfg.GeminiModel)
	case "mock":
		provider = engine.NewMockProvider()
		log.Printf("engine provider: mock")
	default: // auto
		if cfg.GeminiAPIKey != "" {
			provider = engine.NewGeminiProvider(engine.GeminiConfig{
				APIKey:    cfg.GeminiAPIKey,
				WSBaseURL: cfg.GeminiWSBaseURL,
				Model:     cfg.GeminiModel,
			})
			log.Printf("engine provider: gemini live (%s)", cfg.GeminiModel)
		} else {
			provider = engine.NewMockProvider()
			log.Printf("engine provider: mock (no engine key configured)")
		}
	}

	dispatcher := tools.NewDispatcher(cfg.ToolTimeout)

	calls := session.NewRegistry()

	b := bridge.New(bridge.Options{
		Bots:       botStore,
		Limiter:    limiter,
		Engine:     provider,
		Tools:      dispatcher,
		Calls:      calls,
		Usage:      usageStore,
		Metrics:    metrics,
		EngineOpen: cfg.EngineOpenTimeout,
		RecordDir:  cfg.RecordDir,
	})

	api := httpapi.New(cfg, b, botStore, limiter, usageStore, calls, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	calls.StartJanitor(runCtx, cfg.CallMaxDuration)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
