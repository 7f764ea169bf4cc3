package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mvailla/chatsight/internal/assemble"
	"github.com/mvailla/chatsight/internal/config"
	"github.com/mvailla/chatsight/internal/convo"
	"github.com/mvailla/chatsight/internal/httpapi"
	"github.com/mvailla/chatsight/internal/ingest"
	"github.com/mvailla/chatsight/internal/logging"
	"github.com/mvailla/chatsight/internal/observability"
	"github.com/mvailla/chatsight/internal/orchestrator"
	"github.com/mvailla/chatsight/internal/policy"
	"github.com/mvailla/chatsight/internal/qcache"
	"github.com/mvailla/chatsight/internal/search"
	"github.com/mvailla/chatsight/internal/store"
	"github.com/mvailla/chatsight/internal/synth"
)

func main() {
	configPath := flag.String("config", "", "optional path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(256)

	ctx := context.Background()
	backend, err := store.NewBackend(ctx, cfg.DatabaseURL, cfg.BoltPath)
	if err != nil {
		logger.Fatal("storage backend init failed", zap.Error(err))
	}
	messages, err := store.New(ctx, backend, logger)
	if err != nil {
		logger.Fatal("message store init failed", zap.Error(err))
	}
	defer messages.Close()
	metrics.StoredMessages.Set(float64(messages.Size()))

	cache, err := qcache.NewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	defer cache.Close()

	memory := convo.NewMemory(cfg.SessionExpiry, cfg.SessionMaxTurns, cfg.FollowUpGap, logger)
	memory.SetExpireHook(func(string) {
		metrics.SessionExpiries.Inc()
		metrics.ActiveSessions.Set(float64(memory.ActiveSessions()))
	})

	var synthesizer synth.Synthesizer
	if strings.EqualFold(cfg.SynthProvider, "mock") {
		synthesizer = &synth.Mock{}
		logger.Warn("using mock synthesizer; answers are canned")
	} else {
		synthesizer, err = synth.New(cfg.SynthProvider,
			cfg.AnthropicAPIKey, cfg.AnthropicModel,
			cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			logger.Fatal("synthesizer init failed", zap.Error(err))
		}
	}
	logger.Info("synthesizer ready", zap.String("provider", synthesizer.Name()))

	engine := search.NewEngine(messages, logger)
	engine.SetLimit(cfg.SearchLimit)

	orch, err := orchestrator.New(orchestrator.Options{
		Store:         messages,
		Engine:        engine,
		Memory:        memory,
		Extractor:     convo.NewKeywordExtractor(),
		Assembler:     assemble.New(assemble.CharEstimator{}, cfg.TokenBudget),
		Cache:         cache,
		Synthesizer:   synthesizer,
		Metrics:       metrics,
		Stages:        stages,
		Logger:        logger,
		ContextBefore: cfg.ContextBefore,
		ContextAfter:  cfg.ContextAfter,
		SynthTimeout:  cfg.SynthesisTimeout,
	})
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	memory.StartJanitor(runCtx, cfg.JanitorInterval)
	messages.StartRetentionJanitor(runCtx, cfg.JanitorInterval, cfg.Retention(), cfg.PurgeBatchSize)
	if mc, ok := cache.(*qcache.MemoryCache); ok {
		mc.StartSweeper(runCtx, cfg.JanitorInterval)
	}

	if strings.TrimSpace(cfg.KafkaBrokers) != "" && strings.TrimSpace(cfg.KafkaTopic) != "" {
		privacy := policy.Privacy{
			Anonymize:    cfg.Anonymize,
			RedactPII:    cfg.Anonymize,
			MetadataOnly: cfg.ContentMode == config.ContentModeMetadataOnly,
		}
		consumer := ingest.NewConsumer(
			ingest.ReaderConfig(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic, cfg.KafkaGroupID),
			messages, privacy, metrics, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ingest consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("ingest consumer started", zap.String("topic", cfg.KafkaTopic))
	}

	api := httpapi.New(cfg, orch, messages, metrics, stages, logger)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
