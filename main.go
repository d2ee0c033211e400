package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/artifacts"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/circuitbreaker"
	cfgpkg "github.com/inkwell-ai/inkwell/go/orchestrator/internal/config"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/db"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/degradation"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/events"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/fanout"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/httpapi"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/providers"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/quality"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/revise"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/tracing"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/workflow"
)

func main() {
	cfg, err := cfgpkg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Metrics endpoint on its own port
	go func() {
		addr := ":" + strconv.Itoa(cfg.MetricsPort())
		logger.Info("Metrics server listening", zap.String("addr", addr))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Event publishers: in-memory hub always, Redis Streams and the
	// database recorder when configured
	eventMgr := events.NewManager(cfg.Events.RingCapacity, logger)
	publishers := events.Multi{eventMgr}

	if cfg.Events.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
		})
		defer redisClient.Close()
		sink := events.NewRedisSink(redisClient, cfg.Events.Redis.StreamMaxLen, logger)
		defer sink.Close()
		publishers = append(publishers, sink)
	}

	var dbClient *db.Client
	if cfg.Database.Enabled {
		dbClient, err = db.NewClient(db.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxConnections:  cfg.Database.MaxConnections,
			IdleConnections: cfg.Database.IdleConnections,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database client", zap.Error(err))
		}
		defer dbClient.Close()

		recorder := db.NewRecorder(dbClient, logger)
		defer recorder.Close()
		publishers = append(publishers, recorder)
	}

	store := state.NewStore(logger, publishers)

	// Provider stack: registry, health tracker, rate limits, failover
	tracker := circuitbreaker.NewTracker(circuitbreaker.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		Cooldown:         time.Duration(cfg.Breaker.CooldownMs) * time.Millisecond,
	}, logger)

	limits, err := providers.LoadRateLimits(cfg.Providers.RateLimitsPath, logger)
	if err != nil {
		logger.Fatal("Failed to load rate limits", zap.Error(err))
	}

	registry := providers.NewRegistry()
	httpClient := &http.Client{}
	for _, ep := range cfg.Providers.Endpoints {
		err := registry.Register(providers.Endpoint{
			ID:         ep.ID,
			Capability: providers.Capability(ep.Capability),
			Priority:   ep.Priority,
			Invoke:     providers.HTTPCall(ep.URL, httpClient),
		})
		if err != nil {
			logger.Fatal("Failed to register provider endpoint",
				zap.String("endpoint", ep.ID),
				zap.Error(err),
			)
		}
	}
	if len(cfg.Providers.Endpoints) == 0 {
		logger.Warn("No provider endpoints configured; every task will fail with exhaustion")
	}

	providerClient := providers.NewClient(registry, tracker, limits, providers.Config{
		LLMTimeout:    time.Duration(cfg.Providers.LLMTimeoutMs) * time.Millisecond,
		SearchTimeout: time.Duration(cfg.Providers.SearchTimeoutMs) * time.Millisecond,
	}, logger)

	// Workflow graph and engine
	gate := quality.NewGate(logger)
	agentSet := workflow.NewProviderAgents(providerClient, gate, workflow.ProviderAgentsConfig{
		QualityWeights:   cfg.Quality.Weights,
		QualityThreshold: cfg.Revise.Threshold,
	})
	graph, err := workflow.NewResearchGraph(agentSet, revise.NewLoop(logger), workflow.ResearchConfig{
		MaxConcurrency: cfg.FanOut.MaxConcurrency,
		Revise: revise.Options{
			MaxIterations: cfg.Revise.MaxIterations,
			Threshold:     cfg.Revise.Threshold,
		},
	})
	if err != nil {
		logger.Fatal("Failed to build workflow graph", zap.Error(err))
	}

	engine, err := workflow.NewEngine(
		graph,
		store,
		fanout.NewRunner(logger),
		degradation.NewManager(degradation.Policy{FailureRatioThreshold: cfg.Degradation.FailureRatioThreshold}, logger),
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to build workflow engine", zap.Error(err))
	}

	artifactStore, err := artifacts.NewStore(cfg.Artifacts.Root, logger)
	if err != nil {
		logger.Fatal("Failed to initialize artifact store", zap.Error(err))
	}

	// Hot reload for the rate limits file
	if cfg.Providers.RateLimitsPath != "" {
		watchRateLimits(cfg.Providers.RateLimitsPath, limits, logger)
	}

	launch := func(taskID string, payload map[string]interface{}) {
		go runTask(engine, artifactStore, dbClient, logger, taskID, payload)
	}

	mux := http.NewServeMux()
	httpapi.NewSubmitHandler(launch, logger).RegisterRoutes(mux)
	httpapi.NewTaskHandler(store, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(eventMgr, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}

// runTask drives one task to a terminal state and persists its outputs.
func runTask(engine *workflow.Engine, store *artifacts.Store, dbClient *db.Client, logger *zap.Logger, taskID string, payload map[string]interface{}) {
	started := time.Now()
	final, err := engine.Execute(context.Background(), taskID, payload)
	if err != nil {
		logger.Error("Task execution aborted",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return
	}

	if final.Status == state.StatusCompleted {
		saveArtifacts(store, logger, final)
	}
	if dbClient != nil {
		saveTaskRecord(dbClient, logger, final, payload, started)
	}
}

func saveArtifacts(store *artifacts.Store, logger *zap.Logger, final state.TaskState) {
	content := reportContent(final)
	if content == "" {
		return
	}
	files := []string{"report.md"}
	if _, err := store.SaveReport(final.TaskID, "report.md", []byte(content)); err != nil {
		logger.Error("Failed to save report artifact", zap.String("task_id", final.TaskID), zap.Error(err))
		return
	}
	if translated, ok := final.Get(workflow.NodeTranslate); ok {
		if text, isStr := translated.(string); isStr && text != "" {
			if _, err := store.SaveReport(final.TaskID, "report.translated.md", []byte(text)); err == nil {
				files = append(files, "report.translated.md")
			}
		}
	}
	if err := store.SaveManifest(artifacts.Manifest{
		TaskID:     final.TaskID,
		Files:      files,
		Degraded:   final.Degraded,
		Approved:   final.Quality.Approved,
		FinalScore: final.Quality.LastScore,
	}); err != nil {
		logger.Error("Failed to save artifact manifest", zap.String("task_id", final.TaskID), zap.Error(err))
	}
}

// reportContent prefers the published rendition and falls back to the
// revised draft.
func reportContent(final state.TaskState) string {
	if v, ok := final.Get(workflow.NodePublish); ok {
		if text, isStr := v.(string); isStr && text != "" {
			return text
		}
	}
	if v, ok := final.Get(workflow.NodeRevise); ok {
		if rr, isResult := v.(workflow.ReviseResult); isResult {
			return rr.Content
		}
	}
	return ""
}

func saveTaskRecord(dbClient *db.Client, logger *zap.Logger, final state.TaskState, payload map[string]interface{}, started time.Time) {
	query, _ := payload[workflow.KeyQuery].(string)
	record := &db.TaskRecord{
		TaskID:    final.TaskID,
		Query:     query,
		Stage:     final.Stage,
		Status:    string(final.Status),
		Version:   final.Version,
		Degraded:  final.Degraded,
		StartedAt: started,
	}
	if final.Control.Error != nil {
		kind, msg := final.Control.Error.Kind, final.Control.Error.Message
		record.ErrorKind, record.ErrorMsg = &kind, &msg
	}
	if final.Status.IsTerminal() {
		completed := final.UpdatedAt
		record.CompletedAt = &completed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbClient.UpsertTask(ctx, record); err != nil {
		logger.Error("Failed to persist task record",
			zap.String("task_id", final.TaskID),
			zap.Error(err),
		)
	}
}

// watchRateLimits hot-reloads the rate limits file when it changes.
func watchRateLimits(path string, limits *providers.RateLimits, logger *zap.Logger) {
	mgr, err := cfgpkg.NewManager(filepath.Dir(path), logger)
	if err != nil {
		logger.Warn("Rate limit hot-reload unavailable", zap.Error(err))
		return
	}
	name := filepath.Base(path)
	mgr.RegisterHandler(name, func(ev cfgpkg.ChangeEvent) error {
		return limits.Reload(path)
	})
	if err := mgr.Start(); err != nil {
		logger.Warn("Rate limit hot-reload unavailable", zap.Error(err))
	}
}

func buildLogger(cfg cfgpkg.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, err
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if os.Getenv("LOG_LEVEL") != "" {
		if err := level.Set(os.Getenv("LOG_LEVEL")); err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(level)
		}
	}
	return zcfg.Build()
}
