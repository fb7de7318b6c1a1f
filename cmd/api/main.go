package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/listingreels/internal/api"
	"github.com/bobarin/listingreels/internal/clipgen"
	"github.com/bobarin/listingreels/internal/compiler"
	"github.com/bobarin/listingreels/internal/config"
	"github.com/bobarin/listingreels/internal/db"
	"github.com/bobarin/listingreels/internal/logger"
	"github.com/bobarin/listingreels/internal/metrics"
	"github.com/bobarin/listingreels/internal/orchestrator"
	"github.com/bobarin/listingreels/internal/providers"
	"github.com/bobarin/listingreels/internal/queue"
	"github.com/bobarin/listingreels/internal/storage"
	"github.com/bobarin/listingreels/internal/worker"
	"github.com/sirupsen/logrus"
)

// stateStore is what every backend (postgres, postgrest, memory) provides.
type stateStore interface {
	orchestrator.Store
	clipgen.Store
	api.ProjectReader
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.For("main")
	log.Info("Starting listingreels API...")

	ctx := context.Background()

	// State store
	var store stateStore
	switch cfg.StateStore {
	case "postgres":
		database, err := db.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		store = database
	case "postgrest":
		rest, err := db.NewRESTStore(cfg.SupabaseURL, cfg.SupabaseServiceKey)
		if err != nil {
			log.Fatalf("Failed to create PostgREST client: %v", err)
		}
		store = rest
	default:
		log.Warn("Using in-memory state store, nothing survives a restart")
		store = db.NewMemoryStore()
	}
	log.WithField("backend", cfg.StateStore).Info("State store ready")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Info("Connected to Redis queue")

	// Object store
	var uploader storage.Uploader
	if cfg.ObjectStore == "s3" {
		s3Store, err := storage.NewS3(ctx, storage.S3Options{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicURL:       cfg.S3PublicURL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		uploader = s3Store
	} else {
		uploader = storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	}
	log.WithField("backend", cfg.ObjectStore).Info("Initialized object storage")

	// Providers
	var adapters []providers.Provider
	if cfg.FalAPIKey != "" {
		adapters = append(adapters, providers.NewFal(cfg.FalAPIKey, cfg.FalModel))
	}
	if cfg.RunwayAPIKey != "" {
		adapters = append(adapters, providers.NewRunway(cfg.RunwayAPIKey, cfg.RunwayModel, cfg.RunwayPollInterval, cfg.RunwayMaxWait))
	}
	if cfg.GeminiKey != "" {
		veo, err := providers.NewVeo(ctx, cfg.GeminiKey, cfg.VeoModel)
		if err != nil {
			log.WithError(err).Warn("Veo disabled")
		} else {
			adapters = append(adapters, veo)
		}
	}
	registry := providers.NewRegistry(cfg.DefaultProvider, adapters...)
	log.WithFields(logrus.Fields{
		"providers": registry.Names(),
		"default":   cfg.DefaultProvider,
	}).Info("Video providers registered")

	generator := clipgen.New(store, storage.NewFetcher(), uploader, registry, cfg.ClipTimeout)

	// Compilation handoff
	var trigger orchestrator.Compiler
	if cfg.CompilerBackend == "amqp" {
		amqpTrigger, err := compiler.NewAMQPTrigger(cfg.AMQPURL, cfg.AMQPCompileQueue)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer amqpTrigger.Close()
		trigger = amqpTrigger
	} else {
		trigger = compiler.NewRedisTrigger(q)
	}
	log.WithField("backend", cfg.CompilerBackend).Info("Compilation handoff ready")

	orch := orchestrator.New(store, generator, trigger, orchestrator.CostModel{
		UnitCents:             cfg.ClipUnitCostCents,
		AudioSurchargePercent: cfg.AudioSurchargePercent,
	})

	// Create API handler
	handler := api.NewHandler(store, orch, generator, q)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		MetricsHandler:     metrics.Handler(),
	})

	if cfg.BackendAPIKey != "" {
		log.Info("API key authentication enabled")
	} else {
		log.Warn("No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Synchronous starts hold the request open until every clip settles
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.ClipTimeout + 2*time.Minute,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		log.WithField("concurrency", cfg.MaxConcurrentJobs).Info("Worker enabled, starting background processing...")

		w := worker.New(q, orch, generator)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go func() {
			defer close(workerDone)
			w.Start(workerCtx, cfg.MaxConcurrentJobs)
		}()
	} else {
		close(workerDone)
	}

	// Start server in goroutine
	go func() {
		log.Infof("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	if workerCancel != nil {
		workerCancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("Worker did not stop before the shutdown deadline")
	}

	log.Info("Server exited")
}
