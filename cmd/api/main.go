package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sagiegrun/echoes/internal/api"
	"github.com/sagiegrun/echoes/internal/compile"
	"github.com/sagiegrun/echoes/internal/config"
	"github.com/sagiegrun/echoes/internal/db"
	"github.com/sagiegrun/echoes/internal/jobs"
	"github.com/sagiegrun/echoes/internal/ledger"
	"github.com/sagiegrun/echoes/internal/provider"
	"github.com/sagiegrun/echoes/internal/queue"
	"github.com/sagiegrun/echoes/internal/render"
	"github.com/sagiegrun/echoes/internal/rewards"
	"github.com/sagiegrun/echoes/internal/services"
	"github.com/sagiegrun/echoes/internal/settings"
	"github.com/sagiegrun/echoes/internal/storage"
	"github.com/sagiegrun/echoes/internal/worker"
)

func main() {
	log.Println("Starting Echoes API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	log.Println("Initialized Supabase storage")

	// Build the video provider from its JSON config
	providerCfg, err := provider.ParseConfig([]byte(cfg.ProviderConfig))
	if err != nil {
		log.Fatalf("Invalid PROVIDER_CONFIG: %v", err)
	}
	videoProvider, err := provider.New(providerCfg)
	if err != nil {
		log.Fatalf("Failed to initialize provider: %v", err)
	}
	log.Printf("Video provider: %s", videoProvider.Name())

	// Optional prompt polishing
	var polisher jobs.Polisher
	if cfg.OpenAIKey != "" {
		polisher = services.NewPromptService(cfg.OpenAIKey)
		log.Println("Prompt polishing enabled")
	}

	// Core services
	settingsCache := settings.NewCache(database)
	creditLedger := ledger.New(database)
	rewardsEngine := rewards.NewEngine(database, creditLedger, settingsCache)
	tracker := jobs.NewTracker(database, creditLedger, videoProvider, settingsCache, q, stor, polisher)

	renderClient := render.NewClient(cfg.RenderServiceURL, cfg.RenderServiceKey)
	compiler := compile.NewCoordinator(database, renderClient, q)

	// Create API handler
	handler := api.NewHandler(database, stor, tracker, creditLedger, rewardsEngine, compiler)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		AdminAPIKey:        cfg.AdminAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCtx context.Context
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		w := worker.New(q, tracker, compiler)
		reconciler := worker.NewReconciler(database, q)

		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
		if err := reconciler.Start(workerCtx); err != nil {
			log.Fatalf("Failed to start reconciler: %v", err)
		}
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
