// Package main runs the InternTrack sync agent: a localhost daemon that
// owns the offline stores, reconciles queued mutations against the upstream
// API, and pushes store-change events to UI clients over WebSocket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kimhsiao/interntrack/cmd/agent/handlers"
	"github.com/kimhsiao/interntrack/internal/api"
	"github.com/kimhsiao/interntrack/internal/clock"
	"github.com/kimhsiao/interntrack/internal/contract"
	"github.com/kimhsiao/interntrack/internal/crypto"
	"github.com/kimhsiao/interntrack/internal/db"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/offline"
	"github.com/kimhsiao/interntrack/internal/offline/backoff"
	"github.com/kimhsiao/interntrack/internal/offline/draft"
	"github.com/kimhsiao/interntrack/internal/offline/event"
	"github.com/kimhsiao/interntrack/internal/offline/queue"
	"github.com/kimhsiao/interntrack/internal/offline/validation"
)

type config struct {
	port          string
	dataDir       string
	apiBaseURL    string
	companyID     string
	machineSecret string
	syncInterval  time.Duration
	draftDebounce time.Duration
}

// loadConfig reads settings from the environment with sane defaults.
func loadConfig() config {
	cfg := config{
		port:          envOr("AGENT_PORT", "8787"),
		dataDir:       envOr("DATA_DIR", "./data"),
		apiBaseURL:    envOr("API_BASE_URL", "http://localhost:3000"),
		companyID:     os.Getenv("COMPANY_ID"),
		machineSecret: os.Getenv("MACHINE_SECRET"),
		syncInterval:  offline.DefaultSchedulerConfig().Interval,
		draftDebounce: draft.DefaultDebounce,
	}

	if cfg.machineSecret == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "interntrack-agent"
		}
		cfg.machineSecret = "interntrack:" + host
	}
	if raw := os.Getenv("SYNC_INTERVAL_SECONDS"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			cfg.syncInterval = time.Duration(seconds) * time.Second
		}
	}
	if raw := os.Getenv("DRAFT_DEBOUNCE_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			cfg.draftDebounce = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := logging.Get()
	cfg := loadConfig()

	database, err := db.Open(cfg.dataDir)
	if err != nil {
		logger.Error("Failed to open database", err)
		os.Exit(1)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		logger.Error("Failed to initialize migrations", err)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logger.Error("Failed to run migrations", err)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	clk := clock.New()
	bus := event.NewBus()

	tokens := crypto.NewTokenStore(repo, cfg.machineSecret, func() int64 {
		return clk.Now().UnixMilli()
	})
	client := api.NewClient(api.ClientConfig{
		BaseURL:   cfg.apiBaseURL,
		CompanyID: cfg.companyID,
		Timeout:   api.DefaultClientConfig().Timeout,
	}, tokens)

	q := queue.New(repo, bus, clk)
	state := backoff.NewController(repo, bus, clk)
	validationStore := validation.New(repo, bus, clk)
	drafts := draft.New(repo, bus, clk, cfg.draftDebounce)

	reconciler := offline.NewReconciler(q, state, validationStore, client)
	operations := offline.NewOperations(q, validationStore, drafts, client)
	workflow := contract.NewWorkflow(operations)

	scheduler := offline.NewScheduler(reconciler, state, q,
		offline.SchedulerConfig{Interval: cfg.syncInterval}, clk)
	scheduler.Start()
	defer scheduler.Stop()

	hub := NewWSHub()
	hub.AttachBus(bus)

	syncHandler := handlers.NewSyncHandler(q, state, scheduler, clk)
	validationHandler := handlers.NewValidationHandler(validationStore)
	draftHandler := handlers.NewDraftHandler(drafts)
	entityHandler := handlers.NewEntityHandler(operations, workflow)
	authHandler := handlers.NewAuthHandler(tokens)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"interntrack-agent"}`))
	})
	mux.Handle("GET /ws", HandleWebSocket(hub))

	mux.HandleFunc("GET /api/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("POST /api/sync/now", syncHandler.TriggerSync)
	mux.HandleFunc("GET /api/sync/queue", syncHandler.ListQueue)
	mux.HandleFunc("DELETE /api/sync/queue", syncHandler.ClearQueue)

	mux.HandleFunc("GET /api/validation-errors", validationHandler.List)
	mux.HandleFunc("DELETE /api/validation-errors", validationHandler.Clear)
	mux.HandleFunc("DELETE /api/validation-errors/{id}", validationHandler.Dismiss)

	mux.HandleFunc("GET /api/drafts/{entity}", draftHandler.List)
	mux.HandleFunc("GET /api/drafts/{entity}/{recordId}", draftHandler.Get)
	mux.HandleFunc("POST /api/drafts/{entity}/{recordId}", draftHandler.AutoSave)
	mux.HandleFunc("PUT /api/drafts/{entity}/{recordId}", draftHandler.Save)
	mux.HandleFunc("DELETE /api/drafts/{entity}/{recordId}", draftHandler.Delete)

	mux.HandleFunc("POST /api/entities/{entity}", entityHandler.Create)
	mux.HandleFunc("PUT /api/entities/{entity}/{id}", entityHandler.Update)
	mux.HandleFunc("DELETE /api/entities/{entity}/{id}", entityHandler.Delete)
	mux.HandleFunc("POST /api/contracts/{id}/transition", entityHandler.Transition)

	mux.HandleFunc("PUT /api/auth/token", authHandler.SetToken)
	mux.HandleFunc("DELETE /api/auth/token", authHandler.ClearToken)

	server := &http.Server{
		Addr:    "127.0.0.1:" + cfg.port,
		Handler: mux,
	}

	go func() {
		logger.Info("InternTrack agent listening", map[string]interface{}{
			"addr":     server.Addr,
			"upstream": cfg.apiBaseURL,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutting down")
	scheduler.Stop()
	drafts.Flush()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", err)
	}
}
