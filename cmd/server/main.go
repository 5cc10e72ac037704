package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-rt-workflow/internal/client"
	"github.com/pesio-ai/be-rt-workflow/internal/config"
	"github.com/pesio-ai/be-rt-workflow/internal/database"
	"github.com/pesio-ai/be-rt-workflow/internal/handler"
	"github.com/pesio-ai/be-rt-workflow/internal/logger"
	"github.com/pesio-ai/be-rt-workflow/internal/middleware"
	"github.com/pesio-ai/be-rt-workflow/internal/repository"
	"github.com/pesio-ai/be-rt-workflow/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting RT Workflow Service")

	// Create context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	versionRepo := repository.NewVersionRepository(db)
	itemRepo := repository.NewItemRepository(db)
	decisionRepo := repository.NewDecisionRepository(db)
	phaseRepo := repository.NewPhaseRepository(db)

	// Initialize collaborator clients. An unset URL disables the
	// collaborator: no identity service means claimed roles are trusted
	// (local development only).
	var identityClient service.IdentityClientInterface
	if cfg.Clients.IdentityURL != "" {
		identityClient = client.NewIdentityClient(cfg.Clients.IdentityURL)
	}
	var evidenceClient service.EvidenceClientInterface
	if cfg.Clients.EvidenceURL != "" {
		evidenceClient = client.NewEvidenceClient(cfg.Clients.EvidenceURL)
	}
	var suggestionClient service.SuggestionClientInterface
	if cfg.Clients.SuggestionURL != "" {
		suggestionClient = client.NewSuggestionClient(cfg.Clients.SuggestionURL)
	}

	notifier, err := client.NewNotificationPublisher(cfg.NATS.URL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer notifier.Close()

	log.Info().
		Str("identity", cfg.Clients.IdentityURL).
		Str("evidence", cfg.Clients.EvidenceURL).
		Str("suggestion", cfg.Clients.SuggestionURL).
		Msg("Collaborator clients initialized")

	// Initialize services
	engine := service.NewReconciliationEngine(itemRepo, decisionRepo)
	ledgerSvc := service.NewLedgerService(versionRepo, itemRepo, decisionRepo, identityClient, log)
	versionSvc := service.NewVersionService(versionRepo, itemRepo, decisionRepo, phaseRepo,
		engine, identityClient, evidenceClient, notifier, log)
	phaseSvc := service.NewPhaseService(phaseRepo, versionRepo, notifier, log, cfg.Schedule.AtRiskDays)
	suggestionSvc := service.NewSuggestionService(itemRepo, versionRepo, suggestionClient, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(versionSvc, ledgerSvc, phaseSvc, engine, suggestionSvc, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Version routes
	mux.HandleFunc("/api/v1/versions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListVersions(w, r)
		case http.MethodPost:
			httpHandler.CreateVersion(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/versions/get", httpHandler.GetVersion)
	mux.HandleFunc("/api/v1/versions/submit", httpHandler.SubmitVersion)
	mux.HandleFunc("/api/v1/versions/approve", httpHandler.ApproveVersion)
	mux.HandleFunc("/api/v1/versions/reject", httpHandler.RejectVersion)
	mux.HandleFunc("/api/v1/versions/fork", httpHandler.ForkVersion)
	mux.HandleFunc("/api/v1/versions/pending", httpHandler.ListPendingVersions)
	mux.HandleFunc("/api/v1/versions/suggest", httpHandler.EnqueueSuggestions)

	// Item routes
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListItems(w, r)
		case http.MethodPost:
			httpHandler.CreateItem(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/items/evidence", httpHandler.AttachEvidence)
	mux.HandleFunc("/api/v1/items/history", httpHandler.GetItemHistory)

	// Decision routes
	mux.HandleFunc("/api/v1/decisions", httpHandler.RecordDecision)
	mux.HandleFunc("/api/v1/decisions/bulk", httpHandler.RecordBulkDecision)
	mux.HandleFunc("/api/v1/decisions/reset", httpHandler.ResetItem)

	// Phase routes
	mux.HandleFunc("/api/v1/phases/start", httpHandler.StartPhase)
	mux.HandleFunc("/api/v1/phases/complete", httpHandler.CompletePhase)
	mux.HandleFunc("/api/v1/phases/dependencies", httpHandler.CheckDependencies)
	mux.HandleFunc("/api/v1/phases/dates", httpHandler.SetPlannedDates)
	mux.HandleFunc("/api/v1/phases/override", httpHandler.OverridePhase)
	mux.HandleFunc("/api/v1/phases/override/clear", httpHandler.ClearPhaseOverride)

	// Report routes
	mux.HandleFunc("/api/v1/reports/init", httpHandler.InitReport)
	mux.HandleFunc("/api/v1/reports/status", httpHandler.ReportStatus)

	// Suggestion routes
	mux.HandleFunc("/api/v1/suggestions/get", httpHandler.GetSuggestionJob)
	mux.HandleFunc("/api/v1/suggestions/cancel", httpHandler.CancelSuggestionJob)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Msg("Starting suggestion worker")
		if err := suggestionSvc.Run(gctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}

	log.Info().Msg("Server stopped")
}
