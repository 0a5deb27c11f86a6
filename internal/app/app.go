package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/igflow/internal/config"
	httpcontroller "github.com/vadim/igflow/internal/controller/http"
	"github.com/vadim/igflow/internal/database"
	accountdao "github.com/vadim/igflow/internal/domain/account/dao"
	accountservice "github.com/vadim/igflow/internal/domain/account/service"
	"github.com/vadim/igflow/internal/domain/automation/dispatch"
	"github.com/vadim/igflow/internal/domain/automation/sequencer"
	automationservice "github.com/vadim/igflow/internal/domain/automation/service"
	conversationdao "github.com/vadim/igflow/internal/domain/conversation/dao"
	conversationservice "github.com/vadim/igflow/internal/domain/conversation/service"
	"github.com/vadim/igflow/internal/httpx/upstream/ai"
	"github.com/vadim/igflow/internal/httpx/upstream/instagram"
	"github.com/vadim/igflow/internal/storage"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	pg       *pgxpool.Pool
	seq      *sequencer.Sequencer
	pipeline *automationservice.Pipeline
	janitor  *Janitor
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	if err := app.initDomains(ctx); err != nil {
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	// Initialize HTTP server
	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// initInfrastructure initializes infrastructure components
func (a *App) initInfrastructure(ctx context.Context) error {
	pg, err := database.NewPostgresPool(ctx, a.cfg.Database.PostgresDSN, a.cfg.Database.MaxConns, a.cfg.Database.MinConns)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	a.pg = pg
	return nil
}

// initDomains wires repositories, services, the engine pipeline and routes
func (a *App) initDomains(ctx context.Context) error {
	// Repositories
	accountRepo := accountdao.NewAccountPostgres(a.pg)
	convRepo := conversationdao.NewConversationPostgres(a.pg)
	msgRepo := conversationdao.NewMessagePostgres(a.pg)
	dedupRepo := conversationdao.NewIdempotencyPostgres(a.pg)

	// Account domain
	accountSvc := accountservice.New(accountRepo, accountservice.Defaults{
		CaptureEmail: a.cfg.Automation.CaptureEmail,
		CapturePhone: a.cfg.Automation.CapturePhone,
		MaxReprompts: a.cfg.Automation.MaxReprompts,
	}, a.logger)

	// Read side
	convSvc := conversationservice.New(convRepo, msgRepo)

	// Upstream clients
	igClient := instagram.New(
		instagram.WithBaseURL(a.cfg.Instagram.BaseURL),
		instagram.WithAPIVersion(a.cfg.Instagram.APIVersion),
		instagram.WithTimeout(a.cfg.Instagram.SendTimeout),
	)
	aiClient := ai.New(ai.Config{
		APIKey:       a.cfg.AI.APIKey,
		Model:        a.cfg.AI.Model,
		MaxTokens:    a.cfg.AI.MaxTokens,
		Timeout:      a.cfg.AI.Timeout,
		SystemPrompt: a.cfg.AI.SystemPrompt,
	})

	// Engine pipeline
	dispatcher := dispatch.New(
		igClient,
		aiClient,
		msgRepo,
		convRepo,
		accountSvc,
		dispatch.RetryPolicy{
			MaxAttempts: a.cfg.Pipeline.SendRetries,
			Base:        a.cfg.Pipeline.RetryBase,
			Budget:      a.cfg.Pipeline.RetryBudget,
		},
		a.cfg.AI.FallbackReply,
		a.logger,
	)

	var archiver automationservice.TranscriptArchiver
	if a.cfg.Archive.Enabled {
		archiver = storage.NewTranscriptArchive(storage.S3Config{
			Endpoint:        a.cfg.Archive.Endpoint,
			AccessKeyID:     a.cfg.Archive.AccessKeyID,
			SecretAccessKey: a.cfg.Archive.SecretAccessKey,
			Bucket:          a.cfg.Archive.Bucket,
			Region:          a.cfg.Archive.Region,
		})
	}

	a.seq = sequencer.New(a.cfg.Pipeline.Workers)
	a.pipeline = automationservice.NewPipeline(
		automationservice.NewNormalizer(accountSvc),
		dedupRepo,
		a.seq,
		accountRepo,
		convRepo,
		msgRepo,
		dispatcher,
		archiver,
		automationservice.Texts{
			Greeting:    a.cfg.Automation.Greeting,
			EmailPrompt: a.cfg.Automation.EmailPrompt,
			EmailRetry:  a.cfg.Automation.EmailRetry,
			PhonePrompt: a.cfg.Automation.PhonePrompt,
			PhoneRetry:  a.cfg.Automation.PhoneRetry,
			AIIntro:     a.cfg.Automation.AIIntro,
			OptOutReply: a.cfg.Automation.OptOutReply,
		},
		a.logger,
	)

	a.janitor = NewJanitor(dedupRepo, a.cfg.Dedup.Horizon, a.cfg.Dedup.PurgeInterval, a.logger)

	// Routes
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	webhookHandler := httpcontroller.NewWebhookHandler(a.pipeline, a.cfg.Instagram.VerifyToken, a.logger)
	webhookHandler.RegisterRoutes(a.router)

	a.router.Route("/api/v1", func(r chi.Router) {
		httpcontroller.NewConversationHandler(convSvc).RegisterRoutes(r)
		httpcontroller.NewAccountHandler(accountSvc).RegisterRoutes(r)
	})

	return nil
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.pg.Ping(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	go a.janitor.Start(ctx)

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	a.janitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	// Let queued conversation work finish before the pool closes
	drainCtx, cancelDrain := context.WithTimeout(ctx, a.cfg.Pipeline.DrainTimeout)
	defer cancelDrain()
	if err := a.seq.Close(drainCtx); err != nil {
		a.logger.Warn("sequencer drain timed out", "error", err)
	}

	a.pg.Close()

	a.logger.Info("shutdown complete")
	return nil
}
