package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"promoflow/internal/config"
	apierrors "promoflow/internal/errors"
	"promoflow/internal/infrastructure"
	"promoflow/internal/ingest"
	customMiddleware "promoflow/internal/middleware"
	"promoflow/internal/rules"
	"promoflow/internal/services"
	handlers "promoflow/internal/transport/http"
	"promoflow/internal/validation"
	"promoflow/internal/warehouse"
	ws "promoflow/internal/websocket"
	"promoflow/pkg/contracts"
)

// janitorInterval is how often idle sessions are swept
const janitorInterval = 5 * time.Minute

// Application represents the main application container
type Application struct {
	Config          *config.Config
	Router          *chi.Mux
	Server          *http.Server
	Logger          *slog.Logger
	OTelProviders   *infrastructure.OTelProviders
	Warehouse       warehouse.Warehouse
	WebSocketHub    *ws.Hub
	WorkflowService *services.WorkflowService
	HealthService   *services.HealthService
	ErrorHandler    *apierrors.ErrorHandler

	listener   net.Listener
	background sync.WaitGroup
	stopJobs   context.CancelFunc
}

// NewApplication loads the configuration at configPath (or the discovered
// file), initializes the global logger and wires the application
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return New(cfg, logger)
}

// New wires the application from an already loaded configuration
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version),
		slog.String("schema", cfg.Workflow.Schema),
		slog.String("warehouse_driver", cfg.Warehouse.Driver))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		ErrorHandler:  apierrors.NewErrorHandler(logger, cfg.Logging.Development),
	}

	if err := app.initializeServices(); err != nil {
		_ = otelProviders.Shutdown(context.Background())
		return nil, err
	}
	app.setupRouter()
	app.createServer()
	return app, nil
}

// initializeServices builds the warehouse, the hub and the services
func (a *Application) initializeServices() error {
	ctx := context.Background()

	schema, err := rules.SchemaByName(a.Config.Workflow.Schema)
	if err != nil {
		return fmt.Errorf("failed to resolve schema: %w", err)
	}

	wh, err := warehouse.Open(ctx, warehouse.Config{
		Driver:    a.Config.Warehouse.Driver,
		DSN:       a.Config.Warehouse.DSN,
		BatchSize: a.Config.Warehouse.BatchSize,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open warehouse: %w", err)
	}
	a.Warehouse = wh

	workflowMetrics, err := infrastructure.NewWorkflowMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create workflow metrics: %w", err)
	}

	hub := ws.NewHub(a.Logger)
	hub.Start()
	a.WebSocketHub = hub

	decoder := ingest.NewDecoder(
		validation.NewFileValidator(a.Logger, a.Config.Workflow.MaxUploadMB),
		a.Config.Workflow.StreamingMB,
		a.Logger,
	)
	a.WorkflowService = services.NewWorkflowService(
		a.Config.Workflow,
		rules.NewEngine(schema, a.Logger),
		decoder,
		wh,
		hub,
		workflowMetrics,
		a.Logger,
	)
	a.HealthService = services.NewHealthService(wh, a.WorkflowService, hub, a.Logger)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	// RequestID → RealIP → OTel → Logger → Recoverer
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(apierrors.RecoveryMiddleware(a.ErrorHandler))

	// WebSocket upgrades skip timeouts, rate limits and compression
	wsHandler := handlers.NewWebSocketHandler(a.WebSocketHub, a.Config.WebSocket,
		a.Config.Security.AllowedOrigins, a.WorkflowService, a.Logger, a.ErrorHandler)
	r.Handle("/ws", wsHandler)

	r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.SecurityHeaders)
		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
				AllowedOrigins: a.Config.Security.AllowedOrigins,
				Logger:         a.Logger,
			}))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.ErrorHandler,
				a.Logger,
			).Handler)
		}
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))
		r.Use(middleware.Compress(5, "application/json", "application/problem+json"))

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Get("/health", healthHandler.ReadinessCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		workflowHandler := handlers.NewWorkflowHandler(a.WorkflowService,
			a.Config.Workflow.MaxUploadMB, a.Config.Workflow.MaxLogEntries, a.Logger, a.ErrorHandler)
		r.With(customMiddleware.ContentTypeValidator(a.ErrorHandler, "application/json", "multipart/form-data")).
			Mount("/api", workflowHandler.Routes())
	})

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Addr returns the bound listen address once Start has returned
func (a *Application) Addr() string {
	if a.listener == nil {
		return a.Server.Addr
	}
	return a.listener.Addr().String()
}

// Start binds the listener and serves in the background. cancel is called
// when the server stops unexpectedly.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	a.stopJobs = stopJobs
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.WorkflowService.RunJanitor(jobsCtx, janitorInterval)
	}()

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			// Signal shutdown through context instead of os.Exit
			cancel()
		}
	}()

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", a.Addr()))
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if a.stopJobs != nil {
		a.stopJobs()
	}
	a.background.Wait()

	// Running uploads finish or are cancelled before the warehouse closes
	if err := a.WorkflowService.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Uploads did not finish before shutdown", slog.String("error", err.Error()))
	}
	a.WebSocketHub.Stop()

	if err := a.Warehouse.Close(); err != nil {
		errs = append(errs, fmt.Errorf("warehouse close error: %w", err))
	}
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
		a.Logger.WarnContext(ctx, "Server stopped unexpectedly")
	}

	return a.Stop(context.Background())
}

// performStartupHealthCheck verifies the warehouse is reachable
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	status := a.HealthService.ReadinessCheck(ctx)
	if status.Status != "ready" {
		return fmt.Errorf("readiness %s: %v", status.Status, status.Services["warehouse"])
	}
	a.Logger.InfoContext(ctx, "Startup health check passed")
	return nil
}
