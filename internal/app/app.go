package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tickethunter/internal/api"
	"tickethunter/internal/config"
	"tickethunter/internal/domain"
	"tickethunter/internal/events"
	"tickethunter/internal/infrastructure/llm"
	"tickethunter/internal/infrastructure/mcp"
	"tickethunter/internal/infrastructure/scheduler"
	"tickethunter/internal/infrastructure/storage"
	"tickethunter/internal/infrastructure/telegram"
	"tickethunter/internal/logging"
	"tickethunter/internal/ports"
	"tickethunter/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application wires configuration to the task service, event hub, and
// HTTP surface, and owns process lifecycle.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	hub      *events.Hub
	service  *usecase.Service
	monitor  *usecase.Monitor
	notifier ports.Notifier
	server   *http.Server
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	repository := storage.NewPostgresRepository(db)
	if err := repository.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare schema: %w", err)
	}

	hub := events.NewHub(cfg.Pipeline.HubBuffer, baseLogger.With("component", "hub"))

	chatClient := llm.NewClient(cfg.LLM, nil, baseLogger.With("component", "llm"))

	service := usecase.NewService(usecase.ServiceDeps{
		Refiner:       chatClient,
		Source:        mcp.NewClient(cfg.MCP, nil, baseLogger.With("component", "mcp")),
		Classifier:    chatClient,
		Repository:    repository,
		Hub:           hub,
		Logger:        baseLogger,
		Workers:       cfg.Pipeline.Workers,
		ProgressEvery: cfg.Pipeline.ProgressEvery,
	})

	monitor := usecase.NewMonitor(service, func() ports.Scheduler {
		return scheduler.NewIntervalScheduler(cfg.Watch.Interval())
	}, baseLogger.With("component", "monitor"))

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	handler := api.NewHandler(service, monitor, repository, baseLogger.With("component", "api"))
	router := mux.NewRouter()
	api.SetupRoutes(router, handler)

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		hub:      hub,
		service:  service,
		monitor:  monitor,
		notifier: notifier,
		server: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (a *Application) Run(ctx context.Context) error {
	if a.notifier != nil {
		go a.pumpAlerts(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	a.monitor.Close(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", "error", err)
	}
	return nil
}

// pumpAlerts forwards every found ticket to the outbound notifier.
// Delivery failures are logged and never touch the pipeline.
func (a *Application) pumpAlerts(ctx context.Context) {
	sub := a.hub.Subscribe(events.AllTasks)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-sub.Events():
			if !open {
				return
			}
			if event.Type != domain.EventTicketFound || event.Ticket == nil {
				continue
			}
			if err := a.notifier.AlertTicket(ctx, *event.Ticket); err != nil {
				a.logger.Warn("ticket alert", "task_id", event.TaskID, "error", err)
			}
		}
	}
}
