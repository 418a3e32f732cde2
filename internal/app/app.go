package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ResearchPipeline/internal/agents"
	"ResearchPipeline/internal/broadcast"
	"ResearchPipeline/internal/config"
	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/infrastructure/llm"
	"ResearchPipeline/internal/infrastructure/scheduler"
	"ResearchPipeline/internal/infrastructure/search"
	"ResearchPipeline/internal/infrastructure/storage"
	"ResearchPipeline/internal/infrastructure/telegram"
	"ResearchPipeline/internal/logging"
	"ResearchPipeline/internal/ports"
	"ResearchPipeline/internal/transport/httpapi"
	"ResearchPipeline/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

type store interface {
	ports.MessageStore
	ports.RunRepository
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store
	closeDB  func() error
	hub      *broadcast.Broadcaster
	service  *usecase.ResearchService
	janitor  *usecase.Janitor
	notifier *telegram.Notifier
}

// Overrides replaces external adapters, mainly for tests.
type Overrides struct {
	Model    ports.ChatModel
	Searcher ports.Searcher
}

// New builds the application from configuration.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, overrides Overrides) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	st, closeDB, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	baseLogger.Info("storage ready", "driver", cfg.Database.Driver)

	model := overrides.Model
	if model == nil {
		model = llm.NewClient(cfg.LLM)
	}
	searcher := overrides.Searcher
	if searcher == nil {
		searcher = search.NewCollector(
			search.NewSerperClient(cfg.Search),
			cfg.Search.Plans,
			baseLogger.With("component", "search"),
		)
	}

	hub := broadcast.New(cfg.Server.SubscriberBuffer, baseLogger.With("component", "broadcast"))

	var (
		observer ports.RunObserver
		notifier *telegram.Notifier
	)
	if cfg.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Telegram, baseLogger)
		observer = notifier
	}

	depth, err := domain.ParseDepth(cfg.Workflow.DefaultDepth, domain.DepthStandard)
	if err != nil {
		_ = closeDB()
		return nil, fmt.Errorf("workflow default depth: %w", err)
	}

	service := usecase.NewResearchService(usecase.ServiceDeps{
		Orchestrator: usecase.OrchestratorDeps{
			Stages: usecase.Stages{
				Search:    agents.NewSearch(searcher),
				Structure: agents.NewStructure(model),
				Finance:   agents.NewFinance(model),
				Market:    agents.NewMarket(model),
				Insight:   agents.NewInsight(model),
				Write:     agents.NewWrite(model, nil),
			},
			Messages:  st,
			Publisher: hub,
			Observer:  observer,
			Logger:    baseLogger.With("component", "orchestrator"),
		},
		Runs:           st,
		Logger:         baseLogger,
		DefaultDepth:   depth,
		RetainFinished: cfg.Workflow.RetainFinished,
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    st,
		closeDB:  closeDB,
		hub:      hub,
		service:  service,
		janitor:  usecase.NewJanitor(scheduler.NewTickerScheduler(cfg.Workflow.JanitorInterval), service),
		notifier: notifier,
	}, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return storage.NewMemoryStore(), func() error { return nil }, nil
	case storage.DriverSQLite, storage.DriverPostgres:
		sqlStore, err := storage.Open(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage: %w", err)
		}
		return sqlStore, sqlStore.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Handler exposes the HTTP API.
func (a *Application) Handler() http.Handler {
	return httpapi.NewHandler(a.service, a.hub, a.logger).Routes()
}

// Serve runs the HTTP API and the janitor until ctx is cancelled, then shuts
// everything down gracefully.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.janitor.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	return errors.Join(serveErr, a.Close(shutdownCtx))
}

// Research performs a single run on the calling goroutine.
func (a *Application) Research(ctx context.Context, company, depth string) (domain.Run, error) {
	return a.service.RunSync(ctx, company, depth)
}

// Close stops background work and releases storage.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if err := a.janitor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop janitor: %w", err))
	}
	if err := a.service.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.notifier != nil {
		if err := a.notifier.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush notifications: %w", err))
		}
	}
	if err := a.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}
