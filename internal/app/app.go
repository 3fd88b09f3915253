// -----------------------------------------------------------------------
// Application - Dependency wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/handlers"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/logs"
	"github.com/Jdubz/job-finder-worker-sub011/internal/processors"
	"github.com/Jdubz/job-finder-worker-sub011/internal/queue"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/agents"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/config"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/documents"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/events"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/filter"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/intake"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/scheduler"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/scraper"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/status"
	"github.com/Jdubz/job-finder-worker-sub011/internal/storage/badger"
	"github.com/Jdubz/job-finder-worker-sub011/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event bus and log plumbing
	EventService interfaces.EventService
	LogConsumer  *logs.Consumer

	// Pipeline services
	ConfigService    interfaces.ConfigService
	QueueManager     interfaces.QueueManager
	AgentService     interfaces.AgentService
	ScraperService   *scraper.Service
	FilterService    interfaces.FilterService
	IntakeService    interfaces.IntakeService
	DocumentService  interfaces.DocumentService
	SchedulerService interfaces.SchedulerService
	StatusService    *status.Service
	MailWatcher      *intake.MailWatcher

	// Worker execution
	ProcessorRegistry *processors.Registry
	WorkerPool        *workers.Pool

	// HTTP handlers
	HealthHandler *handlers.HealthHandler
	IntakeHandler *handlers.IntakeHandler
	QueryHandler  *handlers.QueryHandler
	ConfigHandler *handlers.ConfigHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Event bus and WebSocket handler come first so the log consumer can
	// publish UI events from the start.
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	// Route correlated log batches into per-item storage via arbor's
	// context channel. Every worker derives its logger with the queue item
	// id as correlation id, so lines land beside the item they belong to.
	logConsumer := logs.NewConsumer(
		app.StorageManager.ItemLogStorage(),
		app.EventService,
		app.Logger,
		app.Config.Logging.MinEventLevel,
	)
	if err := logConsumer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start log consumer: %w", err)
	}
	app.LogConsumer = logConsumer
	app.Logger.SetChannel("context", logConsumer.GetChannel())

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Str("storage", app.Config.Storage.Badger.Path).
		Bool("mail_intake", app.MailWatcher.Enabled()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger) and loads seed data.
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	// Seed job sources from TOML files. Failures are non-fatal; sources can
	// always be submitted through the API.
	if err := badger.LoadSourcesFromFiles(a.ctx, storageManager.SourceStorage(), a.Config.Seeds.SourcesDir, a.Logger); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load seed sources")
	}

	return nil
}

// initServices initializes all business services in dependency order.
func (a *App) initServices() error {
	// Config registry backs everything else: scheduler windows, worker
	// counts, match policy and budgets all come from it at call time.
	configSvc, err := config.NewService(a.StorageManager.SettingsStorage(), a.EventService, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize config service: %w", err)
	}
	if err := configSvc.EnsureDefaults(a.ctx); err != nil {
		return fmt.Errorf("failed to seed default settings: %w", err)
	}
	if a.Config.Seeds.ProfilePath != "" {
		if err := configSvc.SeedProfileFromYAML(a.ctx, a.Config.Seeds.ProfilePath); err != nil {
			a.Logger.Warn().Err(err).Str("path", a.Config.Seeds.ProfilePath).Msg("Failed to seed candidate profile")
		}
	}
	a.ConfigService = configSvc
	a.Logger.Debug().Msg("Config service initialized")

	a.QueueManager = queue.NewManager(
		a.StorageManager.QueueStorage(),
		a.ConfigService,
		a.EventService,
		a.Logger,
	)
	a.Logger.Debug().Msg("Queue manager initialized")

	agentSvc, err := agents.NewService(a.Config, a.ConfigService, a.StorageManager, a.EventService, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize agent service: %w", err)
	}
	a.AgentService = agentSvc
	a.Logger.Debug().Msg("Agent service initialized")

	a.ScraperService = scraper.NewService(a.Config.Scraper, a.Logger)
	a.Logger.Debug().Msg("Scraper service initialized")

	a.FilterService = filter.NewService(a.ConfigService, a.AgentService, a.Logger)
	a.Logger.Debug().Msg("Filter service initialized")

	a.IntakeService = intake.NewService(
		a.QueueManager,
		a.StorageManager.ListingStorage(),
		a.StorageManager.SourceStorage(),
		a.Logger,
	)
	a.Logger.Debug().Msg("Intake service initialized")

	a.MailWatcher = intake.NewMailWatcher(a.Config.Mail, a.IntakeService, a.StorageManager.KVStorage(), a.Logger)

	// Register one processor per lane; the registry's type set doubles as
	// the workers' claimable-type set.
	registry := processors.NewRegistry()
	registry.Register(processors.NewJobProcessor(
		a.StorageManager, a.ScraperService, a.FilterService, a.AgentService, a.ConfigService, a.EventService, a.Logger,
	))
	registry.Register(processors.NewCompanyProcessor(
		a.StorageManager, a.ScraperService, a.AgentService, a.ConfigService, a.Logger,
	))
	registry.Register(processors.NewScrapeSourceProcessor(
		a.StorageManager, a.ScraperService, a.IntakeService, a.Logger,
	))
	registry.Register(processors.NewSourceDiscoveryProcessor(
		a.StorageManager, a.ScraperService, a.Logger,
	))
	registry.Register(processors.NewCompanyDiscoveryProcessor(
		a.StorageManager, a.Logger,
	))
	a.ProcessorRegistry = registry
	a.Logger.Debug().Int("lanes", len(registry.Types())).Msg("Processors registered")

	a.WorkerPool = workers.NewPool(a.QueueManager, registry, a.ConfigService, a.Logger)
	a.Logger.Debug().Msg("Worker pool initialized")

	a.SchedulerService = scheduler.NewService(
		a.ConfigService,
		a.QueueManager,
		a.StorageManager.SourceStorage(),
		a.StorageManager.CostStorage(),
		a.EventService,
		a.Logger,
	)
	a.Logger.Debug().Msg("Scheduler service initialized")

	documentSvc := documents.NewService(
		a.AgentService,
		a.ConfigService,
		a.StorageManager.MatchStorage(),
		a.StorageManager.ListingStorage(),
		a.StorageManager.ArtifactStorage(),
		a.Logger,
	)
	a.DocumentService = documentSvc
	// Saved matches trigger document generation in the background.
	if err := a.EventService.Subscribe(interfaces.EventMatchSaved, documentSvc.HandleMatchSaved); err != nil {
		return fmt.Errorf("failed to subscribe document service: %w", err)
	}
	a.Logger.Debug().Msg("Document service initialized")

	a.StatusService = status.NewService(
		a.QueueManager,
		a.StorageManager,
		a.ConfigService,
		a.SchedulerService,
		a.WorkerPool,
		a.Logger,
	)
	a.Logger.Debug().Msg("Status service initialized")

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	// WSHandler already initialized in New() before the log consumer.
	a.HealthHandler = handlers.NewHealthHandler(a.StatusService, a.Logger)
	a.IntakeHandler = handlers.NewIntakeHandler(a.IntakeService, a.Logger)
	a.QueryHandler = handlers.NewQueryHandler(a.StorageManager, a.QueueManager, a.DocumentService, a.Logger)
	a.ConfigHandler = handlers.NewConfigHandler(a.ConfigService, a.SchedulerService, a.Logger)
	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// Start launches the worker pool, the scheduler and the mail watcher.
func (a *App) Start() error {
	if err := a.WorkerPool.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.MailWatcher.Enabled() {
		schedule := fmt.Sprintf("@every %s", a.MailWatcher.PollInterval())
		if err := a.SchedulerService.RegisterTask(
			"mail-intake",
			schedule,
			"Poll the IMAP inbox for job alert mails",
			a.MailWatcher.Task(),
		); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to register mail intake task")
		} else {
			a.Logger.Info().Str("schedule", schedule).Msg("Mail intake watcher registered")
		}
	}

	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
		a.Logger.Info().Msg("Worker pool stopped")
	}

	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		}
	}

	if a.ScraperService != nil {
		if err := a.ScraperService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close scraper service")
		}
	}

	if a.AgentService != nil {
		if err := a.AgentService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close agent service")
		}
	}

	if a.ConfigService != nil {
		if err := a.ConfigService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close config service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	// Give async arbor writers a moment to drain before the process exits.
	time.Sleep(100 * time.Millisecond)

	return nil
}
