package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/openhelpdesk/ai-helpdesk/internal/api/http"
	"github.com/openhelpdesk/ai-helpdesk/internal/api/http/handlers"
	"github.com/openhelpdesk/ai-helpdesk/internal/auth"
	"github.com/openhelpdesk/ai-helpdesk/internal/classifier"
	"github.com/openhelpdesk/ai-helpdesk/internal/config"
	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/mail"
	"github.com/openhelpdesk/ai-helpdesk/internal/observability"
	"github.com/openhelpdesk/ai-helpdesk/internal/persistence"
	"github.com/openhelpdesk/ai-helpdesk/internal/repository"
	"github.com/openhelpdesk/ai-helpdesk/internal/service"
	"github.com/openhelpdesk/ai-helpdesk/internal/worker"
	"github.com/openhelpdesk/ai-helpdesk/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)

	var (
		bus     events.Bus
		runs    workflow.Store
		revoker auth.Revoker
	)
	switch cfg.Events.Backend {
	case config.EventsBackendMemory:
		bus = events.NewMemoryBus(cfg.Events.WorkerConcurrency, logger)
		runs = workflow.NewMemoryStore()
	default:
		bus = events.NewRedisBus(redis.Client, events.RedisBusConfig{
			Stream:      cfg.Events.Stream,
			Group:       cfg.Events.Group,
			Consumer:    cfg.Events.Consumer,
			Concurrency: cfg.Events.WorkerConcurrency,
		}, logger)
		runs = workflow.NewRedisStore(redis.Client, cfg.Workflow.ResultTTL())
	}
	if cfg.Auth.RevokeOnLogout {
		revoker = auth.NewRedisRevoker(redis.Client)
	}

	var ticketClassifier classifier.Classifier = classifier.Disabled{}
	if cfg.Classifier.APIKey != "" {
		ticketClassifier = classifier.NewOpenAI(cfg.Classifier.BaseURL, cfg.Classifier.APIKey, cfg.Classifier.Model, cfg.Classifier.Timeout())
	} else {
		logger.Warn("AI_API_KEY not provided; tickets will not be classified")
	}
	mailer := mail.New(cfg.Mail, logger)

	engine := workflow.NewEngine(runs, workflow.Policy{
		Retries: cfg.Workflow.StepRetries,
		Backoff: cfg.Workflow.RetryBackoff(),
	}, logger, metrics)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo: userRepo,
		Revoker:  revoker,
		Bus:      bus,
		Logger:   logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Bus:        bus,
		Logger:     logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		Engine:              engine,
		TicketRepo:          ticketRepo,
		UserRepo:            userRepo,
		Classifier:          ticketClassifier,
		Mailer:              mailer,
		NotifyFailurePolicy: cfg.Workflow.NotifyFailurePolicy,
		Logger:              logger,
	})
	notificationService := service.NewNotificationService(engine, userRepo, mailer, logger)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		err := worker.Start(ctx, bus, worker.Services{
			Assignment:   assignmentService,
			Notification: notificationService,
		}, logger)
		if err != nil {
			logger.Error("event worker stopped", zap.Error(err))
		}
	}()

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo, revoker)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App)

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics,
		handlers.Dependency{Name: "postgres", Pinger: pg},
		handlers.Dependency{Name: "redis", Pinger: redis},
	)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	cancel()
	<-workerDone
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
