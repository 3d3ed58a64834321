package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/handlers"
	"github.com/SAP-F-2025/exam-session-service/internal/metrics"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/SAP-F-2025/exam-session-service/pkg"
)

const consumerGroup = "exam-session-service"

var rootCmd = &cobra.Command{
	Use:   "exam-session-service",
	Short: "Timed exam sessions, scoring and certificates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the expiry sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Close every overdue session once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("auto-migrate", false, "Migrate the schema before serving")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// app holds everything the subcommands share
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	db          *gorm.DB
	repoManager *postgres.RepositoryManager
	metrics     *metrics.Metrics
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slogLogger := slog.New(slog.NewJSONHandler(utils.NewLogWriter(cfg.Log), &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			slogLogger.Warn("Redis unavailable, continuing without cache", "error", err)
			redisClient = nil
		}
	}

	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:            db,
		RedisClient:   redisClient,
		CasdoorConfig: cfg.Casdoor,
	})
	if err := repoManager.Initialize(); err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	return &app{
		cfg:         cfg,
		logger:      slogLogger,
		db:          db,
		repoManager: repoManager,
		metrics:     metrics.New(prometheus.NewRegistry()),
	}, nil
}

// close releases the database and redis connections
func (a *app) close() {
	if err := a.repoManager.Shutdown(context.Background()); err != nil {
		a.logger.Error("Failed to close repositories", "error", err)
	}
}

func (a *app) serviceConfig(enableSweeper bool) services.ServiceManagerConfig {
	return services.ServiceManagerConfig{
		Session: services.SessionConfig{
			DefaultPassingThreshold:  a.cfg.Scoring.DefaultPassingThreshold,
			DefaultWeakAreaThreshold: a.cfg.Scoring.DefaultWeakAreaThreshold,
		},
		Timer: services.TimerConfig{
			DriftTolerance: a.cfg.Timer.DriftTolerance,
			SweepInterval:  a.cfg.Timer.SweepInterval,
			SweepBatchSize: 100,
		},
		EnableSweeper: enableSweeper,
	}
}

// newEvents picks kafka when brokers are configured and an in-process channel otherwise
func (a *app) newEvents() (events.EventPublisher, message.Subscriber, error) {
	if len(a.cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaEventPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.TopicPrefix, a.logger)
		if err != nil {
			return nil, nil, err
		}
		subscriber, err := events.NewKafkaSubscriber(a.cfg.Kafka.Brokers, consumerGroup, a.logger)
		if err != nil {
			publisher.Close()
			return nil, nil, err
		}
		return publisher, subscriber, nil
	}

	pubSub := events.NewInMemoryPubSub(a.logger)
	return events.NewWatermillEventPublisher(pubSub, a.cfg.Kafka.TopicPrefix, a.logger), pubSub, nil
}

func (a *app) newServiceManager(publisher events.EventPublisher, enableSweeper bool) (services.ServiceManager, error) {
	repo := a.repoManager.GetRepository()
	sm := services.NewServiceManager(services.Dependencies{
		DB:           a.db,
		Repo:         repo,
		Logger:       a.logger,
		Validator:    validator.New(),
		Publisher:    publisher,
		Metrics:      a.metrics,
		CacheManager: a.repoManager.CacheManager(),
	}, a.serviceConfig(enableSweeper))
	if err := sm.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return sm, nil
}

func runMigrate() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := pkg.Migrate(a.db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	a.logger.Info("Migration complete")
	return nil
}

func runSweep(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sm, err := a.newServiceManager(events.NewMockEventPublisher(a.logger), false)
	if err != nil {
		return err
	}
	defer sm.Shutdown(context.Background())

	closed, err := sm.Timer().SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed after closing %d sessions: %w", closed, err)
	}
	a.logger.Info("Sweep complete", "closed", closed)
	return nil
}

func runServe(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if autoMigrate, _ := cmd.Flags().GetBool("auto-migrate"); autoMigrate {
		if err := pkg.Migrate(a.db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	if a.cfg.Tracing.Enabled {
		tp, err := pkg.InitTracer(a.cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				a.logger.Error("Failed to flush traces", "error", err)
			}
		}()
	}

	publisher, subscriber, err := a.newEvents()
	if err != nil {
		return fmt.Errorf("failed to initialize events: %w", err)
	}

	serviceManager, err := a.newServiceManager(publisher, true)
	if err != nil {
		publisher.Close()
		return err
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	cacheManager := a.repoManager.CacheManager()
	consumer := events.NewBankUpdateConsumer(subscriber, func(ctx context.Context, event events.BankUpdatedEvent) {
		cache.InvalidateBankCache(ctx, cacheManager, event.BankID)
	}, a.logger)
	go func() {
		if err := consumer.Run(consumerCtx); err != nil {
			a.logger.Error("Bank update consumer stopped", "error", err)
		}
	}()

	logger := utils.NewSlogLogger(a.logger)
	v := validator.New()
	authMiddleware := handlers.NewCasdoorAuthMiddleware(a.cfg.Casdoor, a.repoManager.GetRepository().User(), logger)
	handlerManager := handlers.NewHandlerManager(serviceManager, v, logger, authMiddleware, a.metrics)

	if a.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlers.SetupMiddleware(router, logger, a.cfg, a.metrics)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", a.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", a.cfg.Port, "environment", a.cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", "error", err)
		}
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	stopConsumer()
	if err := serviceManager.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown services", "error", err)
	}
	// the service manager closed the publisher; a kafka subscriber is closed separately
	if len(a.cfg.Kafka.Brokers) > 0 {
		subscriber.Close()
	}

	logger.Info("Server exited")
	return nil
}
