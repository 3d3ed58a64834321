package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/metrics"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	Session SessionConfig
	Timer   TimerConfig

	// EnableSweeper starts the expiry sweeper on Initialize
	EnableSweeper bool
}

// Dependencies are the shared collaborators every service is built from
type Dependencies struct {
	DB           *gorm.DB
	Repo         repositories.Repository
	Logger       *slog.Logger
	Validator    *validator.Validator
	Publisher    events.EventPublisher
	Metrics      *metrics.Metrics
	CacheManager *cache.CacheManager
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	deps   Dependencies
	config ServiceManagerConfig

	// Service instances
	snapshotService    Snapshotter
	sessionService     SessionService
	answerService      AnswerService
	timerService       TimerService
	scoringService     ScoringService
	certificateService CertificateService
	resultService      ResultService

	sweeper *ExpirySweeper

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(deps Dependencies, config ServiceManagerConfig) ServiceManager {
	if deps.CacheManager == nil {
		deps.CacheManager = cache.NewCacheManager(nil)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NewMockEventPublisher(deps.Logger)
	}
	return &serviceManager{
		deps:   deps,
		config: config,
	}
}

// DefaultServiceManagerConfig mirrors the defaults of the environment configuration
func DefaultServiceManagerConfig() ServiceManagerConfig {
	return ServiceManagerConfig{
		Session: SessionConfig{
			DefaultPassingThreshold:  70,
			DefaultWeakAreaThreshold: 60,
		},
		Timer: TimerConfig{
			DriftTolerance: 15 * time.Second,
			SweepInterval:  30 * time.Second,
			SweepBatchSize: 100,
		},
		EnableSweeper: true,
	}
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.deps.Logger.Info("Initializing service manager")

	if err := sm.validateConfig(); err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	sm.initializeServices()

	if sm.config.EnableSweeper {
		sm.sweeper = NewExpirySweeper(sm.timerService, sm.config.Timer.SweepInterval, sm.deps.Logger)
		sm.sweeper.Start(context.WithoutCancel(ctx))
	}

	sm.initialized = true
	sm.deps.Logger.Info("Service manager initialized successfully")

	return nil
}

func (sm *serviceManager) initializeServices() {
	d := sm.deps

	sm.snapshotService = NewSnapshotService(d.Repo, d.DB, d.Logger)
	sm.scoringService = NewScoringService(d.Repo, d.DB, d.Logger, d.CacheManager)
	sm.certificateService = NewCertificateService(d.Repo, d.DB, d.Logger, d.Validator)
	sm.sessionService = NewSessionService(
		d.Repo, d.DB, d.Logger, d.Validator,
		sm.snapshotService, sm.scoringService, sm.certificateService,
		d.Publisher, d.Metrics, d.CacheManager, sm.config.Session,
	)
	sm.answerService = NewAnswerService(d.Repo, d.DB, d.Logger, d.Validator, sm.sessionService, d.Metrics)
	sm.timerService = NewTimerService(d.Repo, d.DB, d.Logger, d.Validator, sm.sessionService, d.Metrics, sm.config.Timer)
	sm.resultService = NewResultService(d.Repo, d.DB, d.Logger, sm.sessionService, sm.scoringService)

	d.Logger.Info("Session engine services initialized")
}

func (sm *serviceManager) validateConfig() error {
	var errs []error
	if t := sm.config.Session.DefaultPassingThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("default passing threshold %v out of range", t))
	}
	if t := sm.config.Session.DefaultWeakAreaThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("default weak area threshold %v out of range", t))
	}
	if sm.config.Timer.DriftTolerance < 0 {
		errs = append(errs, errors.New("drift tolerance cannot be negative"))
	}
	return errors.Join(errs...)
}

// Service getters
func (sm *serviceManager) Snapshot() Snapshotter {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.snapshotService
}

func (sm *serviceManager) Session() SessionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.sessionService
}

func (sm *serviceManager) Answer() AnswerService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.answerService
}

func (sm *serviceManager) Timer() TimerService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.timerService
}

func (sm *serviceManager) Scoring() ScoringService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.scoringService
}

func (sm *serviceManager) Certificate() CertificateService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.certificateService
}

func (sm *serviceManager) Result() ResultService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.resultService
}

func (sm *serviceManager) mustBeInitialized() {
	if !sm.initialized {
		panic("service manager not initialized")
	}
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}

	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.deps.Repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	// Redis is optional; only a configured but unreachable cache is unhealthy
	if err := sm.deps.CacheManager.HealthCheck(ctx); err != nil && !errors.Is(err, cache.ErrCacheNotAvailable) {
		return err
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.deps.Logger.Info("Shutting down service manager")

	if sm.sweeper != nil {
		sm.sweeper.Stop()
	}

	if err := sm.deps.Publisher.Close(); err != nil {
		sm.deps.Logger.Error("Failed to close event publisher", "error", err)
	}

	sm.shutdown = true
	sm.deps.Logger.Info("Service manager shut down completed")

	return nil
}
