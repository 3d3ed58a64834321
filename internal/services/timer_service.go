package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/metrics"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// TimerConfig controls drift reporting and the expiry sweeper
type TimerConfig struct {
	DriftTolerance time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
}

type timerService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	sessions  SessionService
	metrics   *metrics.Metrics
	config    TimerConfig

	now func() time.Time
}

func NewTimerService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, sessions SessionService, m *metrics.Metrics, config TimerConfig) TimerService {
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 100
	}
	return &timerService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		sessions:  sessions,
		metrics:   m,
		config:    config,
		now:       utcNow,
	}
}

// Heartbeat reports the server's remaining time. The stored value never increases.
func (s *timerService) Heartbeat(ctx context.Context, sessionID uint, requesterID string, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if req == nil {
		req = &HeartbeatRequest{}
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, err := loadOwnedSession(ctx, s.repo, s.db, sessionID, requesterID, "heartbeat")
	if err != nil {
		return nil, err
	}

	// Late heartbeats return the frozen value
	if session.Status.IsTerminal() {
		return s.response(session), nil
	}

	session, err = s.sessions.EnsureStarted(ctx, session)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() || !session.HasTimeLimit() || session.DeadlineAt == nil {
		return s.response(session), nil
	}

	now := s.now()
	remaining := remainingSeconds(*session.DeadlineAt, now)
	if session.TimeRemainingSeconds != nil && *session.TimeRemainingSeconds < remaining {
		remaining = *session.TimeRemainingSeconds
	}

	s.checkDrift(ctx, session.ID, req.ClientRemainingSeconds, remaining)

	if remaining == 0 {
		if _, err := s.sessions.TransitionToSubmitted(ctx, sessionID, models.SubmitReasonTimeout); err != nil {
			return nil, err
		}
		current, err := s.repo.Session().GetByID(ctx, s.db, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session: %w", err)
		}
		return s.response(current), nil
	}

	updated, err := s.repo.Session().UpdateTimeRemaining(ctx, s.db, sessionID, remaining)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Closed or lowered concurrently; answer from what is stored
		current, err := s.repo.Session().GetByID(ctx, s.db, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session: %w", err)
		}
		return s.response(current), nil
	}

	session.TimeRemainingSeconds = &remaining
	return s.response(session), nil
}

func (s *timerService) IsExpired(ctx context.Context, sessionID uint) (bool, error) {
	session, err := s.repo.Session().GetByID(ctx, s.db, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrSessionNotFound
		}
		return false, fmt.Errorf("failed to get session: %w", err)
	}
	if session.Status == models.SessionExpired {
		return true, nil
	}
	return isOverdue(session, s.now()), nil
}

func (s *timerService) SweepExpired(ctx context.Context) (int, error) {
	closed := 0
	for {
		overdue, err := s.repo.Session().ListOverdue(ctx, s.db, s.now(), s.config.SweepBatchSize)
		if err != nil {
			return closed, err
		}

		progressed := 0
		for _, session := range overdue {
			if err := ctx.Err(); err != nil {
				return closed, err
			}
			if _, err := s.sessions.TransitionToSubmitted(ctx, session.ID, models.SubmitReasonTimeout); err != nil {
				s.logger.ErrorContext(ctx, "Failed to expire session", "session_id", session.ID, "error", err)
				continue
			}
			progressed++
		}
		closed += progressed

		// Stop on a short batch or when every item in the batch failed
		if len(overdue) < s.config.SweepBatchSize || progressed == 0 {
			break
		}
	}

	if closed > 0 {
		s.metrics.SessionsSwept(closed)
		s.logger.InfoContext(ctx, "Expired overdue sessions", "count", closed)
	}
	return closed, nil
}

func (s *timerService) checkDrift(ctx context.Context, sessionID uint, client *int, server int) {
	if client == nil {
		return
	}
	drift := time.Duration(*client-server) * time.Second
	if drift < 0 {
		drift = -drift
	}
	s.metrics.ObserveDrift(drift)
	if drift > s.config.DriftTolerance {
		s.logger.WarnContext(ctx, "Client timer drift beyond tolerance",
			"session_id", sessionID,
			"client_remaining", *client,
			"server_remaining", server,
			"drift_seconds", drift.Seconds())
	}
}

func (s *timerService) response(session *models.ExamSession) *HeartbeatResponse {
	resp := &HeartbeatResponse{
		SessionID:  session.ID,
		Status:     session.Status,
		Expired:    session.Status == models.SessionExpired,
		ServerTime: s.now(),
	}
	if session.HasTimeLimit() && session.TimeRemainingSeconds != nil {
		resp.RemainingSeconds = intPtr(*session.TimeRemainingSeconds)
	}
	return resp
}

// ===== EXPIRY SWEEPER =====

// ExpirySweeper periodically closes sessions whose deadline passed without a heartbeat
type ExpirySweeper struct {
	timer    TimerService
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

func NewExpirySweeper(timer TimerService, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{
		timer:    timer,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the sweeper in the background until Stop is called
func (w *ExpirySweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info("Expiry sweeper started", "interval", w.interval.String())
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("Expiry sweeper stopped")
				return
			case <-ticker.C:
				if _, err := w.timer.SweepExpired(ctx); err != nil && ctx.Err() == nil {
					w.logger.Error("Expiry sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for the current sweep to finish
func (w *ExpirySweeper) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
