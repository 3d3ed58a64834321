package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/metrics"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// SessionConfig holds the scoring defaults applied when a bank leaves them unset
type SessionConfig struct {
	DefaultPassingThreshold  float64
	DefaultWeakAreaThreshold float64
}

type sessionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator

	snapshotter  Snapshotter
	scoring      ScoringService
	certificates CertificateService
	publisher    events.EventPublisher
	metrics      *metrics.Metrics
	cache        *cache.CacheManager
	config       SessionConfig

	now func() time.Time
}

func NewSessionService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	validator *validator.Validator,
	snapshotter Snapshotter,
	scoring ScoringService,
	certificates CertificateService,
	publisher events.EventPublisher,
	m *metrics.Metrics,
	cacheManager *cache.CacheManager,
	config SessionConfig,
) SessionService {
	return &sessionService{
		repo:         repo,
		db:           db,
		logger:       logger,
		validator:    validator,
		snapshotter:  snapshotter,
		scoring:      scoring,
		certificates: certificates,
		publisher:    publisher,
		metrics:      m,
		cache:        cacheManager,
		config:       config,
		now:          utcNow,
	}
}

// ===== CORE SESSION OPERATIONS =====

func (s *sessionService) Start(ctx context.Context, req *StartSessionRequest, ownerID string) (*StartSessionResponse, error) {
	ctx, span := tracer.Start(ctx, "SessionService.Start")
	defer span.End()

	s.logger.InfoContext(ctx, "Starting exam session",
		"bank_id", req.BankID,
		"owner_id", ownerID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	span.SetAttributes(attribute.Int64("bank_id", int64(req.BankID)))

	now := s.now()

	// All collaborator reads finish before the insert
	hasAccess, err := s.repo.Access().HasAccess(ctx, s.db, ownerID, req.BankID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to check access: %w", err)
	}
	if !hasAccess {
		return nil, ErrNoAccess
	}

	bank, err := s.repo.QuestionBank().GetByID(ctx, s.db, req.BankID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrBankNotFound
		}
		return nil, fmt.Errorf("failed to get question bank: %w", err)
	}
	if !bank.IsActive {
		return nil, ErrBankNotFound
	}
	cfg := s.bankConfig(ctx, bank)

	snapshot, err := s.snapshotter.CreateSnapshot(ctx, req.BankID)
	if err != nil {
		return nil, err
	}

	snapshotJSON, err := models.NewSnapshotJSON(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	session := &models.ExamSession{
		OwnerID:          ownerID,
		BankID:           req.BankID,
		Status:           models.SessionNotStarted,
		QuestionIDs:      snapshotJSON,
		TimeLimitSeconds: cfg.TimeLimitSeconds,
	}
	if cfg.TimeLimitSeconds != nil {
		session.TimeRemainingSeconds = intPtr(*cfg.TimeLimitSeconds)
	}

	if err := s.repo.Session().Create(ctx, s.db, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.SessionStarted()
	if err := s.publisher.PublishSessionStarted(ctx, events.SessionStartedEvent{
		SessionID:     session.ID,
		OwnerID:       ownerID,
		BankID:        req.BankID,
		QuestionCount: len(snapshot),
		StartedAt:     session.CreatedAt,
	}); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish session started", "session_id", session.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "Exam session created",
		"session_id", session.ID,
		"bank_id", req.BankID,
		"owner_id", ownerID,
		"question_count", len(snapshot))

	resp, err := toSessionResponse(session)
	if err != nil {
		return nil, err
	}
	return &StartSessionResponse{Session: resp, Snapshot: snapshot}, nil
}

// Get enforces expiry on read: an overdue session is closed before it is returned
func (s *sessionService) Get(ctx context.Context, sessionID uint, requesterID string) (*SessionResponse, error) {
	session, err := loadOwnedSession(ctx, s.repo, s.db, sessionID, requesterID, "read")
	if err != nil {
		return nil, err
	}

	session, err = s.expireIfOverdue(ctx, session)
	if err != nil {
		return nil, err
	}
	return toSessionResponse(session)
}

func (s *sessionService) Enter(ctx context.Context, sessionID uint, requesterID string) (*SessionResponse, error) {
	session, err := loadOwnedSession(ctx, s.repo, s.db, sessionID, requesterID, "enter")
	if err != nil {
		return nil, err
	}

	session, err = s.EnsureStarted(ctx, session)
	if err != nil {
		return nil, err
	}
	session, err = s.expireIfOverdue(ctx, session)
	if err != nil {
		return nil, err
	}
	return toSessionResponse(session)
}

// EnsureStarted moves a not_started session to in_progress and returns the current row.
// Terminal and running sessions are returned unchanged.
func (s *sessionService) EnsureStarted(ctx context.Context, session *models.ExamSession) (*models.ExamSession, error) {
	if session.Status != models.SessionNotStarted {
		return session, nil
	}

	startedAt := s.now()
	var deadline *time.Time
	if session.HasTimeLimit() {
		d := startedAt.Add(time.Duration(*session.TimeLimitSeconds) * time.Second)
		deadline = &d
	}

	started, err := s.repo.Session().MarkStarted(ctx, s.db, session.ID, startedAt, deadline)
	if err != nil {
		return nil, err
	}
	if started {
		s.logger.InfoContext(ctx, "Exam session entered",
			"session_id", session.ID,
			"deadline_at", deadline)
	}

	// Re-read: a concurrent call may have started or closed it
	current, err := s.repo.Session().GetByID(ctx, s.db, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	return current, nil
}

func (s *sessionService) ListMine(ctx context.Context, ownerID string, req *ListSessionsRequest) (*models.PaginatedResponse, error) {
	if req.Size == 0 {
		req.Size = 10
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	page, size, limit, offset := pageBounds(req.Page, req.Size)
	filters := repositories.SessionFilters{
		OwnerID:   &ownerID,
		BankID:    req.BankID,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		Limit:     limit,
		Offset:    offset,
		SortBy:    req.SortBy,
		SortOrder: req.SortDir,
	}
	if req.Status != "" {
		status := models.SessionStatus(req.Status)
		filters.Status = &status
	}

	sessions, total, err := s.repo.Session().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	content := make([]*SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		resp, err := toSessionResponse(session)
		if err != nil {
			return nil, err
		}
		content = append(content, resp)
	}

	resp := models.NewPaginatedResponse(content, len(content), total, page, size)
	return &resp, nil
}

func (s *sessionService) Submit(ctx context.Context, sessionID uint, requesterID string) (*ResultResponse, error) {
	session, err := loadOwnedSession(ctx, s.repo, s.db, sessionID, requesterID, "submit")
	if err != nil {
		return nil, err
	}

	reason := models.SubmitReasonManual
	if isOverdue(session, s.now()) {
		reason = models.SubmitReasonTimeout
	}

	result, err := s.TransitionToSubmitted(ctx, sessionID, reason)
	if err != nil {
		return nil, err
	}
	return buildResultResponse(ctx, s.repo, s.db, sessionID, result)
}

// ===== TERMINAL TRANSITION =====

func (s *sessionService) TransitionToSubmitted(ctx context.Context, sessionID uint, reason models.SubmitReason) (*models.ScoringResult, error) {
	ctx, span := tracer.Start(ctx, "SessionService.TransitionToSubmitted")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("session_id", int64(sessionID)),
		attribute.String("reason", string(reason)),
	)

	session, err := s.repo.Session().GetByID(ctx, s.db, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.Status.IsTerminal() {
		return s.storedResult(session)
	}

	// Collaborator reads happen before the transaction opens
	snapshot, err := session.Snapshot()
	if err != nil {
		return nil, err
	}
	questions, err := s.loadQuestions(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	cfg := s.resolveBankConfig(ctx, session.BankID)
	holder := s.resolveHolderName(ctx, session.OwnerID)

	now := s.now()
	status := reason.TerminalStatus()
	var (
		result      *models.ScoringResult
		certificate *models.Certificate
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		closed, err := s.repo.Session().CloseIfOpen(ctx, tx, sessionID, s.closingFor(session, reason, now))
		if err != nil {
			return err
		}
		if !closed {
			return errAlreadyClosed
		}

		// The answer set is frozen from here on
		answers, err := s.repo.Answer().GetBySession(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to read answers: %w", err)
		}
		answerMap := make(map[uint]*models.SessionAnswer, len(answers))
		for _, a := range answers {
			answerMap[a.QuestionID] = a
		}

		started := time.Now()
		result = s.scoring.ScoreSession(ScoringInput{
			SessionID:         sessionID,
			Snapshot:          snapshot,
			Answers:           answerMap,
			Questions:         questions,
			PassingThreshold:  cfg.PassingThreshold,
			WeakAreaThreshold: cfg.WeakAreaThreshold,
			ScoredAt:          now,
		})
		s.metrics.ObserveScoring(time.Since(started))

		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		if err := s.repo.Session().SaveScore(ctx, tx, sessionID, repositories.SessionScore{
			Score:          result.Score,
			Passed:         result.Passed,
			CorrectAnswers: result.CorrectAnswers,
			TotalQuestions: result.TotalQuestions,
			Result:         data,
		}); err != nil {
			return err
		}

		certificate, err = s.certificates.IssueIfEligible(ctx, tx, session, result, IssueContext{
			BankName:   cfg.Name,
			HolderName: holder,
		})
		return err
	})

	if errors.Is(err, errAlreadyClosed) {
		// Lost the race: converge on the winner's result
		s.logger.InfoContext(ctx, "Session already closed by a concurrent call", "session_id", sessionID)
		current, getErr := s.repo.Session().GetByID(ctx, s.db, sessionID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to reload session: %w", getErr)
		}
		return s.storedResult(current)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}

	s.afterClose(ctx, session, status, reason, result, certificate)
	return result, nil
}

func (s *sessionService) closingFor(session *models.ExamSession, reason models.SubmitReason, now time.Time) repositories.SessionClose {
	closing := repositories.SessionClose{
		Status:      reason.TerminalStatus(),
		Reason:      reason,
		SubmittedAt: now,
	}

	if session.StartedAt != nil {
		duration := int(now.Sub(*session.StartedAt).Seconds())
		if duration < 0 {
			duration = 0
		}
		closing.DurationSeconds = &duration
	}

	if session.HasTimeLimit() {
		switch {
		case reason == models.SubmitReasonTimeout:
			closing.TimeRemaining = intPtr(0)
		case session.DeadlineAt != nil:
			remaining := remainingSeconds(*session.DeadlineAt, now)
			if session.TimeRemainingSeconds != nil && *session.TimeRemainingSeconds < remaining {
				remaining = *session.TimeRemainingSeconds
			}
			closing.TimeRemaining = &remaining
		}
	}
	return closing
}

// afterClose runs after commit; nothing here may fail the request
func (s *sessionService) afterClose(ctx context.Context, session *models.ExamSession, status models.SessionStatus, reason models.SubmitReason, result *models.ScoringResult, certificate *models.Certificate) {
	s.metrics.SessionClosed(string(status), string(reason))
	cache.SafeSet(ctx, s.cache.Result, cache.ResultKey(session.ID), result, cache.ResultCacheConfig)

	weak := make([]string, 0, len(result.WeakAreas))
	for _, w := range result.WeakAreas {
		weak = append(weak, w.Category)
	}
	if err := s.publisher.PublishSessionSubmitted(ctx, events.SessionSubmittedEvent{
		SessionID:      session.ID,
		OwnerID:        session.OwnerID,
		BankID:         session.BankID,
		Status:         string(status),
		Reason:         string(reason),
		Score:          result.Score,
		Passed:         result.Passed,
		CorrectAnswers: result.CorrectAnswers,
		TotalQuestions: result.TotalQuestions,
		WeakAreas:      weak,
		SubmittedAt:    result.ScoredAt,
	}); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish session submitted", "session_id", session.ID, "error", err)
	}

	if certificate != nil {
		s.metrics.CertificateIssued()
		if err := s.publisher.PublishCertificateIssued(ctx, events.CertificateIssuedEvent{
			CertificateID:     certificate.ID,
			CertificateNumber: certificate.CertificateNumber,
			SessionID:         session.ID,
			OwnerID:           session.OwnerID,
			BankID:            session.BankID,
			Score:             certificate.Score,
			IssuedAt:          certificate.IssuedAt,
		}); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish certificate issued", "session_id", session.ID, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "Exam session closed",
		"session_id", session.ID,
		"status", status,
		"reason", reason,
		"score", result.Score,
		"passed", result.Passed,
		"certificate_issued", certificate != nil)
}

// ===== HELPERS =====

func (s *sessionService) expireIfOverdue(ctx context.Context, session *models.ExamSession) (*models.ExamSession, error) {
	if !isOverdue(session, s.now()) {
		return session, nil
	}
	if _, err := s.TransitionToSubmitted(ctx, session.ID, models.SubmitReasonTimeout); err != nil {
		return nil, err
	}
	current, err := s.repo.Session().GetByID(ctx, s.db, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	return current, nil
}

func (s *sessionService) storedResult(session *models.ExamSession) (*models.ScoringResult, error) {
	result, err := session.ScoringResult()
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("session %d is %s without a stored result", session.ID, session.Status)
	}
	return result, nil
}

func (s *sessionService) loadQuestions(ctx context.Context, ids []uint) (map[uint]*models.Question, error) {
	questions, err := s.repo.Question().GetByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	out := make(map[uint]*models.Question, len(questions))
	for _, q := range questions {
		out[q.ID] = q
	}
	return out, nil
}

// resolveBankConfig falls back to defaults when the bank is gone; scoring must not fail on it
func (s *sessionService) resolveBankConfig(ctx context.Context, bankID uint) models.BankConfig {
	bank, err := s.repo.QuestionBank().GetByID(ctx, s.db, bankID)
	if err != nil {
		s.logger.WarnContext(ctx, "Scoring with default thresholds", "bank_id", bankID, "error", err)
		return models.BankConfig{
			BankID:            bankID,
			PassingThreshold:  s.config.DefaultPassingThreshold,
			WeakAreaThreshold: s.config.DefaultWeakAreaThreshold,
		}
	}
	return s.bankConfig(ctx, bank)
}

// bankConfig resolves the bank's settings; an out-of-range threshold falls back to the default
func (s *sessionService) bankConfig(ctx context.Context, bank *models.QuestionBank) models.BankConfig {
	cfg := bank.ResolveConfig(s.config.DefaultPassingThreshold, s.config.DefaultWeakAreaThreshold)

	var verrs ValidationErrors
	if !errors.As(s.validator.Validate(cfg), &verrs) {
		return cfg
	}
	for _, ve := range verrs {
		switch ve.Field {
		case "passing_threshold":
			cfg.PassingThreshold = s.config.DefaultPassingThreshold
		case "weak_area_threshold":
			cfg.WeakAreaThreshold = s.config.DefaultWeakAreaThreshold
		default:
			continue
		}
		s.logger.WarnContext(ctx, "Ignoring out-of-range bank threshold",
			"bank_id", bank.ID,
			"field", ve.Field,
			"value", ve.Value)
	}
	return cfg
}

func (s *sessionService) resolveHolderName(ctx context.Context, ownerID string) string {
	user, err := s.repo.User().GetByID(ctx, ownerID)
	if err != nil || user == nil {
		s.logger.WarnContext(ctx, "Holder name unavailable, using owner id", "owner_id", ownerID, "error", err)
		return ownerID
	}
	if user.FullName == "" {
		return ownerID
	}
	return user.FullName
}

// buildResultResponse assembles session, result and certificate for a closed session
func buildResultResponse(ctx context.Context, repo repositories.Repository, db *gorm.DB, sessionID uint, result *models.ScoringResult) (*ResultResponse, error) {
	session, err := repo.Session().GetByID(ctx, db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	sessionResp, err := toSessionResponse(session)
	if err != nil {
		return nil, err
	}

	resp := &ResultResponse{Session: sessionResp, Result: result}

	certificate, err := repo.Certificate().GetBySession(ctx, db, sessionID)
	switch {
	case err == nil:
		if resp.Certificate, err = toCertificateResponse(certificate); err != nil {
			return nil, err
		}
	case !repositories.IsNotFoundError(err):
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	return resp, nil
}
