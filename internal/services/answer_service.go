package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/metrics"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type answerService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	sessions  SessionService
	metrics   *metrics.Metrics

	now func() time.Time
}

func NewAnswerService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, sessions SessionService, m *metrics.Metrics) AnswerService {
	return &answerService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		sessions:  sessions,
		metrics:   m,
		now:       utcNow,
	}
}

// answerWrite applies one upsert under the session's shared lock
type answerWrite func(tx *gorm.DB, at time.Time) (*models.SessionAnswer, error)

func (s *answerService) SaveAnswer(ctx context.Context, sessionID uint, requesterID string, req *SaveAnswerRequest) (*SaveAnswerResponse, error) {
	ctx, span := tracer.Start(ctx, "AnswerService.SaveAnswer")
	defer span.End()

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	session, err := s.openSessionFor(ctx, sessionID, requesterID, "answer", req.QuestionID)
	if err != nil || session.Status.IsTerminal() {
		return s.closedOrErr(session, err)
	}

	question, err := s.repo.Question().GetByID(ctx, s.db, req.QuestionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	selection := models.NormalizeSelection(req.SelectedOptionIDs)
	if errs := s.validator.GetBusinessValidator().ValidateSelection(question, selection); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSelection, errs.Error())
	}

	if session, err = s.sessions.EnsureStarted(ctx, session); err != nil {
		return nil, err
	}

	return s.write(ctx, session, func(tx *gorm.DB, at time.Time) (*models.SessionAnswer, error) {
		marked := false
		if req.MarkedForReview != nil {
			marked = *req.MarkedForReview
		} else {
			existing, err := s.repo.Answer().GetBySessionAndQuestion(ctx, tx, sessionID, req.QuestionID)
			if err != nil && !repositories.IsNotFoundError(err) {
				return nil, err
			}
			if existing != nil {
				marked = existing.MarkedForReview
			}
		}

		answer := &models.SessionAnswer{
			SessionID:         sessionID,
			QuestionID:        req.QuestionID,
			SelectedOptionIDs: selection,
			MarkedForReview:   marked,
			AnsweredAt:        at,
		}
		if err := s.repo.Answer().Upsert(ctx, tx, answer); err != nil {
			return nil, err
		}
		return answer, nil
	})
}

// MarkForReview only touches the flag; a new row starts with an empty selection
func (s *answerService) MarkForReview(ctx context.Context, sessionID uint, requesterID string, questionID uint, marked bool) (*SaveAnswerResponse, error) {
	session, err := s.openSessionFor(ctx, sessionID, requesterID, "review", questionID)
	if err != nil || session.Status.IsTerminal() {
		return s.closedOrErr(session, err)
	}
	if session, err = s.sessions.EnsureStarted(ctx, session); err != nil {
		return nil, err
	}

	return s.write(ctx, session, func(tx *gorm.DB, at time.Time) (*models.SessionAnswer, error) {
		if err := s.repo.Answer().UpsertReviewFlag(ctx, tx, sessionID, questionID, marked, at); err != nil {
			return nil, err
		}
		return s.repo.Answer().GetBySessionAndQuestion(ctx, tx, sessionID, questionID)
	})
}

func (s *answerService) ListAnswers(ctx context.Context, sessionID uint, requesterID string) ([]*AnswerResponse, error) {
	if _, err := loadOwnedSession(ctx, s.repo, s.db, sessionID, requesterID, "read"); err != nil {
		return nil, err
	}

	answers, err := s.repo.Answer().GetBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}

	out := make([]*AnswerResponse, 0, len(answers))
	for _, a := range answers {
		out = append(out, toAnswerResponse(a))
	}
	return out, nil
}

// ===== HELPERS =====

// openSessionFor checks ownership and snapshot membership and times out an
// overdue session. A terminal session is returned as-is.
func (s *answerService) openSessionFor(ctx context.Context, sessionID uint, requesterID, action string, questionID uint) (*models.ExamSession, error) {
	session, err := loadOwnedSession(ctx, s.repo, s.db, sessionID, requesterID, action)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return session, nil
	}

	if isOverdue(session, s.now()) {
		return s.timeout(ctx, session)
	}

	inSnapshot, err := session.ContainsQuestion(questionID)
	if err != nil {
		return nil, err
	}
	if !inSnapshot {
		return nil, ErrInvalidQuestion
	}
	return session, nil
}

func (s *answerService) write(ctx context.Context, session *models.ExamSession, apply answerWrite) (*SaveAnswerResponse, error) {
	var (
		saved   *models.SessionAnswer
		current *models.ExamSession
		overdue bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Shared lock: concurrent saves proceed, the terminal UPDATE waits for them
		locked, err := s.repo.Session().GetByIDForShare(ctx, tx, session.ID)
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		current = locked

		now := s.now()
		if locked.Status.IsTerminal() {
			return nil
		}
		if isOverdue(locked, now) {
			overdue = true
			return nil
		}

		saved, err = apply(tx, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}

	if overdue {
		return s.closedOrErr(s.timeout(ctx, current))
	}
	if saved == nil {
		return s.closedOrErr(current, nil)
	}

	s.metrics.AnswerSaved("saved")
	return &SaveAnswerResponse{
		Saved:  true,
		Status: current.Status,
		Answer: toAnswerResponse(saved),
	}, nil
}

func (s *answerService) timeout(ctx context.Context, session *models.ExamSession) (*models.ExamSession, error) {
	s.logger.InfoContext(ctx, "Write after deadline, closing session", "session_id", session.ID)
	if _, err := s.sessions.TransitionToSubmitted(ctx, session.ID, models.SubmitReasonTimeout); err != nil {
		return nil, err
	}
	current, err := s.repo.Session().GetByID(ctx, s.db, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	return current, nil
}

// closedOrErr turns a terminal session into the no-op response
func (s *answerService) closedOrErr(session *models.ExamSession, err error) (*SaveAnswerResponse, error) {
	if err != nil {
		return nil, err
	}
	s.metrics.AnswerSaved("closed")
	return &SaveAnswerResponse{Saved: false, Closed: true, Status: session.Status}, nil
}
