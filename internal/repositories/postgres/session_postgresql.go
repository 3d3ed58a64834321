package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type SessionPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewSessionPostgreSQL(db *gorm.DB) repositories.SessionRepository {
	return &SessionPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (s *SessionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).Create(session).Error
}

// Sessions are not cached: status and timer fields change under concurrent traffic
func (s *SessionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	db := s.getDB(tx)
	var session models.ExamSession
	if err := db.WithContext(ctx).First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) GetByIDForShare(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	db := s.getDB(tx)
	var session models.ExamSession
	if err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthShare}).
		First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	db := s.getDB(tx)
	var sessions []*models.ExamSession
	var total int64

	// apply filter first
	query := db.WithContext(ctx).Model(&models.ExamSession{})
	query = s.helpers.ApplySessionFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = s.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

func (s *SessionPostgreSQL) MarkStarted(ctx context.Context, tx *gorm.DB, id uint, startedAt time.Time, deadlineAt *time.Time) (bool, error) {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ? AND status = ?", id, models.SessionNotStarted).
		Updates(map[string]interface{}{
			"status":      string(models.SessionInProgress),
			"started_at":  startedAt,
			"deadline_at": deadlineAt,
			"updated_at":  startedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark session started: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// CloseIfOpen is the compare-and-swap guarding the terminal transition.
// Only one caller ever observes true for a given session.
func (s *SessionPostgreSQL) CloseIfOpen(ctx context.Context, tx *gorm.DB, id uint, closing repositories.SessionClose) (bool, error) {
	db := s.getDB(tx)
	updates := map[string]interface{}{
		"status":        string(closing.Status),
		"submit_reason": string(closing.Reason),
		"submitted_at":  closing.SubmittedAt,
		"updated_at":    closing.SubmittedAt,
	}
	if closing.TimeRemaining != nil {
		updates["time_remaining_seconds"] = *closing.TimeRemaining
	}
	if closing.DurationSeconds != nil {
		updates["duration_seconds"] = *closing.DurationSeconds
	}

	result := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ? AND status IN ?", id, models.OpenSessionStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to close session: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *SessionPostgreSQL) SaveScore(ctx context.Context, tx *gorm.DB, id uint, score repositories.SessionScore) error {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ? AND result IS NULL", id).
		Updates(map[string]interface{}{
			"score":           score.Score,
			"passed":          score.Passed,
			"correct_answers": score.CorrectAnswers,
			"total_questions": score.TotalQuestions,
			"result":          string(score.Result),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save session score: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %d already scored", id)
	}
	return nil
}

// UpdateTimeRemaining only ever lowers the stored value of an in-progress session
func (s *SessionPostgreSQL) UpdateTimeRemaining(ctx context.Context, tx *gorm.DB, id uint, remaining int) (bool, error) {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.ExamSession{}).
		Where("id = ? AND status = ?", id, models.SessionInProgress).
		Where("time_remaining_seconds IS NULL OR time_remaining_seconds > ?", remaining).
		Update("time_remaining_seconds", remaining)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update time remaining: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *SessionPostgreSQL) ListOverdue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.ExamSession, error) {
	db := s.getDB(tx)
	var sessions []*models.ExamSession
	query := db.WithContext(ctx).
		Where("status = ? AND deadline_at IS NOT NULL AND deadline_at <= ?", models.SessionInProgress, now).
		Order("deadline_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list overdue sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
