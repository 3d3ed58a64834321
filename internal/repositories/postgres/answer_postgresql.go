package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

// Upsert keeps exactly one row per (session, question); the last write wins
func (a *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.SessionAnswer) error {
	db := a.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"selected_option_ids", "marked_for_review", "answered_at", "updated_at"}),
		}).
		Create(answer).Error
	return handleDBError(err, "upsert answer")
}

// UpsertReviewFlag toggles the review flag without touching the selection
func (a *AnswerPostgreSQL) UpsertReviewFlag(ctx context.Context, tx *gorm.DB, sessionID, questionID uint, marked bool, at time.Time) error {
	db := a.getDB(tx)
	answer := &models.SessionAnswer{
		SessionID:         sessionID,
		QuestionID:        questionID,
		SelectedOptionIDs: []uint{},
		MarkedForReview:   marked,
		AnsweredAt:        at,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"marked_for_review", "updated_at"}),
		}).
		Create(answer).Error
	return handleDBError(err, "upsert review flag")
}

func (a *AnswerPostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.SessionAnswer, error) {
	db := a.getDB(tx)
	var answers []*models.SessionAnswer
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, handleDBError(err, "get answers by session")
	}
	return answers, nil
}

func (a *AnswerPostgreSQL) GetBySessionAndQuestion(ctx context.Context, tx *gorm.DB, sessionID, questionID uint) (*models.SessionAnswer, error) {
	db := a.getDB(tx)
	var answer models.SessionAnswer
	if err := db.WithContext(ctx).
		Where("session_id = ? AND question_id = ?", sessionID, questionID).
		First(&answer).Error; err != nil {
		return nil, err
	}
	return &answer, nil
}

func (a *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}
