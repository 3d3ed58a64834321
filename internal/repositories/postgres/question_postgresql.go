package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type QuestionPostgreSQL struct {
	db *gorm.DB
}

func NewQuestionPostgreSQL(db *gorm.DB) repositories.QuestionRepository {
	return &QuestionPostgreSQL{db: db}
}

func (q *QuestionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	db := q.getDB(tx)
	var question models.Question
	if err := q.withOptions(db.WithContext(ctx)).First(&question, id).Error; err != nil {
		return nil, err
	}
	return &question, nil
}

// GetByIDs loads questions with their options; the result order is unspecified
func (q *QuestionPostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	db := q.getDB(tx)
	var questions []*models.Question
	if len(ids) == 0 {
		return questions, nil
	}
	if err := q.withOptions(db.WithContext(ctx)).
		Where("id IN ?", ids).
		Find(&questions).Error; err != nil {
		return nil, handleDBError(err, "get questions by ids")
	}
	return questions, nil
}

// GetActiveIDsByBank returns ids in catalog order
func (q *QuestionPostgreSQL) GetActiveIDsByBank(ctx context.Context, tx *gorm.DB, bankID uint) ([]uint, error) {
	db := q.getDB(tx)
	var ids []uint
	if err := db.WithContext(ctx).
		Model(&models.Question{}).
		Where("bank_id = ? AND is_active = ?", bankID, true).
		Order(`"order" ASC, id ASC`).
		Pluck("id", &ids).Error; err != nil {
		return nil, handleDBError(err, "get active question ids")
	}
	return ids, nil
}

func (q *QuestionPostgreSQL) withOptions(db *gorm.DB) *gorm.DB {
	return db.Preload("Options", func(db *gorm.DB) *gorm.DB {
		return db.Order(`"order" ASC, id ASC`)
	})
}

func (q *QuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db
}
