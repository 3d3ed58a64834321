package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type questionBankRepository struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewQuestionBankRepository(db *gorm.DB, cacheManager *cache.CacheManager) repositories.QuestionBankRepository {
	return &questionBankRepository{
		db:           db,
		cacheManager: cacheManager,
	}
}

// GetByID returns the bank without its questions. Cached entries are dropped
// when the catalog publishes a bank update.
func (r *questionBankRepository) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBank, error) {
	db := r.getDB(tx)
	var bank models.QuestionBank

	err := r.cacheManager.Bank.CacheOrExecute(ctx, cache.BankKey(id), &bank, cache.BankCacheConfig.TTL, func() (interface{}, error) {
		var dbBank models.QuestionBank
		if err := db.WithContext(ctx).First(&dbBank, id).Error; err != nil {
			return nil, err
		}
		return &dbBank, nil
	})
	if err != nil {
		return nil, err
	}

	return &bank, nil
}

func (r *questionBankRepository) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
