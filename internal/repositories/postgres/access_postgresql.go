package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type accessRepository struct {
	db *gorm.DB
}

func NewAccessRepository(db *gorm.DB) repositories.AccessRepository {
	return &accessRepository{db: db}
}

func (r *accessRepository) GetByOwnerAndBank(ctx context.Context, tx *gorm.DB, ownerID string, bankID uint) (*models.BankAccess, error) {
	db := r.getDB(tx)
	var access models.BankAccess
	if err := db.WithContext(ctx).
		Where("owner_id = ? AND bank_id = ?", ownerID, bankID).
		First(&access).Error; err != nil {
		return nil, err
	}
	return &access, nil
}

func (r *accessRepository) HasAccess(ctx context.Context, tx *gorm.DB, ownerID string, bankID uint, now time.Time) (bool, error) {
	access, err := r.GetByOwnerAndBank(ctx, tx, ownerID, bankID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, handleDBError(err, "check bank access")
	}
	return access.IsValid(now), nil
}

func (r *accessRepository) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
