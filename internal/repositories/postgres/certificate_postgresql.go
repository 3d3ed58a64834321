package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type CertificatePostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewCertificatePostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.CertificateRepository {
	return &CertificatePostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cacheManager,
	}
}

// CreateIfAbsent reports false when a certificate with the same session or number exists
func (c *CertificatePostgreSQL) CreateIfAbsent(ctx context.Context, tx *gorm.DB, certificate *models.Certificate) (bool, error) {
	db := c.getDB(tx)
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(certificate)
	if result.Error != nil {
		return false, handleDBError(result.Error, "create certificate")
	}
	return result.RowsAffected == 1, nil
}

func (c *CertificatePostgreSQL) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (*models.Certificate, error) {
	db := c.getDB(tx)
	var certificate models.Certificate
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&certificate).Error; err != nil {
		return nil, err
	}
	return &certificate, nil
}

// GetByNumber is read through the cache; certificates are immutable once issued
func (c *CertificatePostgreSQL) GetByNumber(ctx context.Context, tx *gorm.DB, number string) (*models.Certificate, error) {
	db := c.getDB(tx)
	var certificate models.Certificate

	err := c.cacheManager.Certificate.CacheOrExecute(ctx, cache.CertificateNumberKey(number), &certificate, cache.CertificateCacheConfig.TTL, func() (interface{}, error) {
		var dbCertificate models.Certificate
		if err := db.WithContext(ctx).
			Where("certificate_number = ?", number).
			First(&dbCertificate).Error; err != nil {
			return nil, err
		}
		return &dbCertificate, nil
	})
	if err != nil {
		return nil, err
	}

	return &certificate, nil
}

func (c *CertificatePostgreSQL) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID string, limit, offset int) ([]*models.Certificate, int64, error) {
	db := c.getDB(tx)
	var certificates []*models.Certificate
	var total int64

	query := db.WithContext(ctx).Model(&models.Certificate{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, handleDBError(err, "count certificates")
	}

	query = c.helpers.ApplyPaginationAndSort(query, "issued_at", "desc", limit, offset)
	if err := query.Find(&certificates).Error; err != nil {
		return nil, 0, handleDBError(err, "list certificates")
	}

	return certificates, total, nil
}

func (c *CertificatePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return c.db
}
