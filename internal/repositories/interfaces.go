package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type SessionFilters struct {
	OwnerID   *string               `json:"owner_id"`
	BankID    *uint                 `json:"bank_id"`
	Status    *models.SessionStatus `json:"status"`
	DateFrom  *time.Time            `json:"date_from"`
	DateTo    *time.Time            `json:"date_to"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortBy    string                `json:"sort_by"`    // "created_at", "submitted_at", "score"
	SortOrder string                `json:"sort_order"` // "asc", "desc"
}

// SessionClose describes a terminal transition
type SessionClose struct {
	Status          models.SessionStatus
	Reason          models.SubmitReason
	SubmittedAt     time.Time
	TimeRemaining   *int
	DurationSeconds *int
}

// SessionScore is written in the same transaction as the SessionClose it follows
type SessionScore struct {
	Score          float64
	Passed         bool
	CorrectAnswers int
	TotalQuestions int
	Result         []byte
}

// ===== SESSION REPOSITORY =====

type SessionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error)
	// GetByIDForShare takes a shared row lock held until tx ends
	GetByIDForShare(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error)
	List(ctx context.Context, tx *gorm.DB, filters SessionFilters) ([]*models.ExamSession, int64, error)

	// State transitions; each reports whether this call performed the transition
	MarkStarted(ctx context.Context, tx *gorm.DB, id uint, startedAt time.Time, deadlineAt *time.Time) (bool, error)
	CloseIfOpen(ctx context.Context, tx *gorm.DB, id uint, closing SessionClose) (bool, error)
	SaveScore(ctx context.Context, tx *gorm.DB, id uint, score SessionScore) error

	// Timer
	UpdateTimeRemaining(ctx context.Context, tx *gorm.DB, id uint, remaining int) (bool, error)
	ListOverdue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.ExamSession, error)
}

// ===== ANSWER REPOSITORY =====

type AnswerRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.SessionAnswer) error
	UpsertReviewFlag(ctx context.Context, tx *gorm.DB, sessionID, questionID uint, marked bool, at time.Time) error
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.SessionAnswer, error)
	GetBySessionAndQuestion(ctx context.Context, tx *gorm.DB, sessionID, questionID uint) (*models.SessionAnswer, error)
}

// ===== CERTIFICATE REPOSITORY =====

type CertificateRepository interface {
	// CreateIfAbsent inserts unless any unique key already exists
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, certificate *models.Certificate) (bool, error)
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (*models.Certificate, error)
	GetByNumber(ctx context.Context, tx *gorm.DB, number string) (*models.Certificate, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID string, limit, offset int) ([]*models.Certificate, int64, error)
}

// ===== CATALOG (READ-ONLY) =====

type QuestionRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)
	GetActiveIDsByBank(ctx context.Context, tx *gorm.DB, bankID uint) ([]uint, error)
}

type QuestionBankRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionBank, error)
}

type AccessRepository interface {
	GetByOwnerAndBank(ctx context.Context, tx *gorm.DB, ownerID string, bankID uint) (*models.BankAccess, error)
	HasAccess(ctx context.Context, tx *gorm.DB, ownerID string, bankID uint, now time.Time) (bool, error)
}
