package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// maxNumberAttempts bounds retries on a certificate number collision
const maxNumberAttempts = 3

type certificateService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator

	// newSuffix returns the random part of a certificate number
	newSuffix func() string
}

func NewCertificateService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) CertificateService {
	return &certificateService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		newSuffix: uuidSuffix,
	}
}

func uuidSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// IssueIfEligible runs inside the terminal transaction. It returns nil for a
// failed session and the existing certificate when one was already issued.
func (s *certificateService) IssueIfEligible(ctx context.Context, tx *gorm.DB, session *models.ExamSession, result *models.ScoringResult, issue IssueContext) (*models.Certificate, error) {
	if result == nil || !result.Passed {
		return nil, nil
	}

	if existing, err := s.repo.Certificate().GetBySession(ctx, tx, session.ID); err == nil {
		return existing, nil
	} else if !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check existing certificate: %w", err)
	}

	holder := issue.HolderName
	if holder == "" {
		holder = session.OwnerID
	}
	issuedAt := result.ScoredAt

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		certificate := &models.Certificate{
			SessionID:         session.ID,
			OwnerID:           session.OwnerID,
			BankID:            session.BankID,
			BankName:          issue.BankName,
			HolderName:        holder,
			Score:             result.Score,
			PassingThreshold:  result.PassingThreshold,
			CertificateNumber: models.NewCertificateNumber(issuedAt, session.BankID, s.newSuffix()),
			IssuedAt:          issuedAt,
		}

		if _, err := s.repo.Certificate().CreateIfAbsent(ctx, tx, certificate); err != nil {
			return nil, err
		}

		// Re-read by session: either our row or a concurrent winner's
		stored, err := s.repo.Certificate().GetBySession(ctx, tx, session.ID)
		if err == nil {
			return stored, nil
		}
		if !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to read certificate: %w", err)
		}

		s.logger.WarnContext(ctx, "Certificate number collision, retrying",
			"session_id", session.ID,
			"attempt", attempt)
	}

	return nil, fmt.Errorf("failed to allocate certificate number for session %d after %d attempts", session.ID, maxNumberAttempts)
}

func (s *certificateService) GetBySession(ctx context.Context, sessionID uint, requesterID string) (*CertificateResponse, error) {
	if _, err := loadOwnedSession(ctx, s.repo, s.db, sessionID, requesterID, "read"); err != nil {
		return nil, err
	}

	certificate, err := s.repo.Certificate().GetBySession(ctx, s.db, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	return toCertificateResponse(certificate)
}

func (s *certificateService) ListMine(ctx context.Context, ownerID string, page, size int) (*models.PaginatedResponse, error) {
	page, size, limit, offset := pageBounds(page, size)

	certificates, total, err := s.repo.Certificate().ListByOwner(ctx, s.db, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	content := make([]*CertificateResponse, 0, len(certificates))
	for _, c := range certificates {
		resp, err := toCertificateResponse(c)
		if err != nil {
			return nil, err
		}
		content = append(content, resp)
	}

	resp := models.NewPaginatedResponse(content, len(content), total, page, size)
	return &resp, nil
}

// Verify is a public lookup; it exposes no owner or session ids
func (s *certificateService) Verify(ctx context.Context, number string) (*CertificateVerification, error) {
	ctx, span := tracer.Start(ctx, "CertificateService.Verify")
	defer span.End()

	req := &VerifyCertificateRequest{Number: strings.ToUpper(strings.TrimSpace(number))}
	// A malformed number cannot have been issued
	if err := s.validator.Validate(req); err != nil {
		return nil, ErrCertificateNotFound
	}

	certificate, err := s.repo.Certificate().GetByNumber(ctx, s.db, req.Number)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("failed to verify certificate: %w", err)
	}

	return &CertificateVerification{
		Valid:             true,
		CertificateNumber: certificate.CertificateNumber,
		HolderName:        certificate.HolderName,
		BankName:          certificate.BankName,
		Score:             certificate.Score,
		IssuedAt:          certificate.IssuedAt,
	}, nil
}
