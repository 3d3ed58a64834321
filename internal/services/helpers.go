package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

var tracer = otel.Tracer("github.com/SAP-F-2025/exam-session-service/internal/services")

func utcNow() time.Time {
	return time.Now().UTC()
}

// round2 rounds half away from zero to two decimals
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// percentage is correct/total as a two-decimal percentage, 0 when total is 0
func percentage(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(correct) * 100 / float64(total))
}

// remainingSeconds is max(0, ceil(deadline - now))
func remainingSeconds(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func intPtr(v int) *int {
	return &v
}

// loadOwnedSession reads a session and checks that requesterID owns it
func loadOwnedSession(ctx context.Context, repo repositories.Repository, db *gorm.DB, sessionID uint, requesterID, action string) (*models.ExamSession, error) {
	session, err := repo.Session().GetByID(ctx, db, sessionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.OwnerID != requesterID {
		return nil, NewPermissionError(requesterID, sessionID, "session", action, "not owner of session")
	}
	return session, nil
}

// isOverdue reports whether an in-progress timed session has passed its deadline
func isOverdue(session *models.ExamSession, now time.Time) bool {
	return session.Status == models.SessionInProgress &&
		session.DeadlineAt != nil &&
		!now.Before(*session.DeadlineAt)
}

func toSessionResponse(session *models.ExamSession) (*SessionResponse, error) {
	var resp SessionResponse
	if err := copier.Copy(&resp, session); err != nil {
		return nil, fmt.Errorf("failed to project session: %w", err)
	}
	ids, err := session.Snapshot()
	if err != nil {
		return nil, err
	}
	resp.QuestionCount = len(ids)
	return &resp, nil
}

func toCertificateResponse(certificate *models.Certificate) (*CertificateResponse, error) {
	var resp CertificateResponse
	if err := copier.Copy(&resp, certificate); err != nil {
		return nil, fmt.Errorf("failed to project certificate: %w", err)
	}
	return &resp, nil
}

func toAnswerResponse(answer *models.SessionAnswer) *AnswerResponse {
	selected := []uint(answer.SelectedOptionIDs)
	if selected == nil {
		selected = []uint{}
	}
	return &AnswerResponse{
		QuestionID:        answer.QuestionID,
		SelectedOptionIDs: selected,
		MarkedForReview:   answer.MarkedForReview,
		AnsweredAt:        answer.AnsweredAt,
	}
}

// pageBounds clamps page (0-based) and size and converts them to limit/offset
func pageBounds(page, size int) (int, int, int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 10
	}
	if size > 100 {
		size = 100
	}
	return page, size, size, page * size
}
