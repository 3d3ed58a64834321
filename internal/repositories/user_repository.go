package repositories

import (
	"context"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// UserRepository reads identities owned by the auth provider
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}
