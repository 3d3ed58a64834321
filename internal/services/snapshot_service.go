package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type snapshotService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger

	// newRand returns the shuffle source for one call
	newRand func() *rand.Rand
}

func NewSnapshotService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) Snapshotter {
	return &snapshotService{
		repo:    repo,
		db:      db,
		logger:  logger,
		newRand: newPCGRand,
	}
}

func newPCGRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func (s *snapshotService) CreateSnapshot(ctx context.Context, bankID uint) ([]uint, error) {
	ctx, span := tracer.Start(ctx, "Snapshotter.CreateSnapshot")
	defer span.End()

	bank, err := s.repo.QuestionBank().GetByID(ctx, s.db, bankID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrBankNotFound
		}
		return nil, fmt.Errorf("failed to get question bank: %w", err)
	}
	if !bank.IsActive {
		return nil, ErrBankNotFound
	}

	ids, err := s.repo.Question().GetActiveIDsByBank(ctx, s.db, bankID)
	if err != nil {
		return nil, fmt.Errorf("failed to get question ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrEmptyBank
	}

	snapshot := make([]uint, len(ids))
	copy(snapshot, ids)
	r := s.newRand()
	r.Shuffle(len(snapshot), func(i, j int) {
		snapshot[i], snapshot[j] = snapshot[j], snapshot[i]
	})

	s.logger.DebugContext(ctx, "Snapshot created", "bank_id", bankID, "question_count", len(snapshot))
	return snapshot, nil
}
