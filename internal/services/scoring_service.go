package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type scoringService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
	cache  *cache.CacheManager
}

func NewScoringService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, cacheManager *cache.CacheManager) ScoringService {
	return &scoringService{
		repo:   repo,
		db:     db,
		logger: logger,
		cache:  cacheManager,
	}
}

// ScoreSession is pure: the same input always yields the same result
func (s *scoringService) ScoreSession(input ScoringInput) *models.ScoringResult {
	return ScoreSession(input)
}

// GetResult returns the stored result; it never rescores
func (s *scoringService) GetResult(ctx context.Context, sessionID uint) (*models.ScoringResult, error) {
	var result models.ScoringResult
	err := s.cache.Result.CacheOrExecute(ctx, cache.ResultKey(sessionID), &result, cache.ResultCacheConfig.TTL, func() (interface{}, error) {
		session, err := s.repo.Session().GetByID(ctx, s.db, sessionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, ErrSessionNotFound
			}
			return nil, err
		}
		stored, err := session.ScoringResult()
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, ErrSessionNotSubmitted
		}
		return stored, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return &result, nil
}

// ScoreSession grades every snapshot question against the answer set
func ScoreSession(input ScoringInput) *models.ScoringResult {
	result := &models.ScoringResult{
		SessionID:         input.SessionID,
		TotalQuestions:    len(input.Snapshot),
		PassingThreshold:  round2(input.PassingThreshold),
		WeakAreaThreshold: round2(input.WeakAreaThreshold),
		Questions:         make([]models.QuestionVerdict, 0, len(input.Snapshot)),
		Categories:        []models.CategoryScore{},
		WeakAreas:         []models.CategoryScore{},
		ScoredAt:          input.ScoredAt,
	}

	type tally struct{ total, correct int }
	categories := make(map[string]*tally)

	for _, questionID := range input.Snapshot {
		verdict := gradeQuestion(questionID, input.Questions[questionID], input.Answers[questionID])
		result.Questions = append(result.Questions, verdict)

		t, ok := categories[verdict.Category]
		if !ok {
			t = &tally{}
			categories[verdict.Category] = t
		}
		t.total++
		if verdict.Correct {
			t.correct++
			result.CorrectAnswers++
		}
	}

	result.Score = percentage(result.CorrectAnswers, result.TotalQuestions)
	result.Passed = result.Score >= result.PassingThreshold

	for name, t := range categories {
		result.Categories = append(result.Categories, models.CategoryScore{
			Category:   name,
			Total:      t.total,
			Correct:    t.correct,
			Percentage: percentage(t.correct, t.total),
		})
	}
	sort.Slice(result.Categories, func(i, j int) bool {
		return result.Categories[i].Category < result.Categories[j].Category
	})

	for _, c := range result.Categories {
		if c.Percentage < result.WeakAreaThreshold {
			result.WeakAreas = append(result.WeakAreas, c)
		}
	}
	sort.SliceStable(result.WeakAreas, func(i, j int) bool {
		a, b := result.WeakAreas[i], result.WeakAreas[j]
		if a.Percentage != b.Percentage {
			return a.Percentage < b.Percentage
		}
		return a.Category < b.Category
	})

	return result
}

// gradeQuestion treats a question missing from the catalog as incorrect and uncategorized
func gradeQuestion(questionID uint, question *models.Question, answer *models.SessionAnswer) models.QuestionVerdict {
	verdict := models.QuestionVerdict{
		QuestionID:        questionID,
		Category:          models.UncategorizedCategory,
		SelectedOptionIDs: []uint{},
		CorrectOptionIDs:  []uint{},
	}
	if answer != nil && answer.IsAnswered() {
		verdict.SelectedOptionIDs = models.NormalizeSelection(answer.SelectedOptionIDs)
	}
	if question == nil {
		return verdict
	}

	if question.Category != "" {
		verdict.Category = question.Category
	}
	verdict.CorrectOptionIDs = question.CorrectOptionIDs()
	verdict.Correct = question.Type.Kind().Matches(verdict.SelectedOptionIDs, verdict.CorrectOptionIDs)
	return verdict
}
