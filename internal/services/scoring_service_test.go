package services

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// question builds question id with options id*10+1..id*10+n; correct lists option ids
func question(id uint, typ models.QuestionType, category string, n int, correct ...uint) *models.Question {
	q := &models.Question{ID: id, Type: typ, Category: category}
	for i := 1; i <= n; i++ {
		optID := id*10 + uint(i)
		q.Options = append(q.Options, models.AnswerOption{
			ID:         optID,
			QuestionID: id,
			IsCorrect:  slices.Contains(correct, optID),
		})
	}
	return q
}

func chosen(questionID uint, ids ...uint) *models.SessionAnswer {
	return &models.SessionAnswer{QuestionID: questionID, SelectedOptionIDs: ids}
}

func scoringFixture() map[uint]*models.Question {
	return map[uint]*models.Question{
		1: question(1, models.QuestionSingleChoice, "Networking", 4, 12),
		2: question(2, models.QuestionMultipleChoice, "Networking", 4, 21, 23),
		3: question(3, models.QuestionTrueFalse, "Security", 2, 31),
		4: question(4, models.QuestionSingleChoice, "", 2, 41),
	}
}

func TestScoreSession(t *testing.T) {
	questions := scoringFixture()

	tests := []struct {
		name       string
		snapshot   []uint
		answers    map[uint]*models.SessionAnswer
		questions  map[uint]*models.Question
		threshold  float64
		wantScore  float64
		wantPassed bool
		wantRight  int
		wantWeak   []string
	}{
		{
			name:     "all correct",
			snapshot: []uint{1, 2, 3, 4},
			answers: map[uint]*models.SessionAnswer{
				1: chosen(1, 12),
				2: chosen(2, 23, 21),
				3: chosen(3, 31),
				4: chosen(4, 41),
			},
			questions:  questions,
			threshold:  70,
			wantScore:  100,
			wantPassed: true,
			wantRight:  4,
			wantWeak:   []string{},
		},
		{
			name:       "no answers",
			snapshot:   []uint{1, 2, 3},
			answers:    map[uint]*models.SessionAnswer{},
			questions:  questions,
			threshold:  70,
			wantScore:  0,
			wantPassed: false,
			wantRight:  0,
			wantWeak:   []string{"Networking", "Security"},
		},
		{
			name:     "multi requires the exact set",
			snapshot: []uint{2},
			answers: map[uint]*models.SessionAnswer{
				2: chosen(2, 21),
			},
			questions: questions,
			threshold: 70,
			wantScore: 0,
			wantWeak:  []string{"Networking"},
		},
		{
			name:     "single with two selections is incorrect",
			snapshot: []uint{1},
			answers: map[uint]*models.SessionAnswer{
				1: chosen(1, 12, 13),
			},
			questions: questions,
			threshold: 70,
			wantScore: 0,
			wantWeak:  []string{"Networking"},
		},
		{
			name:     "duplicate selections are normalized",
			snapshot: []uint{1},
			answers: map[uint]*models.SessionAnswer{
				1: chosen(1, 12, 12),
			},
			questions:  questions,
			threshold:  70,
			wantScore:  100,
			wantPassed: true,
			wantRight:  1,
			wantWeak:   []string{},
		},
		{
			name:     "score equal to threshold passes",
			snapshot: []uint{1, 2, 3, 4},
			answers: map[uint]*models.SessionAnswer{
				1: chosen(1, 12),
				2: chosen(2, 21, 23),
				3: chosen(3, 31),
			},
			questions:  questions,
			threshold:  75,
			wantScore:  75,
			wantPassed: true,
			wantRight:  3,
			wantWeak:   []string{"Uncategorized"},
		},
		{
			name:     "rounds to two decimals",
			snapshot: []uint{1, 2, 3},
			answers: map[uint]*models.SessionAnswer{
				1: chosen(1, 12),
				2: chosen(2, 21, 23),
			},
			questions:  questions,
			threshold:  66.67,
			wantScore:  66.67,
			wantPassed: true,
			wantRight:  2,
			wantWeak:   []string{"Security"},
		},
		{
			name:     "missing question is incorrect and uncategorized",
			snapshot: []uint{1, 99},
			answers: map[uint]*models.SessionAnswer{
				1:  chosen(1, 12),
				99: chosen(99, 991),
			},
			questions:  questions,
			threshold:  50,
			wantScore:  50,
			wantPassed: true,
			wantRight:  1,
			wantWeak:   []string{"Uncategorized"},
		},
		{
			name:      "empty snapshot with zero threshold",
			snapshot:  []uint{},
			answers:   map[uint]*models.SessionAnswer{},
			questions: questions,
			threshold: 0,
			wantScore: 0,
			// 0 >= 0
			wantPassed: true,
			wantWeak:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ScoreSession(ScoringInput{
				SessionID:         7,
				Snapshot:          tt.snapshot,
				Answers:           tt.answers,
				Questions:         tt.questions,
				PassingThreshold:  tt.threshold,
				WeakAreaThreshold: 60,
				ScoredAt:          testEpoch,
			})

			assert.Equal(t, len(tt.snapshot), result.TotalQuestions)
			assert.Equal(t, tt.wantScore, result.Score)
			assert.Equal(t, tt.wantPassed, result.Passed)
			assert.Equal(t, tt.wantRight, result.CorrectAnswers)
			assert.Len(t, result.Questions, len(tt.snapshot))

			weak := make([]string, 0, len(result.WeakAreas))
			for _, w := range result.WeakAreas {
				weak = append(weak, w.Category)
			}
			assert.Equal(t, tt.wantWeak, weak)
		})
	}
}

func TestScoreSession_CategoryBreakdown(t *testing.T) {
	questions := scoringFixture()
	result := ScoreSession(ScoringInput{
		Snapshot: []uint{3, 1, 2, 4},
		Answers: map[uint]*models.SessionAnswer{
			1: chosen(1, 12),
			4: chosen(4, 42),
		},
		Questions:         questions,
		PassingThreshold:  70,
		WeakAreaThreshold: 60,
		ScoredAt:          testEpoch,
	})

	// Questions keep snapshot order
	order := make([]uint, 0, len(result.Questions))
	for _, v := range result.Questions {
		order = append(order, v.QuestionID)
	}
	assert.Equal(t, []uint{3, 1, 2, 4}, order)

	// Categories sorted by name
	require.Len(t, result.Categories, 3)
	assert.Equal(t, models.CategoryScore{Category: "Networking", Total: 2, Correct: 1, Percentage: 50}, result.Categories[0])
	assert.Equal(t, models.CategoryScore{Category: "Security", Total: 1, Correct: 0, Percentage: 0}, result.Categories[1])
	assert.Equal(t, models.CategoryScore{Category: "Uncategorized", Total: 1, Correct: 0, Percentage: 0}, result.Categories[2])

	// Weak areas sorted by percentage, then name
	require.Len(t, result.WeakAreas, 3)
	assert.Equal(t, "Security", result.WeakAreas[0].Category)
	assert.Equal(t, "Uncategorized", result.WeakAreas[1].Category)
	assert.Equal(t, "Networking", result.WeakAreas[2].Category)
}

func TestScoreSession_WeakThresholdIsStrict(t *testing.T) {
	questions := scoringFixture()
	result := ScoreSession(ScoringInput{
		Snapshot:          []uint{1, 2},
		Answers:           map[uint]*models.SessionAnswer{1: chosen(1, 12)},
		Questions:         questions,
		PassingThreshold:  70,
		WeakAreaThreshold: 50,
		ScoredAt:          testEpoch,
	})

	assert.Equal(t, 50.0, result.Categories[0].Percentage)
	assert.Empty(t, result.WeakAreas)
}

func TestScoreSession_VisitedButUnanswered(t *testing.T) {
	result := ScoreSession(ScoringInput{
		Snapshot: []uint{1},
		Answers: map[uint]*models.SessionAnswer{
			1: {QuestionID: 1, SelectedOptionIDs: []uint{}, MarkedForReview: true},
		},
		Questions:         scoringFixture(),
		PassingThreshold:  70,
		WeakAreaThreshold: 60,
		ScoredAt:          testEpoch,
	})

	require.Len(t, result.Questions, 1)
	assert.False(t, result.Questions[0].Correct)
	assert.NotNil(t, result.Questions[0].SelectedOptionIDs)
	assert.Empty(t, result.Questions[0].SelectedOptionIDs)
	assert.Zero(t, result.Score)
}

func TestScoreSession_Deterministic(t *testing.T) {
	input := ScoringInput{
		SessionID: 3,
		Snapshot:  []uint{4, 3, 2, 1},
		Answers: map[uint]*models.SessionAnswer{
			1: chosen(1, 11),
			2: chosen(2, 21, 23),
			3: chosen(3, 31),
		},
		Questions:         scoringFixture(),
		PassingThreshold:  70,
		WeakAreaThreshold: 60,
		ScoredAt:          testEpoch,
	}

	first := ScoreSession(input)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ScoreSession(input))
	}
}

func TestScoringService_GetResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, questions := env.startSession(t, bankSeed{Questions: []questionSeed{single("Networking")}})
	id := started.Session.ID

	t.Run("not submitted", func(t *testing.T) {
		_, err := env.scoring.GetResult(ctx, id)
		assert.ErrorIs(t, err, ErrSessionNotSubmitted)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := env.scoring.GetResult(ctx, 4242)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("stored result is returned without rescoring", func(t *testing.T) {
		env.answer(t, id, questions[0].ID, correctOptions(questions[0])...)
		submitted, err := env.sessions.Submit(ctx, id, learner)
		require.NoError(t, err)

		// Catalog edits after submission do not change the stored result
		require.NoError(t, env.db.Model(&models.AnswerOption{}).
			Where("question_id = ?", questions[0].ID).
			Update("is_correct", false).Error)
		require.NoError(t, env.cache.Result.Delete(ctx, cache.ResultKey(id)))

		result, err := env.scoring.GetResult(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, submitted.Result.Score, result.Score)
		assert.Equal(t, 100.0, result.Score)
		assert.True(t, result.Passed)
	})
}
