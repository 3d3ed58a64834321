package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type resultService struct {
	repo     repositories.Repository
	db       *gorm.DB
	logger   *slog.Logger
	sessions SessionService
	scoring  ScoringService
}

func NewResultService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, sessions SessionService, scoring ScoringService) ResultService {
	return &resultService{
		repo:     repo,
		db:       db,
		logger:   logger,
		sessions: sessions,
		scoring:  scoring,
	}
}

func (s *resultService) GetResult(ctx context.Context, sessionID uint, requesterID string) (*ResultResponse, error) {
	result, err := s.closedResult(ctx, sessionID, requesterID)
	if err != nil {
		return nil, err
	}
	return buildResultResponse(ctx, s.repo, s.db, sessionID, result)
}

// GetReview joins the frozen verdicts with the current question text and options
func (s *resultService) GetReview(ctx context.Context, sessionID uint, requesterID string) (*ReviewResponse, error) {
	result, err := s.closedResult(ctx, sessionID, requesterID)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(result.Questions))
	for _, v := range result.Questions {
		ids = append(ids, v.QuestionID)
	}
	questions, err := s.repo.Question().GetByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	byID := make(map[uint]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	answers, err := s.repo.Answer().GetBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	marked := make(map[uint]bool, len(answers))
	for _, a := range answers {
		marked[a.QuestionID] = a.MarkedForReview
	}

	rows := make([]ReviewQuestion, 0, len(result.Questions))
	for i, v := range result.Questions {
		row := ReviewQuestion{
			Position:          i + 1,
			QuestionID:        v.QuestionID,
			Category:          v.Category,
			SelectedOptionIDs: nonNil(v.SelectedOptionIDs),
			CorrectOptionIDs:  nonNil(v.CorrectOptionIDs),
			Correct:           v.Correct,
			MarkedForReview:   marked[v.QuestionID],
			Options:           []ReviewOption{},
		}

		q, ok := byID[v.QuestionID]
		if !ok {
			row.Missing = true
			rows = append(rows, row)
			continue
		}
		row.Type = q.Type
		row.Text = q.Text
		row.Explanation = q.Explanation
		for _, opt := range q.Options {
			row.Options = append(row.Options, ReviewOption{
				ID:        opt.ID,
				Text:      opt.Text,
				IsCorrect: slices.Contains(v.CorrectOptionIDs, opt.ID),
				Selected:  slices.Contains(v.SelectedOptionIDs, opt.ID),
			})
		}
		rows = append(rows, row)
	}

	return &ReviewResponse{
		SessionID: sessionID,
		Result:    result,
		Questions: rows,
	}, nil
}

// ExportResult renders the review as a workbook with a Summary and a Review sheet
func (s *resultService) ExportResult(ctx context.Context, sessionID uint, requesterID string) (*ExportFile, error) {
	ctx, span := tracer.Start(ctx, "ResultService.ExportResult")
	defer span.End()

	review, err := s.GetReview(ctx, sessionID, requesterID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.WarnContext(ctx, "Failed to close workbook", "session_id", sessionID, "error", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return nil, fmt.Errorf("failed to prepare workbook: %w", err)
	}
	if err := writeSummarySheet(f, review.Result); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet("Review"); err != nil {
		return nil, fmt.Errorf("failed to prepare workbook: %w", err)
	}
	if err := writeReviewSheet(f, review.Questions); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}

	s.logger.InfoContext(ctx, "Exported session result", "session_id", sessionID, "bytes", buf.Len())
	return &ExportFile{
		Filename:    fmt.Sprintf("session-%d-result.xlsx", sessionID),
		ContentType: xlsxContentType,
		Data:        buf.Bytes(),
	}, nil
}

// closedResult checks ownership, closes an overdue session and returns its stored result
func (s *resultService) closedResult(ctx context.Context, sessionID uint, requesterID string) (*models.ScoringResult, error) {
	// Get enforces expiry, so an overdue session is terminal after this
	resp, err := s.sessions.Get(ctx, sessionID, requesterID)
	if err != nil {
		return nil, err
	}
	if !resp.Status.IsTerminal() {
		return nil, ErrSessionNotSubmitted
	}
	return s.scoring.GetResult(ctx, sessionID)
}

func writeSummarySheet(f *excelize.File, result *models.ScoringResult) error {
	rows := [][]any{
		{"Session", result.SessionID},
		{"Score", result.Score},
		{"Passing threshold", result.PassingThreshold},
		{"Passed", result.Passed},
		{"Correct answers", result.CorrectAnswers},
		{"Total questions", result.TotalQuestions},
		{"Scored at", result.ScoredAt.Format("2006-01-02 15:04:05 MST")},
		{},
		{"Category", "Correct", "Total", "Percentage", "Weak"},
	}

	weak := make(map[string]bool, len(result.WeakAreas))
	for _, w := range result.WeakAreas {
		weak[w.Category] = true
	}
	for _, c := range result.Categories {
		rows = append(rows, []any{c.Category, c.Correct, c.Total, c.Percentage, weak[c.Category]})
	}

	return writeRows(f, "Summary", rows)
}

func writeReviewSheet(f *excelize.File, questions []ReviewQuestion) error {
	rows := [][]any{{"#", "Question ID", "Category", "Question", "Selected", "Correct answer", "Result", "Marked"}}
	for _, q := range questions {
		text := q.Text
		if q.Missing {
			text = "(question no longer available)"
		}
		verdict := "incorrect"
		if q.Correct {
			verdict = "correct"
		}
		rows = append(rows, []any{
			q.Position,
			q.QuestionID,
			q.Category,
			text,
			optionTexts(q, q.SelectedOptionIDs),
			optionTexts(q, q.CorrectOptionIDs),
			verdict,
			q.MarkedForReview,
		})
	}
	return writeRows(f, "Review", rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// optionTexts renders ids as option text, falling back to the raw id
func optionTexts(q ReviewQuestion, ids []uint) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		label := fmt.Sprintf("#%d", id)
		for _, opt := range q.Options {
			if opt.ID == id {
				label = opt.Text
				break
			}
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "; ")
}

func nonNil(ids []uint) []uint {
	if ids == nil {
		return []uint{}
	}
	return ids
}
