package models

import "time"

const UncategorizedCategory = "Uncategorized"

// ScoringResult is computed once per session at the terminal transition
type ScoringResult struct {
	SessionID         uint              `json:"session_id"`
	TotalQuestions    int               `json:"total_questions"`
	CorrectAnswers    int               `json:"correct_answers"`
	Score             float64           `json:"score"`
	PassingThreshold  float64           `json:"passing_threshold"`
	Passed            bool              `json:"passed"`
	WeakAreaThreshold float64           `json:"weak_area_threshold"`
	Questions         []QuestionVerdict `json:"questions"`
	Categories        []CategoryScore   `json:"categories"`
	WeakAreas         []CategoryScore   `json:"weak_areas"`
	ScoredAt          time.Time         `json:"scored_at"`
}

type QuestionVerdict struct {
	QuestionID        uint   `json:"question_id"`
	Category          string `json:"category"`
	SelectedOptionIDs []uint `json:"selected_option_ids"`
	CorrectOptionIDs  []uint `json:"correct_option_ids"`
	Correct           bool   `json:"correct"`
}

type CategoryScore struct {
	Category   string  `json:"category"`
	Total      int     `json:"total"`
	Correct    int     `json:"correct"`
	Percentage float64 `json:"percentage"`
}
