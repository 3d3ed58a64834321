package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not_started"
	SessionInProgress SessionStatus = "in_progress"
	SessionSubmitted  SessionStatus = "submitted"
	SessionExpired    SessionStatus = "expired"
)

// IsTerminal reports whether no further transitions are allowed
func (s SessionStatus) IsTerminal() bool {
	return s == SessionSubmitted || s == SessionExpired
}

// OpenSessionStatuses are the states a terminal transition may start from
var OpenSessionStatuses = []SessionStatus{SessionNotStarted, SessionInProgress}

type SubmitReason string

const (
	SubmitReasonManual  SubmitReason = "manual"
	SubmitReasonTimeout SubmitReason = "timeout"
)

// TerminalStatus maps a submit reason to the state it closes the session in
func (r SubmitReason) TerminalStatus() SessionStatus {
	if r == SubmitReasonTimeout {
		return SessionExpired
	}
	return SessionSubmitted
}

// ExamSession is one learner's attempt at one question bank
type ExamSession struct {
	ID      uint          `json:"id" gorm:"primaryKey"`
	OwnerID string        `json:"owner_id" gorm:"not null;index;size:255"`
	BankID  uint          `json:"bank_id" gorm:"not null;index"`
	Status  SessionStatus `json:"status" gorm:"not null;size:20;default:not_started;index"`

	// Snapshot of question ids, fixed at creation
	QuestionIDs datatypes.JSON `json:"question_ids" gorm:"not null"`

	// Timing
	TimeLimitSeconds     *int       `json:"time_limit_seconds"`
	TimeRemainingSeconds *int       `json:"time_remaining_seconds"`
	StartedAt            *time.Time `json:"started_at"`
	DeadlineAt           *time.Time `json:"deadline_at" gorm:"index"`
	SubmittedAt          *time.Time `json:"submitted_at"`
	SubmitReason         *string    `json:"submit_reason" gorm:"size:20"`
	DurationSeconds      *int       `json:"duration_seconds"`

	// Scoring, written once with the terminal transition
	Score          *float64       `json:"score"`
	Passed         *bool          `json:"passed"`
	CorrectAnswers int            `json:"correct_answers" gorm:"default:0"`
	TotalQuestions int            `json:"total_questions" gorm:"default:0"`
	Result         datatypes.JSON `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Answers []SessionAnswer `json:"answers,omitempty" gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (ExamSession) TableName() string {
	return "exam_sessions"
}

// Snapshot decodes the ordered question ids
func (s *ExamSession) Snapshot() ([]uint, error) {
	var ids []uint
	if len(s.QuestionIDs) == 0 {
		return ids, nil
	}
	if err := json.Unmarshal(s.QuestionIDs, &ids); err != nil {
		return nil, fmt.Errorf("invalid question snapshot for session %d: %w", s.ID, err)
	}
	return ids, nil
}

// ContainsQuestion reports whether questionID is part of the snapshot
func (s *ExamSession) ContainsQuestion(questionID uint) (bool, error) {
	ids, err := s.Snapshot()
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == questionID {
			return true, nil
		}
	}
	return false, nil
}

// HasTimeLimit reports whether the timer applies to this session
func (s *ExamSession) HasTimeLimit() bool {
	return s.TimeLimitSeconds != nil && *s.TimeLimitSeconds > 0
}

// ScoringResult decodes the stored result, nil when the session was never scored
func (s *ExamSession) ScoringResult() (*ScoringResult, error) {
	if len(s.Result) == 0 || string(s.Result) == "null" {
		return nil, nil
	}
	var result ScoringResult
	if err := json.Unmarshal(s.Result, &result); err != nil {
		return nil, fmt.Errorf("invalid scoring result for session %d: %w", s.ID, err)
	}
	return &result, nil
}

// NewSnapshotJSON encodes question ids for storage
func NewSnapshotJSON(ids []uint) (datatypes.JSON, error) {
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
