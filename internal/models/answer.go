package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// SessionAnswer is the learner's current response to one question of one session.
// At most one row exists per (session_id, question_id).
type SessionAnswer struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	SessionID  uint `json:"session_id" gorm:"not null;uniqueIndex:idx_session_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_session_question"`

	// Empty selection means visited but unanswered
	SelectedOptionIDs datatypes.JSONSlice[uint] `json:"selected_option_ids"`
	MarkedForReview   bool                      `json:"marked_for_review" gorm:"default:false"`
	AnsweredAt        time.Time                 `json:"answered_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SessionAnswer) TableName() string {
	return "session_answers"
}

// IsAnswered reports whether at least one option is selected
func (a *SessionAnswer) IsAnswered() bool {
	return len(a.SelectedOptionIDs) > 0
}

// NormalizeSelection sorts and de-duplicates option ids so equal sets compare equal
func NormalizeSelection(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	out = append(out, ids...)
	slices.Sort(out)
	return slices.Compact(out)
}
