package models

import (
	"slices"
	"time"
)

type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "mcq_single"
	QuestionMultipleChoice QuestionType = "mcq_multi"
	QuestionTrueFalse      QuestionType = "true_false"
)

// QuestionKind is the closed set of comparison rules a question type maps to
type QuestionKind int

const (
	KindUnknown QuestionKind = iota
	KindSingle
	KindMulti
	KindTrueFalse
)

func (t QuestionType) Kind() QuestionKind {
	switch t {
	case QuestionSingleChoice:
		return KindSingle
	case QuestionMultipleChoice:
		return KindMulti
	case QuestionTrueFalse:
		return KindTrueFalse
	default:
		return KindUnknown
	}
}

func (t QuestionType) IsValid() bool {
	return t.Kind() != KindUnknown
}

// Matches reports whether a selection earns credit under this kind.
// Both slices must be normalized (sorted, no duplicates).
func (k QuestionKind) Matches(selected, correct []uint) bool {
	switch k {
	case KindSingle, KindTrueFalse:
		return len(selected) == 1 && len(correct) == 1 && selected[0] == correct[0]
	case KindMulti:
		return len(selected) > 0 && slices.Equal(selected, correct)
	case KindUnknown:
		return false
	}
	return false
}

// Question is read from the catalog; the engine never writes it
type Question struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	BankID      uint         `json:"bank_id" gorm:"not null;index"`
	Type        QuestionType `json:"type" gorm:"not null;size:20"`
	Text        string       `json:"text" gorm:"type:text;not null"`
	Explanation *string      `json:"explanation" gorm:"type:text"`
	Category    string       `json:"category" gorm:"size:100;index"`
	IsActive    bool         `json:"is_active" gorm:"default:true;index"`
	Order       int          `json:"order" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Options []AnswerOption `json:"options" gorm:"foreignKey:QuestionID"`
}

func (Question) TableName() string {
	return "questions"
}

// CorrectOptionIDs returns the sorted ids of options flagged correct
func (q *Question) CorrectOptionIDs() []uint {
	var ids []uint
	for _, opt := range q.Options {
		if opt.IsCorrect {
			ids = append(ids, opt.ID)
		}
	}
	return NormalizeSelection(ids)
}

// HasOption reports whether optionID belongs to this question
func (q *Question) HasOption(optionID uint) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

type AnswerOption struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	QuestionID uint   `json:"question_id" gorm:"not null;index"`
	Text       string `json:"text" gorm:"type:text;not null"`
	IsCorrect  bool   `json:"is_correct" gorm:"default:false"`
	Order      int    `json:"order" gorm:"default:0"`
}

func (AnswerOption) TableName() string {
	return "answer_options"
}
