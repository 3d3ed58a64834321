package validator

import "time"

// StartSessionRequest represents the request structure for starting a session
type StartSessionRequest struct {
	BankID uint `json:"bank_id" validate:"required"`
}

// SaveAnswerRequest replaces the stored selection for one question
type SaveAnswerRequest struct {
	QuestionID        uint   `json:"question_id" validate:"required"`
	SelectedOptionIDs []uint `json:"selected_option_ids" validate:"max=50,option_ids"`
	MarkedForReview   *bool  `json:"marked_for_review"`
}

type MarkReviewRequest struct {
	MarkedForReview *bool `json:"marked_for_review" validate:"required"`
}

// HeartbeatRequest carries the client's view of the clock, used only for drift reporting
type HeartbeatRequest struct {
	ClientRemainingSeconds *int `json:"client_remaining_seconds" validate:"omitempty,min=0"`
}

type ListSessionsRequest struct {
	Page     int        `form:"page" json:"page" validate:"min=0"`
	Size     int        `form:"size" json:"size" validate:"min=1,max=100"`
	BankID   *uint      `form:"bank_id" json:"bank_id"`
	Status   string     `form:"status" json:"status" validate:"omitempty,session_status"`
	DateFrom *time.Time `form:"date_from" json:"date_from" time_format:"2006-01-02T15:04:05Z07:00"`
	DateTo   *time.Time `form:"date_to" json:"date_to" time_format:"2006-01-02T15:04:05Z07:00"`
	SortBy   string     `form:"sort_by" json:"sort_by" validate:"omitempty,session_sort"`
	SortDir  string     `form:"sort_dir" json:"sort_dir" validate:"omitempty,oneof=asc desc"`
}

type VerifyCertificateRequest struct {
	Number string `json:"number" validate:"required,certificate_number"`
}
