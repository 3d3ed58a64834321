package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use validator types
type StartSessionRequest = validator.StartSessionRequest
type SaveAnswerRequest = validator.SaveAnswerRequest
type HeartbeatRequest = validator.HeartbeatRequest
type ListSessionsRequest = validator.ListSessionsRequest
type VerifyCertificateRequest = validator.VerifyCertificateRequest

type SessionResponse struct {
	ID                   uint                 `json:"id"`
	OwnerID              string               `json:"owner_id"`
	BankID               uint                 `json:"bank_id"`
	Status               models.SessionStatus `json:"status"`
	QuestionCount        int                  `json:"question_count"`
	TimeLimitSeconds     *int                 `json:"time_limit_seconds"`
	TimeRemainingSeconds *int                 `json:"time_remaining_seconds"`
	StartedAt            *time.Time           `json:"started_at"`
	DeadlineAt           *time.Time           `json:"deadline_at"`
	SubmittedAt          *time.Time           `json:"submitted_at"`
	SubmitReason         *string              `json:"submit_reason"`
	DurationSeconds      *int                 `json:"duration_seconds"`
	Score                *float64             `json:"score"`
	Passed               *bool                `json:"passed"`
	CorrectAnswers       int                  `json:"correct_answers"`
	TotalQuestions       int                  `json:"total_questions"`
	CreatedAt            time.Time            `json:"created_at"`
}

type StartSessionResponse struct {
	Session  *SessionResponse `json:"session"`
	Snapshot []uint           `json:"snapshot"`
}

type AnswerResponse struct {
	QuestionID        uint      `json:"question_id"`
	SelectedOptionIDs []uint    `json:"selected_option_ids"`
	MarkedForReview   bool      `json:"marked_for_review"`
	AnsweredAt        time.Time `json:"answered_at"`
}

// SaveAnswerResponse reports Saved=false, Closed=true when the session was already terminal
type SaveAnswerResponse struct {
	Saved  bool                 `json:"saved"`
	Closed bool                 `json:"closed"`
	Status models.SessionStatus `json:"status"`
	Answer *AnswerResponse      `json:"answer,omitempty"`
}

type HeartbeatResponse struct {
	SessionID        uint                 `json:"session_id"`
	RemainingSeconds *int                 `json:"remaining_seconds"`
	Status           models.SessionStatus `json:"status"`
	Expired          bool                 `json:"expired"`
	ServerTime       time.Time            `json:"server_time"`
}

type CertificateResponse struct {
	CertificateNumber string    `json:"certificate_number"`
	SessionID         uint      `json:"session_id"`
	OwnerID           string    `json:"owner_id"`
	BankID            uint      `json:"bank_id"`
	BankName          string    `json:"bank_name"`
	HolderName        string    `json:"holder_name"`
	Score             float64   `json:"score"`
	PassingThreshold  float64   `json:"passing_threshold"`
	IssuedAt          time.Time `json:"issued_at"`
}

// CertificateVerification is the public view of a certificate
type CertificateVerification struct {
	Valid             bool      `json:"valid"`
	CertificateNumber string    `json:"certificate_number"`
	HolderName        string    `json:"holder_name"`
	BankName          string    `json:"bank_name"`
	Score             float64   `json:"score"`
	IssuedAt          time.Time `json:"issued_at"`
}

type ResultResponse struct {
	Session     *SessionResponse      `json:"session"`
	Result      *models.ScoringResult `json:"result"`
	Certificate *CertificateResponse  `json:"certificate,omitempty"`
}

type ReviewOption struct {
	ID        uint   `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Selected  bool   `json:"selected"`
}

type ReviewQuestion struct {
	Position          int                 `json:"position"`
	QuestionID        uint                `json:"question_id"`
	Type              models.QuestionType `json:"type"`
	Category          string              `json:"category"`
	Text              string              `json:"text"`
	Explanation       *string             `json:"explanation"`
	Options           []ReviewOption      `json:"options"`
	SelectedOptionIDs []uint              `json:"selected_option_ids"`
	CorrectOptionIDs  []uint              `json:"correct_option_ids"`
	Correct           bool                `json:"correct"`
	MarkedForReview   bool                `json:"marked_for_review"`
	Missing           bool                `json:"missing"`
}

type ReviewResponse struct {
	SessionID uint                  `json:"session_id"`
	Result    *models.ScoringResult `json:"result"`
	Questions []ReviewQuestion      `json:"questions"`
}

// ExportFile is a rendered download
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ScoringInput carries everything one scoring pass reads
type ScoringInput struct {
	SessionID         uint
	Snapshot          []uint
	Answers           map[uint]*models.SessionAnswer
	Questions         map[uint]*models.Question
	PassingThreshold  float64
	WeakAreaThreshold float64
	ScoredAt          time.Time
}

// IssueContext is resolved before the terminal transaction opens
type IssueContext struct {
	BankName   string
	HolderName string
}

// ===== SERVICE INTERFACES =====

type Snapshotter interface {
	// CreateSnapshot returns a random permutation of the bank's active question ids
	CreateSnapshot(ctx context.Context, bankID uint) ([]uint, error)
}

type SessionService interface {
	Start(ctx context.Context, req *StartSessionRequest, ownerID string) (*StartSessionResponse, error)
	Get(ctx context.Context, sessionID uint, requesterID string) (*SessionResponse, error)
	Enter(ctx context.Context, sessionID uint, requesterID string) (*SessionResponse, error)
	ListMine(ctx context.Context, ownerID string, req *ListSessionsRequest) (*models.PaginatedResponse, error)

	// EnsureStarted moves a not_started session to in_progress and returns the current row
	EnsureStarted(ctx context.Context, session *models.ExamSession) (*models.ExamSession, error)

	// Submit is idempotent; repeated calls return the stored result
	Submit(ctx context.Context, sessionID uint, requesterID string) (*ResultResponse, error)

	// TransitionToSubmitted is the only path that closes and scores a session
	TransitionToSubmitted(ctx context.Context, sessionID uint, reason models.SubmitReason) (*models.ScoringResult, error)
}

type AnswerService interface {
	SaveAnswer(ctx context.Context, sessionID uint, requesterID string, req *SaveAnswerRequest) (*SaveAnswerResponse, error)
	MarkForReview(ctx context.Context, sessionID uint, requesterID string, questionID uint, marked bool) (*SaveAnswerResponse, error)
	ListAnswers(ctx context.Context, sessionID uint, requesterID string) ([]*AnswerResponse, error)
}

type TimerService interface {
	Heartbeat(ctx context.Context, sessionID uint, requesterID string, req *HeartbeatRequest) (*HeartbeatResponse, error)
	IsExpired(ctx context.Context, sessionID uint) (bool, error)

	// SweepExpired times out every overdue in-progress session and returns how many it closed
	SweepExpired(ctx context.Context) (int, error)
}

type ScoringService interface {
	ScoreSession(input ScoringInput) *models.ScoringResult
	GetResult(ctx context.Context, sessionID uint) (*models.ScoringResult, error)
}

type CertificateService interface {
	IssueIfEligible(ctx context.Context, tx *gorm.DB, session *models.ExamSession, result *models.ScoringResult, issue IssueContext) (*models.Certificate, error)
	GetBySession(ctx context.Context, sessionID uint, requesterID string) (*CertificateResponse, error)
	ListMine(ctx context.Context, ownerID string, page, size int) (*models.PaginatedResponse, error)
	Verify(ctx context.Context, number string) (*CertificateVerification, error)
}

type ResultService interface {
	GetResult(ctx context.Context, sessionID uint, requesterID string) (*ResultResponse, error)
	GetReview(ctx context.Context, sessionID uint, requesterID string) (*ReviewResponse, error)
	ExportResult(ctx context.Context, sessionID uint, requesterID string) (*ExportFile, error)
}

// ServiceManager interface manages all services
type ServiceManager interface {
	Snapshot() Snapshotter
	Session() SessionService
	Answer() AnswerService
	Timer() TimerService
	Scoring() ScoringService
	Certificate() CertificateService
	Result() ResultService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
