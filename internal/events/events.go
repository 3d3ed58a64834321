package events

import "time"

type EventType string

const (
	SessionStarted    EventType = "session.started"
	SessionSubmitted  EventType = "session.submitted"
	CertificateIssued EventType = "certificate.issued"
)

// TopicBankUpdated is published by the catalog whenever a bank's settings or questions change
const TopicBankUpdated = "catalog.bank.updated"

// Envelope wraps every event payload on the wire
type Envelope struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type SessionStartedEvent struct {
	SessionID     uint       `json:"session_id"`
	OwnerID       string     `json:"owner_id"`
	BankID        uint       `json:"bank_id"`
	QuestionCount int        `json:"question_count"`
	StartedAt     time.Time  `json:"started_at"`
	DeadlineAt    *time.Time `json:"deadline_at,omitempty"`
}

type SessionSubmittedEvent struct {
	SessionID      uint      `json:"session_id"`
	OwnerID        string    `json:"owner_id"`
	BankID         uint      `json:"bank_id"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason"`
	Score          float64   `json:"score"`
	Passed         bool      `json:"passed"`
	CorrectAnswers int       `json:"correct_answers"`
	TotalQuestions int       `json:"total_questions"`
	WeakAreas      []string  `json:"weak_areas"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type CertificateIssuedEvent struct {
	CertificateID     uint      `json:"certificate_id"`
	CertificateNumber string    `json:"certificate_number"`
	SessionID         uint      `json:"session_id"`
	OwnerID           string    `json:"owner_id"`
	BankID            uint      `json:"bank_id"`
	Score             float64   `json:"score"`
	IssuedAt          time.Time `json:"issued_at"`
}

// BankUpdatedEvent is consumed, never published, by this service
type BankUpdatedEvent struct {
	BankID    uint      `json:"bank_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
