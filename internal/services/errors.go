package services

import (
	"errors"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ===== COMMON ERRORS =====

var (
	ErrForbidden = errors.New("forbidden")
)

// ===== SESSION ERRORS =====

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotSubmitted = errors.New("session has not been submitted")
	ErrNoAccess            = errors.New("no access to question bank")
)

// ===== CATALOG ERRORS =====

var (
	ErrBankNotFound     = errors.New("question bank not found")
	ErrEmptyBank        = errors.New("question bank has no active questions")
	ErrQuestionNotFound = errors.New("question not found")
	ErrInvalidQuestion  = errors.New("question is not part of this session")
	ErrInvalidSelection = errors.New("selection contains options that do not belong to the question")
)

// ===== CERTIFICATE ERRORS =====

var (
	ErrCertificateNotFound = errors.New("certificate not found")
)

// errAlreadyClosed rolls back a terminal transaction that lost the race
var errAlreadyClosed = errors.New("session already closed")

// ===== TYPED ERRORS =====

type ValidationErrors = validator.ValidationErrors

// PermissionError reports a denied action on a resource
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ResourceID, e.Reason)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrForbidden
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}
