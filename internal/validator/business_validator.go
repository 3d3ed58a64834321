package validator

import (
	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// BusinessValidator handles business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

func NewBusinessValidator() *BusinessValidator {
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonTagName)

	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()

	return bv
}

// ValidateSelection checks that every selected option belongs to the question.
// Selection size is not checked here; scoring marks an oversized selection incorrect.
func (bv *BusinessValidator) ValidateSelection(question *models.Question, selected []uint) ValidationErrors {
	var errors ValidationErrors
	for _, id := range selected {
		if !question.HasOption(id) {
			errors = append(errors, ValidationError{
				Field:   "selected_option_ids",
				Message: "option does not belong to question",
				Value:   id,
			})
		}
	}
	return errors
}

func (bv *BusinessValidator) registerBusinessRules() {
	bv.validate.RegisterValidation("session_status", func(fl validator.FieldLevel) bool {
		switch models.SessionStatus(fl.Field().String()) {
		case models.SessionNotStarted, models.SessionInProgress, models.SessionSubmitted, models.SessionExpired:
			return true
		}
		return false
	})

	bv.validate.RegisterValidation("session_sort", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "created_at", "started_at", "submitted_at", "score":
			return true
		}
		return false
	})

	// option ids must be positive and distinct
	bv.validate.RegisterValidation("option_ids", func(fl validator.FieldLevel) bool {
		ids, ok := fl.Field().Interface().([]uint)
		if !ok {
			return false
		}
		seen := make(map[uint]struct{}, len(ids))
		for _, id := range ids {
			if id == 0 {
				return false
			}
			if _, dup := seen[id]; dup {
				return false
			}
			seen[id] = struct{}{}
		}
		return true
	})

	bv.validate.RegisterValidation("threshold", func(fl validator.FieldLevel) bool {
		v := fl.Field().Float()
		return v >= 0 && v <= 100
	})

	// certificate numbers are CERT-YYYYMMDD-<bank>-<suffix>
	bv.validate.RegisterValidation("certificate_number", func(fl validator.FieldLevel) bool {
		return models.IsCertificateNumber(fl.Field().String())
	})
}
