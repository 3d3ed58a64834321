package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

func fields(err error) []string {
	if err == nil {
		return nil
	}
	verrs := err.(ValidationErrors)
	out := make([]string, len(verrs))
	for i, ve := range verrs {
		out[i] = ve.Field
	}
	return out
}

func boolPtr(v bool) *bool {
	return &v
}

func intPtr(v int) *int {
	return &v
}

func TestValidator_Requests(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		request interface{}
		fields  []string
	}{
		{"start ok", StartSessionRequest{BankID: 1}, nil},
		{"start without bank", StartSessionRequest{}, []string{"bank_id"}},
		{"save ok", SaveAnswerRequest{QuestionID: 3, SelectedOptionIDs: []uint{1, 2}}, nil},
		{"save clears selection", SaveAnswerRequest{QuestionID: 3, SelectedOptionIDs: []uint{}}, nil},
		{"save duplicate options", SaveAnswerRequest{QuestionID: 3, SelectedOptionIDs: []uint{2, 2}}, []string{"selected_option_ids"}},
		{"save zero option", SaveAnswerRequest{QuestionID: 3, SelectedOptionIDs: []uint{0}}, []string{"selected_option_ids"}},
		{"save without question", SaveAnswerRequest{SelectedOptionIDs: []uint{1}}, []string{"question_id"}},
		{"review ok", MarkReviewRequest{MarkedForReview: boolPtr(false)}, nil},
		{"review missing flag", MarkReviewRequest{}, []string{"marked_for_review"}},
		{"heartbeat empty", HeartbeatRequest{}, nil},
		{"heartbeat negative", HeartbeatRequest{ClientRemainingSeconds: intPtr(-1)}, []string{"client_remaining_seconds"}},
		{"list ok", ListSessionsRequest{Size: 10, Status: "in_progress", SortBy: "score", SortDir: "asc"}, nil},
		{"list bad status", ListSessionsRequest{Size: 10, Status: "paused"}, []string{"status"}},
		{"list bad sort", ListSessionsRequest{Size: 10, SortBy: "owner_id"}, []string{"sort_by"}},
		{"list size out of range", ListSessionsRequest{Size: 500}, []string{"size"}},
		{"verify ok", VerifyCertificateRequest{Number: "CERT-20250314-7-0000AAAA"}, nil},
		{"verify lower case suffix", VerifyCertificateRequest{Number: "CERT-20250314-7-0000aaaa"}, []string{"number"}},
		{"verify empty", VerifyCertificateRequest{}, []string{"number"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.request)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.fields, fields(err))
		})
	}
}

func TestValidator_Threshold(t *testing.T) {
	type thresholds struct {
		Passing float64 `json:"passing" validate:"threshold"`
	}
	v := New()

	for _, ok := range []float64{0, 70, 100} {
		assert.NoError(t, v.Validate(thresholds{Passing: ok}), "%v", ok)
	}
	for _, bad := range []float64{-0.5, 100.01} {
		err := v.Validate(thresholds{Passing: bad})
		require.Error(t, err, "%v", bad)
		verrs := err.(ValidationErrors)
		assert.Equal(t, "must be between 0 and 100", verrs[0].Message)
	}
}

func TestValidationErrors_Messages(t *testing.T) {
	err := New().Validate(StartSessionRequest{})
	require.Error(t, err)
	assert.Equal(t, "validation failed: bank_id: is required", err.Error())

	assert.Equal(t, ValidationErrors{{Field: "request", Message: "boom"}}, ToValidationErrors(assertErr("boom")))
	assert.Nil(t, ToValidationErrors(nil))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestBusinessValidator_ValidateSelection(t *testing.T) {
	question := &models.Question{
		ID:      1,
		Options: []models.AnswerOption{{ID: 10}, {ID: 11}},
	}
	bv := New().GetBusinessValidator()

	assert.Empty(t, bv.ValidateSelection(question, []uint{10, 11}))
	assert.Empty(t, bv.ValidateSelection(question, nil))

	errs := bv.ValidateSelection(question, []uint{10, 99})
	require.Len(t, errs, 1)
	assert.Equal(t, uint(99), errs[0].Value)
	assert.Equal(t, "selected_option_ids", errs[0].Field)
}
