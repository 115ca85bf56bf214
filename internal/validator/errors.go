package validator

import (
	"encoding/json"
	"strings"

	"formio-api/internal/processor"
)

// ValidationError reports every rule failure of a submission.
type ValidationError struct {
	Details []processor.Error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		msgs = append(msgs, d.Message)
	}
	return "ValidationError: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name    string            `json:"name"`
		Message string            `json:"message"`
		Details []processor.Error `json:"details"`
	}{
		Name:    "ValidationError",
		Message: e.Error(),
		Details: e.Details,
	})
}

// NewValidationError wraps a single failure.
func NewValidationError(details ...processor.Error) *ValidationError {
	return &ValidationError{Details: details}
}
