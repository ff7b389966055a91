package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrGeneration indicates the model could not produce text for a request.
	ErrGeneration = errors.New("llm: generation failed")

	// ErrTransient indicates a retryable transport failure that outlasted the retry budget.
	ErrTransient = errors.New("llm: transient transport failure")
)

// StatusError reports a non-success HTTP status from a model endpoint.
type StatusError struct {
	// Err is ErrTransient when the status was retryable and retries ran out.
	Err error

	Body       string
	StatusCode int
	Attempts   int
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("llm: API request failed with status %d", e.StatusCode)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *StatusError) Unwrap() error {
	return e.Err
}
