// Package llm provides the gateway's internal representations of summary
// requests, upstream stream events and responses, along with the error
// taxonomy shared by every component.
package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorResponse represents an error returned to a caller.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AuthError is returned when the presented password token does not match.
// Its message never includes either token.
type AuthError struct{}

func (AuthError) Error() string {
	return "incorrect API password"
}

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// EmptyInputError is returned when both transcript and instruction are blank.
type EmptyInputError struct{}

func (EmptyInputError) Error() string {
	return "no transcript or prompt provided"
}

// EmptyTranscriptError is returned when a transcript source succeeded but
// produced no text.
type EmptyTranscriptError struct {
	Ref string
}

func (e EmptyTranscriptError) Error() string {
	if e.Ref == "" {
		return "transcript service returned an empty result"
	}
	return "transcript service returned an empty result for " + e.Ref
}

// UpstreamError wraps a failure talking to the upstream language model
// service, whether a transport error or an error response.
type UpstreamError struct {
	// Op names the upstream call, e.g. "stream response" or "upload document".
	Op string

	// StatusCode is the upstream HTTP status, zero for transport failures.
	StatusCode int

	// Message is the upstream's human-readable description, if any.
	Message string

	Err error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString("upstream ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// JobFailedError reports a deferred job that reached a terminal failure.
type JobFailedError struct {
	JobID   string
	Status  string
	Message string
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("job %s %s", e.JobID, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// CleanupError reports a failed best-effort deletion of an upstream
// resource. It is logged, never returned to a caller.
type CleanupError struct {
	Resource string
	ID       string
	Err      error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s %s: %v", e.Resource, e.ID, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// StatusCode maps an error to the HTTP status returned at the request
// boundary.
func StatusCode(err error) int {
	var (
		auth       AuthError
		validation ValidationError
		emptyInput EmptyInputError
		emptyText  EmptyTranscriptError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &validation), errors.As(err, &emptyInput), errors.As(err, &emptyText):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage flattens an error to the single line returned to a caller.
func ErrorMessage(err error) string {
	return strings.Join(strings.Fields(err.Error()), " ")
}
