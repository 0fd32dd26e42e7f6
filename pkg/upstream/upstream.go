// Package upstream is the gateway's contract with the third-party language
// model service: streamed completions plus the document/job calls backing
// the deferred path.
package upstream

import (
	"context"
	"io"

	"github.com/papercomputeco/recap/pkg/llm"
)

// Client is everything the gateway needs from the upstream service. One
// Client is constructed per process and passed to each component.
type Client interface {
	// StreamResponse opens a streaming completion. The returned stream is
	// aborted when ctx is cancelled and must always be closed.
	StreamResponse(ctx context.Context, req ResponseRequest) (*EventStream, error)

	// UploadDocument hands a document to upstream storage and returns its
	// reference.
	UploadDocument(ctx context.Context, name string, content []byte) (string, error)

	// CreateJob creates a processing job bound to an uploaded document. It
	// returns without waiting for the job to run.
	CreateJob(ctx context.Context, req JobRequest) (Job, error)

	// JobStatus queries the job's state once.
	JobStatus(ctx context.Context, job Job) (JobState, error)

	// JobResult fetches the text produced by a completed job.
	JobResult(ctx context.Context, job Job) (string, error)

	// DeleteDocument removes an uploaded document.
	DeleteDocument(ctx context.Context, documentRef string) error

	// DeleteWorker removes the worker created for a job.
	DeleteWorker(ctx context.Context, workerRef string) error
}

// ResponseRequest is a streaming completion request.
type ResponseRequest struct {
	Messages []llm.Message

	// PreviousResponseID lets the upstream reuse a stored response's
	// context instead of receiving it again.
	PreviousResponseID string

	// MaxOutputTokens caps the response size.
	MaxOutputTokens int
}

// JobRequest creates a deferred processing job.
type JobRequest struct {
	DocumentRef     string
	Instruction     string
	MaxOutputTokens int
}

// Job identifies a deferred job by its four upstream references.
type Job struct {
	DocumentRef string
	JobID       string
	WorkerRef   string
	StatusToken string
}

// Status is the normalized state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobState is the result of a status query.
type JobState struct {
	Status Status

	// Raw is the upstream's own status string.
	Raw string

	// Message describes a failure, when the upstream reports one.
	Message string
}

// nextFunc yields the next event, or io.EOF once the stream is complete.
type nextFunc func() (llm.StreamEvent, error)

// EventStream is a lazy, finite, in-order sequence of stream events. It is
// not restartable and not safe for concurrent use.
type EventStream struct {
	next   nextFunc
	closer io.Closer
	done   bool
}

// NewEventStream creates an EventStream from an iteration function and the
// resource it reads from.
func NewEventStream(next nextFunc, closer io.Closer) *EventStream {
	return &EventStream{next: next, closer: closer}
}

// Next returns the next event. After a complete or error event, or when the
// feed ends, it returns io.EOF.
func (s *EventStream) Next() (llm.StreamEvent, error) {
	if s.done {
		return llm.StreamEvent{}, io.EOF
	}

	event, err := s.next()
	if err != nil {
		s.done = true
		return event, err
	}
	if event.Type == llm.EventComplete || event.Type == llm.EventError {
		s.done = true
	}
	return event, nil
}

// Close releases the underlying connection.
func (s *EventStream) Close() error {
	s.done = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
