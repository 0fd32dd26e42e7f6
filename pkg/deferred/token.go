package deferred

import (
	"strings"

	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/upstream"
)

// Token is the continuation token handed to the caller after a deferred
// submission. The caller presents it unchanged on every poll; the gateway
// keeps no job state of its own.
type Token struct {
	DocumentRef string
	JobID       string
	WorkerRef   string
	StatusToken string
}

// Validate requires all four references. A partial token is rejected before
// any upstream call.
func (t Token) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"documentRef", t.DocumentRef},
		{"jobId", t.JobID},
		{"workerRef", t.WorkerRef},
		{"statusToken", t.StatusToken},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return llm.ValidationError{Field: f.name, Reason: "missing continuation token field"}
		}
	}
	return nil
}

func (t Token) job() upstream.Job {
	return upstream.Job(t)
}

func tokenFor(job upstream.Job) Token {
	return Token(job)
}

// FromRequest extracts the token from a poll request.
func FromRequest(req llm.PollRequest) Token {
	return Token{
		DocumentRef: req.DocumentRef,
		JobID:       req.JobID,
		WorkerRef:   req.WorkerRef,
		StatusToken: req.StatusToken,
	}
}

// Response renders the token and status as the caller-facing payload.
func (t Token) Response(status upstream.Status) llm.JobResponse {
	return llm.JobResponse{
		DocumentRef: t.DocumentRef,
		JobID:       t.JobID,
		WorkerRef:   t.WorkerRef,
		StatusToken: t.StatusToken,
		Status:      string(status),
	}
}
