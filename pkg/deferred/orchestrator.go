// Package deferred runs summaries that are too large to stream as
// asynchronous upstream jobs: upload the document, start a job, and let the
// caller poll with a continuation token until the job is done.
package deferred

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/upstream"
)

// CompleteMessage accompanies a successful poll result.
const CompleteMessage = "Processing complete"

// DefaultCleanupTimeout bounds the best-effort deletion calls.
const DefaultCleanupTimeout = 30 * time.Second

// State is a stage of a deferred job's life, used for transition logging.
type State string

const (
	StateCreated      State = "created"
	StateUploaded     State = "uploaded"
	StateJobRunning   State = "job_running"
	StateJobCompleted State = "job_completed"
	StateJobFailed    State = "job_failed"
	StateRetrieved    State = "retrieved"
	StateCleanedUp    State = "cleaned_up"
)

// PollResult is the outcome of a single poll. Done is false while the job
// is queued or running, in which case Token is returned unchanged.
type PollResult struct {
	Token   Token
	Status  upstream.Status
	Done    bool
	Summary string
}

// Orchestrator drives deferred jobs. It holds no per-job state.
type Orchestrator struct {
	client          upstream.Client
	logger          *zap.Logger
	documentName    string
	maxOutputTokens int
	cleanupTimeout  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxOutputTokens caps the size of each job's response.
func WithMaxOutputTokens(n int) Option {
	return func(o *Orchestrator) { o.maxOutputTokens = n }
}

// WithCleanupTimeout overrides DefaultCleanupTimeout.
func WithCleanupTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.cleanupTimeout = d }
}

// WithDocumentName sets the file name the document is uploaded under.
func WithDocumentName(name string) Option {
	return func(o *Orchestrator) { o.documentName = name }
}

// New creates an Orchestrator over the given upstream client.
func New(client upstream.Client, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:         client,
		logger:         logger,
		documentName:   "transcript.txt",
		cleanupTimeout: DefaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start uploads document and creates a job that applies instruction to it.
// It returns as soon as the job exists, without waiting for it to run.
//
// An upload failure leaves nothing behind. A job creation failure releases
// the uploaded document before the error is returned.
func (o *Orchestrator) Start(ctx context.Context, document, instruction string) (Token, upstream.Status, error) {
	log := o.logger.With(zap.Int("document_bytes", len(document)))
	o.transition(log, StateCreated)

	documentRef, err := o.client.UploadDocument(ctx, o.documentName, []byte(document))
	if err != nil {
		return Token{}, "", fmt.Errorf("uploading document: %w", err)
	}
	log = log.With(zap.String("document_ref", documentRef))
	o.transition(log, StateUploaded)

	job, err := o.client.CreateJob(ctx, upstream.JobRequest{
		DocumentRef:     documentRef,
		Instruction:     instruction,
		MaxOutputTokens: o.maxOutputTokens,
	})
	if err != nil {
		o.deleteDocument(ctx, log, documentRef)
		return Token{}, "", fmt.Errorf("creating job: %w", err)
	}

	token := tokenFor(job)
	o.transition(o.jobLogger(token), StateJobRunning)
	return token, upstream.StatusQueued, nil
}

// Poll checks the job named by token exactly once.
//
// A queued or running job yields the token unchanged. A completed job
// yields its result with citation markers removed, after which the
// document and worker are released. A failed job is released and reported
// as a *llm.JobFailedError.
func (o *Orchestrator) Poll(ctx context.Context, token Token) (PollResult, error) {
	if err := token.Validate(); err != nil {
		return PollResult{}, err
	}
	log := o.jobLogger(token)

	state, err := o.client.JobStatus(ctx, token.job())
	if err != nil {
		return PollResult{}, fmt.Errorf("querying job status: %w", err)
	}
	log.Debug("job polled", zap.String("status", string(state.Status)), zap.String("raw_status", state.Raw))

	switch state.Status {
	case upstream.StatusCompleted:
		o.transition(log, StateJobCompleted)
		raw, err := o.client.JobResult(ctx, token.job())
		if err != nil {
			// Resources are kept so a later poll can retry the fetch.
			return PollResult{}, fmt.Errorf("fetching job result: %w", err)
		}
		o.transition(log, StateRetrieved)
		o.release(ctx, log, token)
		return PollResult{
			Token:   token,
			Status:  state.Status,
			Done:    true,
			Summary: StripCitations(raw),
		}, nil

	case upstream.StatusFailed:
		o.transition(log, StateJobFailed, zap.String("raw_status", state.Raw), zap.String("message", state.Message))
		o.release(ctx, log, token)
		return PollResult{}, &llm.JobFailedError{JobID: token.JobID, Status: state.Raw, Message: state.Message}

	default:
		return PollResult{Token: token, Status: state.Status}, nil
	}
}

func (o *Orchestrator) jobLogger(token Token) *zap.Logger {
	return o.logger.With(
		zap.String("document_ref", token.DocumentRef),
		zap.String("job_id", token.JobID),
		zap.String("worker_ref", token.WorkerRef),
		zap.String("status_token", token.StatusToken),
	)
}

func (o *Orchestrator) transition(log *zap.Logger, state State, fields ...zap.Field) {
	log.Info("deferred job transition", append([]zap.Field{zap.String("state", string(state))}, fields...)...)
}

// release deletes the document and the worker. Failures are logged and
// otherwise ignored; a resource that is already gone counts as released.
func (o *Orchestrator) release(ctx context.Context, log *zap.Logger, token Token) {
	ctx, cancel := o.cleanupContext(ctx)
	defer cancel()

	docErr := o.cleanup(log, "document", token.DocumentRef, o.client.DeleteDocument(ctx, token.DocumentRef))
	workerErr := o.cleanup(log, "worker", token.WorkerRef, o.client.DeleteWorker(ctx, token.WorkerRef))
	if docErr == nil && workerErr == nil {
		o.transition(log, StateCleanedUp)
	}
}

func (o *Orchestrator) deleteDocument(ctx context.Context, log *zap.Logger, documentRef string) {
	ctx, cancel := o.cleanupContext(ctx)
	defer cancel()
	_ = o.cleanup(log, "document", documentRef, o.client.DeleteDocument(ctx, documentRef))
}

// cleanupContext detaches from the request so a caller hanging up does not
// strand upstream resources.
func (o *Orchestrator) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
}

func (o *Orchestrator) cleanup(log *zap.Logger, resource, id string, err error) error {
	if err == nil || upstream.IsNotFound(err) {
		return nil
	}
	cleanupErr := &llm.CleanupError{Resource: resource, ID: id, Err: err}
	log.Warn("cleanup failed", zap.Error(cleanupErr))
	return cleanupErr
}

