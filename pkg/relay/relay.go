// Package relay forwards an upstream completion stream to a client as
// server-push records, propagating cancellation in both directions.
package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/llm"
)

// Record types, as seen by the client.
const (
	RecordDelta    = "delta"
	RecordComplete = "complete"
	RecordError    = "error"
)

// Record is one framed record of the outbound stream.
type Record struct {
	Type             string `json:"type"`
	Text             string `json:"text,omitempty"`
	ResponseID       string `json:"responseId,omitempty"`
	ConversationHash string `json:"conversationHash,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Stream is the upstream event feed.
type Stream interface {
	Next() (llm.StreamEvent, error)
	Close() error
}

// Sink delivers records to the client. Send must flush the record and
// return an error once the client is gone.
type Sink interface {
	Send(record Record) error
}

// Status is how a relayed response ended.
type Status int

const (
	// Completed ended with a complete record.
	Completed Status = iota + 1
	// Failed ended with an error record.
	Failed
	// Cancelled ended without a terminal record because the client went
	// away or the context was cancelled.
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome summarizes a relayed response.
type Outcome struct {
	Status     Status
	Text       string
	ResponseID string
	Usage      *llm.Usage
	Err        error
}

// Finalizer runs after a successful response and before its complete record
// is sent. It returns the conversation hash to include in the record; an
// empty hash omits it.
type Finalizer func(text, responseID string) string

// Relay copies one response from a Stream to a Sink.
type Relay struct {
	logger   *zap.Logger
	finalize Finalizer
}

// New creates a Relay. finalize may be nil.
func New(logger *zap.Logger, finalize Finalizer) *Relay {
	return &Relay{logger: logger, finalize: finalize}
}

// Run relays until the response ends. cancel aborts the upstream call and is
// invoked as soon as cancellation is observed; the stream is always closed
// before Run returns.
//
// A successful response produces zero or more delta records followed by
// exactly one complete record; a failed one ends in exactly one error
// record; a cancelled one ends with no further records.
func (r *Relay) Run(ctx context.Context, cancel context.CancelFunc, stream Stream, sink Sink) Outcome {
	start := time.Now()
	defer stream.Close()

	var text strings.Builder
	cancelled := func(err error) Outcome {
		cancel()
		r.logger.Info("stream cancelled",
			zap.Int("chars_relayed", text.Len()),
			zap.Duration("duration", time.Since(start)),
			zap.NamedError("cause", err),
		)
		return Outcome{Status: Cancelled, Text: text.String(), Err: err}
	}
	fail := func(message string, err error) Outcome {
		if sendErr := sink.Send(Record{Type: RecordError, Message: message}); sendErr != nil {
			return cancelled(sendErr)
		}
		r.logger.Error("stream failed", zap.String("message", message), zap.Error(err))
		return Outcome{Status: Failed, Text: text.String(), Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		event, err := stream.Next()

		// Cancellation observed while waiting wins over whatever the
		// aborted upstream call reported.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(ctxErr)
		}

		switch {
		case errors.Is(err, io.EOF):
			return fail("upstream stream ended before the response completed", io.ErrUnexpectedEOF)
		case err != nil:
			return fail(llm.ErrorMessage(err), err)
		}

		switch event.Type {
		case llm.EventDelta:
			if event.Text == "" {
				continue
			}
			text.WriteString(event.Text)
			if err := sink.Send(Record{Type: RecordDelta, Text: event.Text}); err != nil {
				return cancelled(err)
			}

		case llm.EventComplete:
			record := Record{Type: RecordComplete, ResponseID: event.ResponseID}
			if r.finalize != nil {
				record.ConversationHash = r.finalize(text.String(), event.ResponseID)
			}
			if err := sink.Send(record); err != nil {
				return cancelled(err)
			}
			// Logged after delivery so accounting never delays the client.
			r.logUsage(event, time.Since(start))
			return Outcome{Status: Completed, Text: text.String(), ResponseID: event.ResponseID, Usage: event.Usage}

		case llm.EventError:
			message := event.Message
			if message == "" {
				message = "unknown upstream error"
			}
			return fail(message, &llm.UpstreamError{Op: "stream response", Message: message})
		}
	}
}

func (r *Relay) logUsage(event llm.StreamEvent, duration time.Duration) {
	fields := []zap.Field{
		zap.String("response_id", event.ResponseID),
		zap.Duration("duration", duration),
	}
	if event.Usage != nil {
		fields = append(fields,
			zap.Int("input_tokens", event.Usage.InputTokens),
			zap.Int("output_tokens", event.Usage.OutputTokens),
			zap.Int("total_tokens", event.Usage.TotalTokens),
		)
	}
	r.logger.Info("stream complete", fields...)
}
