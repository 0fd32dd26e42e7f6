// Package client talks to a recap gateway: it submits summaries and
// follow-ups, consumes the streamed records, and polls deferred jobs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/relay"
	"github.com/papercomputeco/recap/pkg/sse"
)

// Client is a gateway client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
}

// New creates a Client for the gateway at baseURL.
func New(baseURL, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		password:   password,
		httpClient: httpClient,
	}
}

// APIError is a non-success response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// StreamError is an error record received mid-stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// ErrIncompleteStream is returned when the stream ends without a terminal
// record.
var ErrIncompleteStream = errors.New("stream ended before the response completed")

// Reply is the outcome of a summary or follow-up request.
type Reply struct {
	// Job is set when the gateway deferred the request; poll it for the
	// summary.
	Job *llm.JobResponse

	// Text is the streamed text. On error or cancellation it holds
	// whatever arrived first.
	Text             string
	ResponseID       string
	ConversationHash string

	// Notice reports a transcript the gateway had to trim.
	Notice string
}

// DeltaFunc receives each text fragment as it arrives.
type DeltaFunc func(text string)

// Summarize submits a transcript with an instruction.
func (c *Client) Summarize(ctx context.Context, transcript, instruction string, onDelta DeltaFunc) (Reply, error) {
	return c.summary(ctx, llm.SummaryRequest{
		Transcript:    &transcript,
		UserPrompt:    instruction,
		PasswordToken: c.password,
	}, onDelta)
}

// FollowUp submits a conversation whose last turn is the new question.
func (c *Client) FollowUp(ctx context.Context, messages []llm.Message, onDelta DeltaFunc) (Reply, error) {
	return c.summary(ctx, llm.SummaryRequest{
		Messages:      messages,
		PasswordToken: c.password,
	}, onDelta)
}

func (c *Client) summary(ctx context.Context, req llm.SummaryRequest, onDelta DeltaFunc) (Reply, error) {
	resp, err := c.post(ctx, "/api/summary", req)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	reply := Reply{Notice: resp.Header.Get("X-Recap-Notice")}

	if resp.StatusCode == http.StatusAccepted {
		var job llm.JobResponse
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return reply, fmt.Errorf("decoding job: %w", err)
		}
		reply.Job = &job
		return reply, nil
	}

	err = readStream(ctx, resp.Body, &reply, onDelta)
	return reply, err
}

func readStream(ctx context.Context, body io.Reader, reply *Reply, onDelta DeltaFunc) error {
	var text strings.Builder
	defer func() { reply.Text = text.String() }()

	scanner := sse.NewScanner(body)
	for scanner.Next() {
		var record relay.Record
		if err := json.Unmarshal([]byte(scanner.Event().Data), &record); err != nil {
			return fmt.Errorf("decoding record: %w", err)
		}

		switch record.Type {
		case relay.RecordDelta:
			text.WriteString(record.Text)
			if onDelta != nil {
				onDelta(record.Text)
			}
		case relay.RecordComplete:
			reply.ResponseID = record.ResponseID
			reply.ConversationHash = record.ConversationHash
			return nil
		case relay.RecordError:
			return &StreamError{Message: record.Message}
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ErrIncompleteStream
}

// PollResult is one poll of a deferred job.
type PollResult struct {
	Done    bool
	Status  string
	Summary string
}

// Poll checks a deferred job once.
func (c *Client) Poll(ctx context.Context, job llm.JobResponse) (PollResult, error) {
	resp, err := c.post(ctx, "/api/summary/poll", llm.PollRequest{
		DocumentRef:   job.DocumentRef,
		JobID:         job.JobID,
		WorkerRef:     job.WorkerRef,
		StatusToken:   job.StatusToken,
		PasswordToken: c.password,
	})
	if err != nil {
		return PollResult{}, err
	}
	defer resp.Body.Close()

	var body struct {
		llm.SummaryResponse
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return PollResult{}, fmt.Errorf("decoding poll response: %w", err)
	}
	if body.Status != "" {
		return PollResult{Status: body.Status}, nil
	}
	return PollResult{Done: true, Status: "completed", Summary: body.Summary}, nil
}

// Wait polls job every interval until it finishes. onStatus, if set,
// receives each non-terminal status and the time waited so far.
func (c *Client) Wait(ctx context.Context, job llm.JobResponse, interval time.Duration, onStatus func(status string, elapsed time.Duration)) (string, error) {
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := c.Poll(ctx, job)
		if err != nil {
			return "", err
		}
		if result.Done {
			return result.Summary, nil
		}
		if onStatus != nil {
			onStatus(result.Status, time.Since(start))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Transcript asks the gateway's transcript source for ref.
func (c *Client) Transcript(ctx context.Context, ref string) (string, error) {
	resp, err := c.post(ctx, "/api/transcript", llm.TranscriptRequest{URL: ref, PasswordToken: c.password})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out llm.TranscriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding transcript: %w", err)
	}
	return out.Transcript, nil
}

// post sends body as JSON and returns the response if it succeeded.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp llm.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		return nil, apiErr
	}
	return resp, nil
}
