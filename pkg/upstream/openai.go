package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/sse"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

const defaultJobInstructions = "You answer questions about the attached transcript. " +
	"Use only the transcript as your source."

// OpenAIConfig configures an OpenAI client.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// JobInstructions are the standing instructions of each job's worker.
	JobInstructions string

	// Timeout bounds non-streaming calls. Streams are bounded only by
	// their context.
	Timeout time.Duration
}

// OpenAI implements Client against the OpenAI Responses, Files and
// Assistants APIs.
//
// A deferred job maps onto the Assistants API as follows: the document is a
// file, the worker is an assistant with file search, the status token is the
// thread, and the job is a run on that thread.
type OpenAI struct {
	config     OpenAIConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Client = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI client.
func NewOpenAI(config OpenAIConfig, logger *zap.Logger) *OpenAI {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.JobInstructions == "" {
		config.JobInstructions = defaultJobInstructions
	}

	return &OpenAI{
		config: config,
		// No client-level timeout: it would cut long streams short.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model              string           `json:"model"`
	Input              []responsesInput `json:"input"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	MaxOutputTokens    int              `json:"max_output_tokens,omitempty"`
	Store              bool             `json:"store"`
	Stream             bool             `json:"stream"`
}

type responsesEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Message  string `json:"message"`
	Response *struct {
		ID    string     `json:"id"`
		Usage *llm.Usage `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// StreamResponse opens a streaming Responses API call.
func (c *OpenAI) StreamResponse(ctx context.Context, req ResponseRequest) (*EventStream, error) {
	wire := responsesRequest{
		Model:              c.config.Model,
		PreviousResponseID: req.PreviousResponseID,
		MaxOutputTokens:    req.MaxOutputTokens,
		Store:              true,
		Stream:             true,
	}
	for _, msg := range req.Messages {
		wire.Input = append(wire.Input, responsesInput{Role: msg.Role, Content: msg.Content})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal response request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authorize(httpReq)

	c.logger.Debug("opening upstream stream",
		zap.String("model", c.config.Model),
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("linked", req.PreviousResponseID != ""),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &llm.UpstreamError{Op: "stream response", Err: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, readError("stream response", httpResp)
	}

	scanner := sse.NewScanner(httpResp.Body)
	next := func() (llm.StreamEvent, error) {
		for scanner.Next() {
			raw := scanner.Event()

			var event responsesEvent
			if err := json.Unmarshal([]byte(raw.Data), &event); err != nil {
				c.logger.Warn("failed to parse upstream event", zap.Error(err), zap.String("data", raw.Data))
				continue
			}
			if event.Type == "" {
				event.Type = raw.Type
			}

			switch event.Type {
			case "response.output_text.delta":
				if event.Delta == "" {
					continue
				}
				return llm.StreamEvent{Type: llm.EventDelta, Text: event.Delta}, nil
			case "response.completed":
				complete := llm.StreamEvent{Type: llm.EventComplete}
				if event.Response != nil {
					complete.ResponseID = event.Response.ID
					complete.Usage = event.Response.Usage
				}
				return complete, nil
			case "response.failed", "response.incomplete":
				message := "upstream response " + strings.TrimPrefix(event.Type, "response.")
				if event.Response != nil && event.Response.Error != nil && event.Response.Error.Message != "" {
					message = event.Response.Error.Message
				}
				return llm.StreamEvent{Type: llm.EventError, Message: message}, nil
			case "error":
				message := event.Message
				if message == "" {
					message = "unknown upstream error"
				}
				return llm.StreamEvent{Type: llm.EventError, Message: message}, nil
			}
		}

		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return llm.StreamEvent{}, ctxErr
			}
			return llm.StreamEvent{}, &llm.UpstreamError{Op: "read stream", Err: err}
		}
		return llm.StreamEvent{}, io.EOF
	}

	return NewEventStream(next, httpResp.Body), nil
}

// UploadDocument uploads content as a file for use by assistants.
func (c *OpenAI) UploadDocument(ctx context.Context, name string, content []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	var file struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "upload document", http.MethodPost, "/files", form.FormDataContentType(), &body, &file); err != nil {
		return "", err
	}
	return file.ID, nil
}

type toolSpec struct {
	Type string `json:"type"`
}

// CreateJob creates an assistant with file search, then a thread carrying the
// instruction and the document, and starts a run of the assistant on it.
func (c *OpenAI) CreateJob(ctx context.Context, req JobRequest) (Job, error) {
	assistantReq := map[string]any{
		"model":        c.config.Model,
		"instructions": c.config.JobInstructions,
		"tools":        []toolSpec{{Type: "file_search"}},
	}
	var assistant struct {
		ID string `json:"id"`
	}
	if err := c.callJSON(ctx, "create worker", http.MethodPost, "/assistants", assistantReq, &assistant); err != nil {
		return Job{}, err
	}

	runReq := map[string]any{
		"assistant_id": assistant.ID,
		"thread": map[string]any{
			"messages": []map[string]any{{
				"role":    "user",
				"content": req.Instruction,
				"attachments": []map[string]any{{
					"file_id": req.DocumentRef,
					"tools":   []toolSpec{{Type: "file_search"}},
				}},
			}},
		},
	}
	if req.MaxOutputTokens > 0 {
		runReq["max_completion_tokens"] = req.MaxOutputTokens
	}

	var run struct {
		ID       string `json:"id"`
		ThreadID string `json:"thread_id"`
	}
	if err := c.callJSON(ctx, "create job", http.MethodPost, "/threads/runs", runReq, &run); err != nil {
		if delErr := c.DeleteWorker(context.WithoutCancel(ctx), assistant.ID); delErr != nil {
			c.logger.Warn("failed to delete worker of failed job", zap.String("worker", assistant.ID), zap.Error(delErr))
		}
		return Job{}, err
	}

	return Job{
		DocumentRef: req.DocumentRef,
		JobID:       run.ID,
		WorkerRef:   assistant.ID,
		StatusToken: run.ThreadID,
	}, nil
}

// JobStatus retrieves the run once.
func (c *OpenAI) JobStatus(ctx context.Context, job Job) (JobState, error) {
	var run struct {
		Status    string `json:"status"`
		LastError *struct {
			Message string `json:"message"`
		} `json:"last_error"`
	}
	path := "/threads/" + url.PathEscape(job.StatusToken) + "/runs/" + url.PathEscape(job.JobID)
	if err := c.call(ctx, "job status", http.MethodGet, path, "", nil, &run); err != nil {
		return JobState{}, err
	}

	state := JobState{Status: normalizeStatus(run.Status), Raw: run.Status}
	if run.LastError != nil {
		state.Message = run.LastError.Message
	}
	return state, nil
}

func normalizeStatus(raw string) Status {
	switch raw {
	case "queued":
		return StatusQueued
	case "in_progress", "requires_action", "cancelling":
		return StatusRunning
	case "completed":
		return StatusCompleted
	default:
		// failed, cancelled, expired, incomplete, or anything unknown
		return StatusFailed
	}
}

// JobResult returns the newest assistant message on the job's thread.
func (c *OpenAI) JobResult(ctx context.Context, job Job) (string, error) {
	var list struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	path := "/threads/" + url.PathEscape(job.StatusToken) + "/messages?order=desc&limit=1&run_id=" + url.QueryEscape(job.JobID)
	if err := c.call(ctx, "job result", http.MethodGet, path, "", nil, &list); err != nil {
		return "", err
	}

	for _, msg := range list.Data {
		if msg.Role != llm.RoleAssistant {
			continue
		}
		var b strings.Builder
		for _, part := range msg.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		return b.String(), nil
	}
	return "", &llm.UpstreamError{Op: "job result", Message: "job produced no answer"}
}

// DeleteDocument deletes an uploaded file.
func (c *OpenAI) DeleteDocument(ctx context.Context, documentRef string) error {
	return c.call(ctx, "delete document", http.MethodDelete, "/files/"+url.PathEscape(documentRef), "", nil, nil)
}

// DeleteWorker deletes an assistant.
func (c *OpenAI) DeleteWorker(ctx context.Context, workerRef string) error {
	return c.call(ctx, "delete worker", http.MethodDelete, "/assistants/"+url.PathEscape(workerRef), "", nil, nil)
}

func (c *OpenAI) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}

func (c *OpenAI) callJSON(ctx context.Context, op, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	return c.call(ctx, op, method, path, "application/json", bytes.NewReader(body), out)
}

// call performs one bounded, non-streaming request and decodes the JSON
// response into out when out is non-nil.
func (c *OpenAI) call(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &llm.UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &llm.UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// readError converts an upstream error response in the common
// {"error":{"message":"..."}} format into an UpstreamError.
func readError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wire struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		message = wire.Error.Message
	}

	return &llm.UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: message}
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var upstreamErr *llm.UpstreamError
	return errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusNotFound
}
