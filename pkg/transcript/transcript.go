// Package transcript fetches the source text to be summarized.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/llm"
)

// Source returns the transcript for ref. A successful fetch always yields
// non-empty text; an empty result is reported as llm.EmptyTranscriptError.
type Source interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

// Require turns an empty successful result into an EmptyTranscriptError.
func Require(ref, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", llm.EmptyTranscriptError{Ref: ref}
	}
	return text, nil
}

// Decode unescapes HTML entities twice, since captions commonly arrive
// double-encoded ("&amp;#39;").
func Decode(text string) string {
	return html.UnescapeString(html.UnescapeString(text))
}

// segment is one caption line returned by a transcript service.
type segment struct {
	Text string `json:"text"`
}

// HTTPSource asks a transcript service for the transcript of a media URL.
// The service is called as GET <endpoint>?url=<ref> and may answer with
// either plain text or a JSON array of {"text": ...} segments.
type HTTPSource struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPSource creates an HTTPSource.
func NewHTTPSource(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", llm.ValidationError{Field: "url", Reason: "no URL provided"}
	}

	target, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid transcript endpoint: %w", err)
	}
	query := target.Query()
	query.Set("url", ref)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating transcript request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching transcript: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcript service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	text := joinSegments(body)
	s.logger.Debug("transcript fetched",
		zap.String("ref", ref),
		zap.Int("bytes", len(text)),
	)
	return Require(ref, Decode(text))
}

// joinSegments joins a JSON segment array with spaces. Any other body is
// taken as the transcript text itself.
func joinSegments(body []byte) string {
	var segments []segment
	if err := json.Unmarshal(body, &segments); err != nil {
		var single string
		if json.Unmarshal(body, &single) == nil {
			return single
		}
		return string(body)
	}

	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// FileSource reads a transcript from a local file. A ref of "-" reads from
// In, which defaults to standard input.
type FileSource struct {
	In io.Reader
}

func (s FileSource) Fetch(_ context.Context, ref string) (string, error) {
	var (
		data []byte
		err  error
	)
	if ref == "-" {
		in := s.In
		if in == nil {
			in = os.Stdin
		}
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(ref)
	}
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	return Require(ref, string(data))
}
