package summarizecmder

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/gateway"
	"github.com/papercomputeco/recap/pkg/config"
	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/upstream"
)

const testPassword = "hunter2"

// scriptedUpstream answers every stream with the same reply and every job
// with an immediate result.
type scriptedUpstream struct {
	mu       sync.Mutex
	reply    string
	result   string
	requests []upstream.ResponseRequest
	uploads  int
}

func (s *scriptedUpstream) StreamResponse(_ context.Context, req upstream.ResponseRequest) (*upstream.EventStream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	events := []llm.StreamEvent{
		{Type: llm.EventDelta, Text: s.reply},
		{Type: llm.EventComplete, ResponseID: "resp_1"},
	}
	return upstream.NewEventStream(func() (llm.StreamEvent, error) {
		if len(events) == 0 {
			return llm.StreamEvent{}, io.EOF
		}
		e := events[0]
		events = events[1:]
		return e, nil
	}, nil), nil
}

func (s *scriptedUpstream) UploadDocument(context.Context, string, []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	return "file_1", nil
}

func (s *scriptedUpstream) CreateJob(_ context.Context, req upstream.JobRequest) (upstream.Job, error) {
	return upstream.Job{DocumentRef: req.DocumentRef, JobID: "run_1", WorkerRef: "asst_1", StatusToken: "thread_1"}, nil
}

func (s *scriptedUpstream) JobStatus(context.Context, upstream.Job) (upstream.JobState, error) {
	return upstream.JobState{Status: upstream.StatusCompleted, Raw: "completed"}, nil
}

func (s *scriptedUpstream) JobResult(context.Context, upstream.Job) (string, error) {
	return s.result, nil
}

func (s *scriptedUpstream) DeleteDocument(context.Context, string) error { return nil }

func (s *scriptedUpstream) DeleteWorker(context.Context, string) error { return nil }

var _ = Describe("Summarize Command", func() {
	var (
		ctx        context.Context
		tmpDir     string
		fake       *scriptedUpstream
		server     *httptest.Server
		out        *bytes.Buffer
		transcript string
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
		fake = &scriptedUpstream{reply: "- the team shipped", result: "- deferred summary"}

		cfg := &config.Config{
			Server:   config.ServerConfig{Password: testPassword},
			Upstream: config.UpstreamConfig{APIKey: "sk-test", Model: "test-model"},
			Budget: config.BudgetConfig{
				MaxTotalTokens:    1000,
				MaxResponseTokens: 100,
				Encoding:          "chars",
			},
		}
		Expect(cfg.Validate()).To(Succeed())

		gw, err := gateway.New(cfg, zap.NewNop(), gateway.WithClient(fake))
		Expect(err).NotTo(HaveOccurred())
		server = httptest.NewServer(gw.Handler())

		transcript = filepath.Join(tmpDir, "meeting.txt")
		Expect(os.WriteFile(transcript, []byte("Alice: we shipped the release."), 0o600)).To(Succeed())
	})

	AfterEach(func() {
		server.Close()
	})

	run := func(stdin string, args ...string) error {
		cmd := NewSummarizeCmd()
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetIn(strings.NewReader(stdin))
		cmd.SetArgs(append([]string{"--gateway", server.URL, "--password", testPassword, "--plain"}, args...))
		return cmd.ExecuteContext(ctx)
	}

	It("streams the summary of a transcript file", func() {
		Expect(run("", transcript)).To(Succeed())

		Expect(out.String()).To(Equal("- the team shipped\n"))
		Expect(fake.requests).To(HaveLen(1))
		Expect(fake.requests[0].Messages[0].Content).To(ContainSubstring("we shipped the release"))
	})

	It("reads the transcript from stdin", func() {
		Expect(run("Bob: the demo went well.", "-")).To(Succeed())

		Expect(fake.requests[0].Messages[0].Content).To(ContainSubstring("the demo went well"))
	})

	It("answers follow-up questions with the full conversation", func() {
		Expect(run("what shipped?\n\nquit\n", "-i", transcript)).To(Succeed())

		Expect(fake.requests).To(HaveLen(2))
		followUp := fake.requests[1].Messages
		Expect(followUp).To(HaveLen(3))
		Expect(followUp[1]).To(Equal(llm.Message{Role: llm.RoleAssistant, Content: "- the team shipped"}))
		Expect(followUp[2]).To(Equal(llm.Message{Role: llm.RoleUser, Content: "what shipped?"}))
		Expect(strings.Count(out.String(), "- the team shipped")).To(Equal(2))
	})

	It("waits for a deferred job when the transcript is too large", func() {
		long := filepath.Join(tmpDir, "long.txt")
		Expect(os.WriteFile(long, []byte(strings.Repeat("Alice discusses revenue. ", 200)), 0o600)).To(Succeed())

		Expect(run("", "--poll-interval", "10ms", long)).To(Succeed())

		Expect(fake.uploads).To(Equal(1))
		Expect(fake.requests).To(BeEmpty())
		Expect(out.String()).To(ContainSubstring("queued"))
		Expect(out.String()).To(ContainSubstring("- deferred summary"))
	})

	It("fails with the wrong password", func() {
		cmd := NewSummarizeCmd()
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"--gateway", server.URL, "--password", "wrong", "--plain", transcript})

		Expect(cmd.ExecuteContext(ctx)).To(MatchError(ContainSubstring("401")))
		Expect(fake.requests).To(BeEmpty())
	})

	It("rejects an empty transcript", func() {
		empty := filepath.Join(tmpDir, "empty.txt")
		Expect(os.WriteFile(empty, nil, 0o600)).To(Succeed())

		Expect(run("", empty)).NotTo(Succeed())
		Expect(fake.requests).To(BeEmpty())
	})
})
