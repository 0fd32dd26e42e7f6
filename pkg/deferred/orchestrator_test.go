package deferred_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/deferred"
	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/upstream"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx  context.Context
		fake *fakeUpstream
		o    *deferred.Orchestrator
	)

	token := deferred.Token{DocumentRef: "file_1", JobID: "run_1", WorkerRef: "asst_1", StatusToken: "thread_1"}

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeUpstream{}
		o = deferred.New(fake, zap.NewNop(), deferred.WithMaxOutputTokens(512))
	})

	Describe("Start", func() {
		It("uploads the document and returns a token without waiting", func() {
			got, status, err := o.Start(ctx, "long transcript", "Summarize")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(token))
			Expect(status).To(Equal(upstream.StatusQueued))
			Expect(fake.uploaded).To(Equal([]string{"long transcript"}))
			Expect(fake.calls).To(Equal([]string{"upload", "create"}))
		})

		It("creates nothing when the upload fails", func() {
			fake.uploadErr = errUnavailable

			_, _, err := o.Start(ctx, "doc", "Summarize")

			var upstreamErr *llm.UpstreamError
			Expect(errors.As(err, &upstreamErr)).To(BeTrue())
			Expect(fake.calls).To(Equal([]string{"upload"}))
		})

		It("releases the upload when job creation fails", func() {
			fake.createErr = errUnavailable

			_, _, err := o.Start(ctx, "doc", "Summarize")

			Expect(err).To(HaveOccurred())
			Expect(llm.StatusCode(err)).To(Equal(500))
			Expect(fake.deletedDocs).To(Equal([]string{"file_1"}))
		})
	})

	Describe("Poll", func() {
		DescribeTable("rejects a partial token before any upstream call",
			func(partial deferred.Token) {
				_, err := o.Poll(ctx, partial)
				Expect(llm.StatusCode(err)).To(Equal(400))
				Expect(fake.calls).To(BeEmpty())
			},
			Entry("missing document", deferred.Token{JobID: "run_1", WorkerRef: "asst_1", StatusToken: "thread_1"}),
			Entry("missing job", deferred.Token{DocumentRef: "file_1", WorkerRef: "asst_1", StatusToken: "thread_1"}),
			Entry("missing worker", deferred.Token{DocumentRef: "file_1", JobID: "run_1", StatusToken: "thread_1"}),
			Entry("missing status token", deferred.Token{DocumentRef: "file_1", JobID: "run_1", WorkerRef: "asst_1"}),
			Entry("blank field", deferred.Token{DocumentRef: " ", JobID: "run_1", WorkerRef: "asst_1", StatusToken: "thread_1"}),
		)

		It("returns the token unchanged while the job runs", func() {
			fake.statuses = []upstream.JobState{{Status: upstream.StatusRunning, Raw: "in_progress"}}

			result, err := o.Poll(ctx, token)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Done).To(BeFalse())
			Expect(result.Token).To(Equal(token))
			Expect(result.Status).To(Equal(upstream.StatusRunning))
			Expect(fake.calls).To(Equal([]string{"status"}))
		})

		It("queries status exactly once per poll", func() {
			fake.statuses = []upstream.JobState{
				{Status: upstream.StatusQueued},
				{Status: upstream.StatusRunning},
				{Status: upstream.StatusCompleted},
			}
			fake.result = "done"

			for _, want := range []upstream.Status{upstream.StatusQueued, upstream.StatusRunning} {
				result, err := o.Poll(ctx, token)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Status).To(Equal(want))
			}
			result, err := o.Poll(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Done).To(BeTrue())
			Expect(fake.calls).To(Equal([]string{
				"status", "status", "status", "result", "delete_document", "delete_worker",
			}))
		})

		It("strips citations from the result and releases resources", func() {
			fake.statuses = []upstream.JobState{{Status: upstream.StatusCompleted, Raw: "completed"}}
			fake.result = "Summary【4:0†source】 text [1]."

			result, err := o.Poll(ctx, token)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Summary).To(Equal("Summary text."))
			Expect(fake.deletedDocs).To(Equal([]string{"file_1"}))
			Expect(fake.deletedWorkers).To(Equal([]string{"asst_1"}))
		})

		It("still returns the summary when cleanup fails", func() {
			fake.statuses = []upstream.JobState{{Status: upstream.StatusCompleted}}
			fake.result = "ok"
			fake.deleteDocErr = errUnavailable

			result, err := o.Poll(ctx, token)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Summary).To(Equal("ok"))
			Expect(fake.deletedWorkers).To(Equal([]string{"asst_1"}))
		})

		It("cleans up even when the caller has gone away", func() {
			fake.statuses = []upstream.JobState{{Status: upstream.StatusCompleted}}
			fake.result = "ok"
			pollCtx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := o.Poll(pollCtx, token)

			Expect(err).NotTo(HaveOccurred())
			Expect(fake.cleanupCtxErr).To(HaveEach(BeNil()))
		})

		It("keeps resources when the result cannot be fetched", func() {
			fake.statuses = []upstream.JobState{{Status: upstream.StatusCompleted}}
			fake.resultErr = errUnavailable

			_, err := o.Poll(ctx, token)

			Expect(err).To(HaveOccurred())
			Expect(fake.deletedDocs).To(BeEmpty())
		})

		It("reports a failed job and releases its resources", func() {
			fake.statuses = []upstream.JobState{{Status: upstream.StatusFailed, Raw: "expired", Message: "run expired"}}

			_, err := o.Poll(ctx, token)

			var failed *llm.JobFailedError
			Expect(errors.As(err, &failed)).To(BeTrue())
			Expect(failed.JobID).To(Equal("run_1"))
			Expect(failed.Status).To(Equal("expired"))
			Expect(llm.StatusCode(err)).To(Equal(500))
			Expect(fake.deletedDocs).To(Equal([]string{"file_1"}))
			Expect(fake.deletedWorkers).To(Equal([]string{"asst_1"}))
		})
	})
})

var _ = Describe("StripCitations", func() {
	DescribeTable("removes markers",
		func(in, want string) {
			Expect(deferred.StripCitations(in)).To(Equal(want))
		},
		Entry("no markers", "Plain summary.\n\n- a\n- b", "Plain summary.\n\n- a\n- b"),
		Entry("annotation", "Point one【12:3†source】.", "Point one."),
		Entry("numeric reference", "Point two [3] continues.", "Point two continues."),
		Entry("several", "A【1:0†source】【1:1†source】 and B [1][2].", "A and B."),
	)

	It("keeps bracketed text that is not a reference", func() {
		Expect(deferred.StripCitations("See [appendix] [2]")).To(Equal("See [appendix]"))
	})

	It("leaves code and markdown spacing alone", func() {
		in := "Revenue grew 4%【4:0†source】.\n\n```go\nx := []int{1, 2}\nfmt.Println(x[1])\nif a  &&  b {\n```\nLine one  \nline two"
		want := "Revenue grew 4%.\n\n```go\nx := []int{1, 2}\nfmt.Println(x[1])\nif a  &&  b {\n```\nLine one  \nline two"
		Expect(deferred.StripCitations(in)).To(Equal(want))
	})

	It("returns text without markers unchanged", func() {
		in := "  Indented  columns\tand x[0] :=  value  "
		Expect(deferred.StripCitations(in)).To(Equal(in))
	})
})
