package relay_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/relay"
)

// fakeStream replays scripted events. onNext runs before each event is
// returned, letting a test cancel mid-stream.
type fakeStream struct {
	events []llm.StreamEvent
	err    error
	pos    int
	closed bool
	onNext func(pos int)
}

func (s *fakeStream) Next() (llm.StreamEvent, error) {
	if s.onNext != nil {
		s.onNext(s.pos)
	}
	if s.pos >= len(s.events) {
		if s.err != nil {
			return llm.StreamEvent{}, s.err
		}
		return llm.StreamEvent{}, io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// recordingSink keeps every record; it starts failing after failAfter sends
// when failAfter is positive.
type recordingSink struct {
	records   []relay.Record
	failAfter int
}

func (s *recordingSink) Send(record relay.Record) error {
	if s.failAfter > 0 && len(s.records) >= s.failAfter {
		return errors.New("client disconnected")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *recordingSink) types() []string {
	var out []string
	for _, r := range s.records {
		out = append(out, r.Type)
	}
	return out
}

func delta(text string) llm.StreamEvent {
	return llm.StreamEvent{Type: llm.EventDelta, Text: text}
}

var _ = Describe("Relay", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		sink     *recordingSink
		r        *relay.Relay
		finished []string
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)
		sink = &recordingSink{}
		finished = nil
		r = relay.New(zap.NewNop(), func(text, responseID string) string {
			finished = append(finished, text)
			return "head-hash"
		})
	})

	It("relays deltas in order followed by exactly one complete record", func() {
		stream := &fakeStream{events: []llm.StreamEvent{
			delta("- revenue grew\n"),
			delta("- costs fell\n"),
			delta("- outlook stable"),
			{Type: llm.EventComplete, ResponseID: "resp_1", Usage: &llm.Usage{InputTokens: 5, OutputTokens: 3, TotalTokens: 8}},
		}}

		outcome := r.Run(ctx, cancel, stream, sink)

		Expect(outcome.Status).To(Equal(relay.Completed))
		Expect(outcome.Text).To(Equal("- revenue grew\n- costs fell\n- outlook stable"))
		Expect(sink.types()).To(Equal([]string{"delta", "delta", "delta", "complete"}))
		Expect(sink.records[3].ResponseID).To(Equal("resp_1"))
		Expect(sink.records[3].ConversationHash).To(Equal("head-hash"))
		Expect(finished).To(Equal([]string{outcome.Text}))
		Expect(stream.closed).To(BeTrue())
	})

	It("ends a failed response with exactly one error record", func() {
		stream := &fakeStream{events: []llm.StreamEvent{
			delta("partial"),
			{Type: llm.EventError, Message: "model overloaded"},
		}}

		outcome := r.Run(ctx, cancel, stream, sink)

		Expect(outcome.Status).To(Equal(relay.Failed))
		Expect(sink.types()).To(Equal([]string{"delta", "error"}))
		Expect(sink.records[1].Message).To(Equal("model overloaded"))
		Expect(finished).To(BeEmpty())
	})

	It("reports a transport failure as an error record without retrying", func() {
		stream := &fakeStream{
			events: []llm.StreamEvent{delta("a")},
			err:    &llm.UpstreamError{Op: "read stream", Err: errors.New("connection reset")},
		}

		outcome := r.Run(ctx, cancel, stream, sink)

		Expect(outcome.Status).To(Equal(relay.Failed))
		Expect(sink.types()).To(Equal([]string{"delta", "error"}))
		Expect(sink.records[1].Message).To(ContainSubstring("connection reset"))
	})

	It("treats a feed that ends without completion as a failure", func() {
		outcome := r.Run(ctx, cancel, &fakeStream{events: []llm.StreamEvent{delta("a")}}, sink)

		Expect(outcome.Status).To(Equal(relay.Failed))
		Expect(sink.types()).To(Equal([]string{"delta", "error"}))
	})

	It("stops emitting and aborts upstream when the context is cancelled mid-stream", func() {
		stream := &fakeStream{
			events: []llm.StreamEvent{delta("one"), delta("two"), delta("three"), {Type: llm.EventComplete}},
			onNext: func(pos int) {
				if pos == 2 {
					cancel()
				}
			},
		}

		outcome := r.Run(ctx, cancel, stream, sink)

		Expect(outcome.Status).To(Equal(relay.Cancelled))
		Expect(outcome.Text).To(Equal("onetwo"))
		Expect(sink.types()).To(Equal([]string{"delta", "delta"}))
		Expect(stream.closed).To(BeTrue())
		Expect(finished).To(BeEmpty())
	})

	It("aborts upstream when the client goes away", func() {
		sink.failAfter = 1
		stream := &fakeStream{events: []llm.StreamEvent{delta("one"), delta("two"), {Type: llm.EventComplete}}}

		outcome := r.Run(ctx, cancel, stream, sink)

		Expect(outcome.Status).To(Equal(relay.Cancelled))
		Expect(ctx.Err()).To(MatchError(context.Canceled))
		Expect(stream.closed).To(BeTrue())
		Expect(stream.pos).To(Equal(2))
		Expect(sink.records).To(HaveLen(1))
	})
})

var _ = Describe("WriterSink", func() {
	It("frames and flushes each record", func() {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		sink := relay.NewWriterSink(w)

		Expect(sink.Send(relay.Record{Type: relay.RecordDelta, Text: "hi"})).To(Succeed())
		Expect(buf.String()).To(Equal("data: {\"type\":\"delta\",\"text\":\"hi\"}\n\n"))

		Expect(sink.Send(relay.Record{Type: relay.RecordComplete})).To(Succeed())
		Expect(buf.String()).To(HaveSuffix("data: {\"type\":\"complete\"}\n\n"))
	})
})
