package relay

import (
	"io"

	"github.com/papercomputeco/recap/pkg/sse"
)

// FlushWriter is a buffered writer, such as the *bufio.Writer handed to a
// fasthttp body stream writer.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// WriterSink frames records as "data: <json>\n\n" and flushes each one.
type WriterSink struct {
	w FlushWriter
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w FlushWriter) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Send(record Record) error {
	if err := sse.WriteJSON(s.w, record); err != nil {
		return err
	}
	return s.w.Flush()
}
