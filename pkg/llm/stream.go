package llm

// EventType tags a StreamEvent.
type EventType int

const (
	// EventDelta carries an incremental fragment of generated text.
	EventDelta EventType = iota + 1
	// EventComplete ends a successful response.
	EventComplete
	// EventError ends a failed response.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is a single event of an upstream response feed.
type StreamEvent struct {
	Type EventType

	// Text is set for EventDelta.
	Text string

	// ResponseID and Usage are set for EventComplete when the upstream
	// reports them.
	ResponseID string
	Usage      *Usage

	// Message is set for EventError.
	Message string
}
