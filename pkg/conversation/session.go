// Package conversation keeps the ordered turn history that lets follow-up
// questions refer back to the original transcript.
//
// A Session is the caller-held form: it separates what is shown to the user
// from what is sent to the model. A Store is the server-held form: histories
// persisted as Merkle chains and addressed by their head hash.
package conversation

import (
	"errors"
	"strings"
	"sync"

	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/prompt"
)

var (
	// ErrNotSeeded is returned when a follow-up is asked before the first
	// summary completed.
	ErrNotSeeded = errors.New("conversation has no summary yet")

	// ErrAlreadySeeded is returned by a second Seed.
	ErrAlreadySeeded = errors.New("conversation already seeded")

	// ErrPending is returned when a question is asked while another one is
	// still unanswered.
	ErrPending = errors.New("a follow-up is already in progress")

	// ErrNothingPending is returned by Complete or Cancel with no question
	// outstanding.
	ErrNothingPending = errors.New("no follow-up in progress")
)

// Turn is one entry of the display log.
type Turn struct {
	llm.Message

	// Cancelled marks a turn that was abandoned. Cancelled turns are shown
	// but never sent upstream.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Reply is a completed assistant response and the handles that refer to it.
type Reply struct {
	Text             string
	ResponseID       string
	ConversationHash string
}

// Session is the conversation state of one summarization session. It is
// safe for concurrent use.
type Session struct {
	mu sync.Mutex

	display []Turn
	context []llm.Message
	pending bool

	responseID       string
	conversationHash string
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// Seed starts the conversation with the delimited transcript and the first
// summary. The original instruction is not part of the history.
func (s *Session) Seed(transcript string, reply Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.context) > 0 {
		return ErrAlreadySeeded
	}

	first := llm.Message{Role: llm.RoleUser, Content: prompt.WrapTranscript(transcript)}
	answer := llm.Message{Role: llm.RoleAssistant, Content: reply.Text}
	s.context = append(s.context, first, answer)
	s.display = append(s.display, Turn{Message: first}, Turn{Message: answer})
	s.remember(reply)
	return nil
}

// Ask records a follow-up question and returns the conversation to dispatch:
// every completed turn followed by the question.
func (s *Session) Ask(question string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(s.context) == 0:
		return nil, ErrNotSeeded
	case s.pending:
		return nil, ErrPending
	case strings.TrimSpace(question) == "":
		return nil, llm.ValidationError{Field: "userPrompt", Reason: "no prompt provided"}
	}

	turn := llm.Message{Role: llm.RoleUser, Content: question}
	s.display = append(s.display, Turn{Message: turn})
	s.pending = true

	out := make([]llm.Message, 0, len(s.context)+1)
	out = append(out, s.context...)
	return append(out, turn), nil
}

// Complete records the answer to the outstanding question. Both turns join
// the model context.
func (s *Session) Complete(reply Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending {
		return ErrNothingPending
	}

	question := s.display[len(s.display)-1].Message
	answer := llm.Message{Role: llm.RoleAssistant, Content: reply.Text}
	s.display = append(s.display, Turn{Message: answer})
	s.context = append(s.context, question, answer)
	s.pending = false
	s.remember(reply)
	return nil
}

// Cancel abandons the outstanding question. The question, and the partial
// answer if any text had arrived, stay in the display log marked cancelled;
// neither ever reaches the model context.
func (s *Session) Cancel(partial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending {
		return ErrNothingPending
	}

	s.display[len(s.display)-1].Cancelled = true
	if partial != "" {
		s.display = append(s.display, Turn{
			Message:   llm.Message{Role: llm.RoleAssistant, Content: partial},
			Cancelled: true,
		})
	}
	s.pending = false
	return nil
}

// Context returns a copy of the turns that participate in model context.
func (s *Session) Context() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]llm.Message, len(s.context))
	copy(out, s.context)
	return out
}

// Turns returns a copy of the display log.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.display))
	copy(out, s.display)
	return out
}

// ResponseID is the upstream id of the latest completed response, if any.
func (s *Session) ResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseID
}

// ConversationHash is the server-side head of the latest completed
// exchange, if the gateway stored one.
func (s *Session) ConversationHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationHash
}

func (s *Session) remember(reply Reply) {
	s.responseID = reply.ResponseID
	s.conversationHash = reply.ConversationHash
}
