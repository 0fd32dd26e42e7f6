// Package prompt assembles the input sent upstream from either a fresh
// transcript and instruction or an ongoing conversation.
package prompt

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/recap/pkg/llm"
)

// Delimiters mark the transcript boundaries inside a prompt.
const (
	StartDelimiter = "### START TRANSCRIPT ###"
	EndDelimiter   = "### END TRANSCRIPT ###"
)

// Mode is how a prompt was assembled.
type Mode int

const (
	// ModeFresh is a new transcript plus instruction.
	ModeFresh Mode = iota + 1
	// ModeContinuation is a full conversation history ending in a new user turn.
	ModeContinuation
	// ModeLinked is a single user turn linked to a stored upstream response.
	ModeLinked
)

// Prompt is the assembled upstream input. It is never persisted.
type Prompt struct {
	Mode Mode

	// Transcript and Instruction are set for ModeFresh.
	Transcript  string
	Instruction string

	// Messages is the exact message list sent upstream.
	Messages []llm.Message

	// PreviousResponseID links a ModeLinked prompt to upstream-held context.
	PreviousResponseID string
}

// WrapTranscript surrounds transcript with the delimiters. This is the first
// turn of every conversation.
func WrapTranscript(transcript string) string {
	return StartDelimiter + " " + transcript + " " + EndDelimiter
}

// Fresh assembles a prompt from a transcript and an instruction, in the fixed
// order start-delimiter, transcript, end-delimiter, instruction.
func Fresh(transcript, instruction string) (Prompt, error) {
	if strings.TrimSpace(transcript) == "" && strings.TrimSpace(instruction) == "" {
		return Prompt{}, llm.EmptyInputError{}
	}

	return Prompt{
		Mode:        ModeFresh,
		Transcript:  transcript,
		Instruction: instruction,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: WrapTranscript(transcript) + " " + instruction},
		},
	}, nil
}

// Continue assembles a prompt from a conversation whose last turn is the new
// user question. The original instruction is not resent.
func Continue(conversation []llm.Message) (Prompt, error) {
	if len(conversation) == 0 {
		return Prompt{}, llm.ValidationError{Field: "messages", Reason: "conversation is empty"}
	}

	for i, msg := range conversation {
		if !llm.ValidRole(msg.Role) {
			return Prompt{}, llm.ValidationError{Field: "messages", Reason: fmt.Sprintf("unsupported role %q at turn %d", msg.Role, i)}
		}
	}

	first := conversation[0]
	if first.Role != llm.RoleUser || !strings.HasPrefix(first.Content, StartDelimiter) {
		return Prompt{}, llm.ValidationError{Field: "messages", Reason: "first turn must carry the delimited transcript"}
	}

	last := conversation[len(conversation)-1]
	if len(conversation) < 2 || last.Role != llm.RoleUser || strings.TrimSpace(last.Content) == "" {
		return Prompt{}, llm.ValidationError{Field: "messages", Reason: "last turn must be a non-empty user question"}
	}

	messages := make([]llm.Message, len(conversation))
	copy(messages, conversation)

	return Prompt{Mode: ModeContinuation, Messages: messages}, nil
}

// Append assembles a continuation from a stored history and a new question.
func Append(history []llm.Message, question string) (Prompt, error) {
	if strings.TrimSpace(question) == "" {
		return Prompt{}, llm.ValidationError{Field: "userPrompt", Reason: "no prompt provided"}
	}

	conversation := make([]llm.Message, 0, len(history)+1)
	conversation = append(conversation, history...)
	conversation = append(conversation, llm.Message{Role: llm.RoleUser, Content: question})
	return Continue(conversation)
}

// Linked assembles a follow-up that relies on a stored upstream response for
// its context.
func Linked(previousResponseID, question string) (Prompt, error) {
	if strings.TrimSpace(question) == "" {
		return Prompt{}, llm.ValidationError{Field: "userPrompt", Reason: "no prompt provided"}
	}

	return Prompt{
		Mode:               ModeLinked,
		PreviousResponseID: previousResponseID,
		Messages:           []llm.Message{{Role: llm.RoleUser, Content: question}},
	}, nil
}

// Text flattens the prompt into the text whose tokens are estimated.
func (p Prompt) Text() string {
	if len(p.Messages) == 1 {
		return p.Messages[0].Content
	}

	var b strings.Builder
	for i, msg := range p.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}

// Document splits the prompt into the document uploaded on the deferred path
// and the instruction the job is run with.
func (p Prompt) Document() (document, instruction string) {
	if p.Mode == ModeFresh {
		return p.Transcript, p.Instruction
	}
	if len(p.Messages) < 2 {
		return p.Text(), ""
	}

	history := Prompt{Messages: p.Messages[:len(p.Messages)-1]}
	return history.Text(), p.Messages[len(p.Messages)-1].Content
}
