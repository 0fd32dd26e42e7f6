package llm

// SummaryRequest is the inbound body of a summary or follow-up request.
//
// Exactly one shape is expected per request:
//   - fresh submission: Transcript + UserPrompt
//   - client-held continuation: Messages
//   - server-held continuation: ConversationHash + UserPrompt
//   - linked continuation: PreviousResponseID + UserPrompt
type SummaryRequest struct {
	Transcript         *string   `json:"transcript,omitempty"`
	UserPrompt         string    `json:"userPrompt,omitempty"`
	Messages           []Message `json:"messages,omitempty"`
	ConversationHash   string    `json:"conversationHash,omitempty"`
	PreviousResponseID string    `json:"previousResponseId,omitempty"`
	PasswordToken      string    `json:"passwordToken"`
}

// PollRequest asks for the status of a deferred job. All four identifying
// fields must be present together.
type PollRequest struct {
	DocumentRef   string `json:"documentRef"`
	JobID         string `json:"jobId"`
	WorkerRef     string `json:"workerRef"`
	StatusToken   string `json:"statusToken"`
	PasswordToken string `json:"passwordToken"`
}

// TranscriptRequest asks the gateway to fetch a transcript through its
// configured source.
type TranscriptRequest struct {
	URL           string `json:"url"`
	PasswordToken string `json:"passwordToken"`
}
