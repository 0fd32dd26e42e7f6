package llm

// JobResponse is returned when a request is routed to the deferred path, and
// by polls that have not reached a terminal state.
type JobResponse struct {
	DocumentRef string `json:"documentRef"`
	JobID       string `json:"jobId"`
	WorkerRef   string `json:"workerRef"`
	StatusToken string `json:"statusToken"`
	Status      string `json:"status"`
}

// SummaryResponse is returned once a deferred job completed successfully.
type SummaryResponse struct {
	Summary string `json:"summary"`
	Message string `json:"message"`
}

// TranscriptResponse carries a fetched transcript.
type TranscriptResponse struct {
	Transcript string `json:"transcript"`
}

// Usage is the upstream token accounting for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
