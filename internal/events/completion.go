package events

// TypeCompletionFinished is emitted once per relayed chat request.
const TypeCompletionFinished = "chat.completion.finished.v1"

// CompletionFinished is the payload of TypeCompletionFinished.
type CompletionFinished struct {
	RequestID     string `json:"request_id"`
	UserID        string `json:"user_id"`
	Model         string `json:"model,omitempty"`
	Messages      int    `json:"messages"`
	Attachments   int    `json:"attachments"`
	ResponseBytes int    `json:"response_bytes"`
	FinishReason  string `json:"finish_reason,omitempty"`
	PromptTokens  int    `json:"prompt_tokens,omitempty"`
	OutputTokens  int    `json:"output_tokens,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}
