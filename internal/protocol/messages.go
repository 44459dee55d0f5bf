package protocol

import "time"

// InferenceRequest is submitted to the remote engine over the shared bus.
// RequestID routes the engine's streamed replies back to the caller.
type InferenceRequest struct {
	RequestID         string    `json:"request_id"`
	SessionID         string    `json:"session_id,omitempty"`
	Prompt            string    `json:"prompt"`
	MaxTokens         int       `json:"max_tokens"`
	MaxNewTokens      int       `json:"max_new_tokens"`
	Temperature       float64   `json:"temperature,omitempty"`
	TopP              float64   `json:"top_p,omitempty"`
	TopK              int       `json:"top_k,omitempty"`
	RepetitionPenalty float64   `json:"repetition_penalty,omitempty"`
	EOSTokenID        int64     `json:"eos_token_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// InferenceChunk is one streamed engine reply. A chunk whose Text equals the
// engine's stop token ends the request's stream; a non-empty Error ends it
// with a failure.
type InferenceChunk struct {
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

const (
	SubjectInferenceRequest     = "inference.request"
	SubjectInferenceReplyPrefix = "inference.reply."
)

// ReplySubject is the per-request subject the engine publishes chunks to.
func ReplySubject(requestID string) string {
	return SubjectInferenceReplyPrefix + requestID
}
