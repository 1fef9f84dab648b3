package models

import "strings"

// ChatRequest is the backend-neutral request produced by the request builder.
// Pointer fields are nil when the option was never set.
type ChatRequest struct {
	Model            string           `json:"model,omitempty"`
	Messages         []RequestMessage `json:"messages"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	Stop             []string         `json:"stop,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	N                *int             `json:"n,omitempty"`
	Functions        []string         `json:"functions,omitempty"`
	Stream           bool             `json:"stream"`
}

// RequestMessage is a message translated into a backend's role vocabulary
type RequestMessage struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Name    string  `json:"name,omitempty"`
	Media   []Media `json:"media,omitempty"`
}

// ChatCompletionChunk is one incremental fragment of a streamed completion
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Created int64         `json:"created"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice is the per-choice part of a fragment. FinishReason is empty
// until the choice completes.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// ChunkDelta carries the role (usually only on the first fragment) and content
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatCompletion is a whole, non-streamed backend response
type ChatCompletion struct {
	ID      string             `json:"id"`
	Created int64              `json:"created"`
	Model   string             `json:"model,omitempty"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *TokenUsage        `json:"usage,omitempty"`
}

// CompletionChoice is one alternative in a non-streamed response
type CompletionChoice struct {
	Index        int        `json:"index"`
	Message      ChunkDelta `json:"message"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// TokenUsage represents token usage information
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Metadata keys set on every Generation
const (
	MetadataID           = "id"
	MetadataRole         = "role"
	MetadataFinishReason = "finishReason"
)

// ChatGenerationMetadata is attached to a Generation once its choice completes
type ChatGenerationMetadata struct {
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Generation is one choice's content within a ChatResponse
type Generation struct {
	ID                 string                  `json:"id"`
	Index              int                     `json:"index"`
	Role               Role                    `json:"role,omitempty"`
	Content            string                  `json:"content"`
	Completed          bool                    `json:"completed"`
	FinishReason       string                  `json:"finish_reason,omitempty"`
	Metadata           map[string]any          `json:"metadata"`
	GenerationMetadata *ChatGenerationMetadata `json:"generation_metadata,omitempty"`
}

// ChatResponse is the provider-agnostic result of a call, or one step of a stream
type ChatResponse struct {
	ID      string       `json:"id"`
	Results []Generation `json:"results"`
}

// Result returns the first generation, or nil when there is none
func (r *ChatResponse) Result() *Generation {
	if r == nil || len(r.Results) == 0 {
		return nil
	}
	return &r.Results[0]
}

// Text concatenates the content of every generation in index order
func (r *ChatResponse) Text() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, g := range r.Results {
		sb.WriteString(g.Content)
	}
	return sb.String()
}
