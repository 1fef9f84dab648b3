package chat

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/creastat/llmkit/pkg/models"
)

// Per-message formatting overhead used by OpenAI-style chat encodings
const (
	tokensPerMessage = 4
	tokensReplyPrime = 3
)

// TokenCounter estimates prompt sizes. Encoders are loaded lazily and
// cached; when an encoding cannot be loaded it falls back to a chars/4 guess.
type TokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	load     func(encoding string) (*tiktoken.Tiktoken, error)
}

// NewTokenCounter creates a new token counter
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{
		encoders: make(map[string]*tiktoken.Tiktoken),
		load:     tiktoken.GetEncoding,
	}
}

// Count returns the number of tokens in text for model
func (tc *TokenCounter) Count(text, model string) int {
	encoder := tc.encoder(encodingFor(model))
	if encoder == nil {
		return estimateTokens(text)
	}
	return len(encoder.Encode(text, nil, nil))
}

// CountRequest estimates the prompt tokens of a normalized request
func (tc *TokenCounter) CountRequest(req *models.ChatRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += tc.Count(msg.Content, req.Model) + tokensPerMessage
	}
	return total + tokensReplyPrime
}

func (tc *TokenCounter) encoder(encoding string) *tiktoken.Tiktoken {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if enc, ok := tc.encoders[encoding]; ok {
		return enc
	}
	enc, err := tc.load(encoding)
	if err != nil {
		// misses are cached too
		enc = nil
	}
	tc.encoders[encoding] = enc
	return enc
}

func encodingFor(model string) string {
	if strings.Contains(model, "gpt-4o") || strings.HasPrefix(model, "o1") {
		return "o200k_base"
	}
	return "cl100k_base"
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
