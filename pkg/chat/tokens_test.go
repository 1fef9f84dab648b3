package chat

import (
	"errors"
	"testing"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"

	"github.com/creastat/llmkit/pkg/models"
)

func offlineCounter(loads *int) *TokenCounter {
	tc := NewTokenCounter()
	tc.load = func(string) (*tiktoken.Tiktoken, error) {
		*loads++
		return nil, errors.New("offline")
	}
	return tc
}

func TestTokenCounter_EstimateFallback(t *testing.T) {
	loads := 0
	tc := offlineCounter(&loads)

	assert.Equal(t, 0, tc.Count("", "gpt-4"))
	assert.Equal(t, 1, tc.Count("abc", "gpt-4"))
	assert.Equal(t, 2, tc.Count("abcdefgh", "gpt-4"))
	assert.Equal(t, 1, loads)
}

func TestTokenCounter_CountRequest(t *testing.T) {
	loads := 0
	tc := offlineCounter(&loads)
	req := &models.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []models.RequestMessage{
			{Role: "system", Content: "abcd"},
			{Role: "user", Content: "abcdefgh"},
		},
	}
	// (1+4) + (2+4) + 3
	assert.Equal(t, 14, tc.CountRequest(req))
}

func TestEncodingFor(t *testing.T) {
	assert.Equal(t, "o200k_base", encodingFor("gpt-4o-mini"))
	assert.Equal(t, "o200k_base", encodingFor("o1-preview"))
	assert.Equal(t, "cl100k_base", encodingFor("gpt-3.5-turbo"))
	assert.Equal(t, "cl100k_base", encodingFor("gemini-1.5-flash"))
}
