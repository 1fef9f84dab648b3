package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/llmkit/pkg/chat"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/types"
)

// fakeOpenAI records requests and replies with canned completions
type fakeOpenAI struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	headers  []http.Header
	embedIn  []openai.EmbeddingRequest
	status   int
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.headers = append(f.headers, r.Header.Clone())
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"message":"rejected","type":"invalid_request_error"}}`)
		return
	}

	switch r.URL.Path {
	case "/v1/models":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4o-mini","object":"model"}]}`)
	case "/v1/chat/completions":
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		if req.Stream {
			writeStream(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
		}`)
	case "/v1/embeddings":
		var req openai.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.embedIn = append(f.embedIn, req)
		f.mu.Unlock()

		inputs, _ := req.Input.([]any)
		data := make([]map[string]any, 0, len(inputs))
		// reply in reverse order to check placement by index
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	default:
		http.NotFound(w, r)
	}
}

func writeStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	events := []string{
		`{"id":"chatcmpl-s","object":"chat.completion.chunk","created":1700000001,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
		`{"id":"chatcmpl-s","object":"chat.completion.chunk","created":1700000001,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}`,
		`{"id":"chatcmpl-s","object":"chat.completion.chunk","created":1700000001,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
		`{"id":"chatcmpl-s","object":"chat.completion.chunk","created":1700000001,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func newOpenAIProvider(t *testing.T, preset ProviderConfig, options map[string]any) (*OpenAICompatibleProvider, *fakeOpenAI) {
	t.Helper()
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p := NewOpenAICompatibleProvider(preset, nil)
	require.NoError(t, p.Initialize(context.Background(), models.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Options: options,
	}))
	return p, fake
}

func TestOpenAICompatible_InitializeRequiresKey(t *testing.T) {
	p := NewOpenAICompatibleProvider(OpenAIConfig, nil)
	err := p.Initialize(context.Background(), models.ProviderConfig{})
	require.Error(t, err)
	assert.False(t, p.IsInitialized())
}

func TestOpenAICompatible_NotInitialized(t *testing.T) {
	p := NewOpenAICompatibleProvider(OpenAIConfig, nil)
	ctx := context.Background()

	_, err := p.Complete(ctx, &models.ChatRequest{})
	assert.ErrorIs(t, err, types.ErrProviderNotInitialized)
	_, err = p.CompleteStream(ctx, &models.ChatRequest{})
	assert.ErrorIs(t, err, types.ErrProviderNotInitialized)
	_, err = p.GenerateEmbeddings(ctx, []string{"x"})
	assert.ErrorIs(t, err, types.ErrProviderNotInitialized)
	assert.ErrorIs(t, p.HealthCheck(ctx), types.ErrProviderNotInitialized)
}

func TestOpenAICompatible_Complete(t *testing.T) {
	p, fake := newOpenAIProvider(t, OpenAIConfig, nil)

	temp := 0.3
	maxTokens := 64
	completion, err := p.Complete(context.Background(), &models.ChatRequest{
		Messages: []models.RequestMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
	})
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", completion.ID)
	require.Len(t, completion.Choices, 1)
	assert.Equal(t, "assistant", completion.Choices[0].Message.Role)
	assert.Equal(t, "Hello there", completion.Choices[0].Message.Content)
	assert.Equal(t, "stop", completion.Choices[0].FinishReason)
	require.NotNil(t, completion.Usage)
	assert.Equal(t, 11, completion.Usage.TotalTokens)

	require.Len(t, fake.requests, 1)
	sent := fake.requests[0]
	assert.Equal(t, "gpt-4o-mini", sent.Model)
	assert.InDelta(t, 0.3, sent.Temperature, 1e-6)
	assert.Equal(t, 64, sent.MaxTokens)
	assert.Equal(t, []string{"END"}, sent.Stop)
	assert.False(t, sent.Stream)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Equal(t, "Bearer sk-test", fake.headers[len(fake.headers)-1].Get("Authorization"))
}

func TestOpenAICompatible_CompleteStream(t *testing.T) {
	p, fake := newOpenAIProvider(t, OpenAIConfig, nil)

	stream, err := p.CompleteStream(context.Background(), &models.ChatRequest{
		Model:    "gpt-4o",
		Messages: []models.RequestMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var chunks []models.ChatCompletionChunk
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 4)
	assert.Equal(t, "chatcmpl-s", chunks[0].ID)
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "Hel", chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, "stop", chunks[3].Choices[0].FinishReason)

	require.Len(t, fake.requests, 1)
	assert.True(t, fake.requests[0].Stream)
	assert.Equal(t, "gpt-4o", fake.requests[0].Model)
}

func TestOpenAICompatible_StreamThroughChatClient(t *testing.T) {
	p, _ := newOpenAIProvider(t, OpenAIConfig, nil)
	client := chat.NewClient(p)

	resp, err := chat.Collect(client.Stream(context.Background(), models.NewPrompt(models.UserMessage("hi"))))
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-s", resp.ID)
	gen := resp.Result()
	require.NotNil(t, gen)
	assert.Equal(t, "Hello", gen.Content)
	assert.Equal(t, models.RoleAssistant, gen.Role)
	assert.True(t, gen.Completed)
	assert.Equal(t, "stop", gen.FinishReason)
}

func TestOpenAICompatible_GenerateEmbeddings(t *testing.T) {
	p, fake := newOpenAIProvider(t, OpenAIConfig, map[string]any{"dimensions": 2})

	vectors, err := p.GenerateEmbeddings(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vectors)

	require.Len(t, fake.embedIn, 1)
	assert.Equal(t, openai.EmbeddingModel("text-embedding-3-small"), fake.embedIn[0].Model)
	assert.Equal(t, 2, fake.embedIn[0].Dimensions)
	assert.Equal(t, 2, p.Dimensions())

	single, err := p.GenerateEmbedding(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, single)

	empty, err := p.GenerateEmbeddings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenAICompatible_Dimensions(t *testing.T) {
	assert.Equal(t, 1536, NewOpenAICompatibleProvider(OpenAIConfig, nil).Dimensions())
	assert.Equal(t, 256, NewOpenAICompatibleProvider(YandexConfig, nil).Dimensions())
	assert.Equal(t, 0, NewOpenAICompatibleProvider(MinimaxLLMConfig, nil).Dimensions())
}

func TestOpenAICompatible_Capabilities(t *testing.T) {
	assert.Equal(t, []types.Capability{types.CapabilityChat, types.CapabilityEmbedding},
		NewOpenAICompatibleProvider(OpenAIConfig, nil).Capabilities())
	assert.Equal(t, []types.Capability{types.CapabilityChat},
		NewOpenAICompatibleProvider(OpenRouterConfig, nil).Capabilities())

	p, _ := newOpenAIProvider(t, OpenRouterConfig, map[string]any{"embedding_model": "openai/text-embedding-3-small"})
	assert.Contains(t, p.Capabilities(), types.CapabilityEmbedding)
}

func TestOpenAICompatible_YandexModelURIs(t *testing.T) {
	p, fake := newOpenAIProvider(t, YandexConfig, map[string]any{"folder_id": "b1g"})
	ctx := context.Background()

	_, err := p.Complete(ctx, &models.ChatRequest{Messages: []models.RequestMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	_, err = p.GenerateEmbedding(ctx, "doc")
	require.NoError(t, err)

	assert.Equal(t, "gpt://b1g/yandexgpt/latest", fake.requests[0].Model)
	assert.Equal(t, openai.EmbeddingModel("emb://b1g/text-search-doc/latest"), fake.embedIn[0].Model)
	assert.Zero(t, fake.embedIn[0].Dimensions)
	for _, h := range fake.headers {
		assert.Equal(t, "b1g", h.Get("OpenAI-Project"))
	}
	assert.NoError(t, p.HealthCheck(ctx))
}

func TestOpenAICompatible_RejectionIsPermanent(t *testing.T) {
	p, fake := newOpenAIProvider(t, OpenAIConfig, nil)
	req := &models.ChatRequest{Messages: []models.RequestMessage{{Role: "user", Content: "hi"}}}

	fake.mu.Lock()
	fake.status = http.StatusBadRequest
	fake.mu.Unlock()
	_, err := p.Complete(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	fake.mu.Lock()
	fake.status = http.StatusTooManyRequests
	fake.mu.Unlock()
	_, err = p.Complete(context.Background(), req)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestToOpenAIRequest(t *testing.T) {
	n := 2
	topP := 0.9
	req := toOpenAIRequest(&models.ChatRequest{
		Messages: []models.RequestMessage{
			{Role: "user", Content: "look", Media: []models.Media{
				{MimeType: "image/png", Data: []byte{1, 2, 3}},
				{MimeType: "image/jpeg", URI: "https://example.com/cat.jpg"},
			}},
			{Role: "function", Name: "weather", Content: "sunny"},
		},
		TopP:      &topP,
		N:         &n,
		Functions: []string{"weather"},
	}, "gpt-4o", true)

	assert.Equal(t, "gpt-4o", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, 2, req.N)
	assert.InDelta(t, 0.9, req.TopP, 1e-6)
	assert.Zero(t, req.Temperature)
	assert.Zero(t, req.MaxTokens)

	require.Len(t, req.Messages, 2)
	media := req.Messages[0]
	assert.Empty(t, media.Content)
	require.Len(t, media.MultiContent, 3)
	assert.Equal(t, "look", media.MultiContent[0].Text)
	assert.True(t, strings.HasPrefix(media.MultiContent[1].ImageURL.URL, "data:image/png;base64,"))
	assert.Equal(t, "https://example.com/cat.jpg", media.MultiContent[2].ImageURL.URL)
	assert.Equal(t, "weather", req.Messages[1].Name)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, req.Tools[0].Type)
	assert.Equal(t, "weather", req.Tools[0].Function.Name)
}
