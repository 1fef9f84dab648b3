package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/llmkit/pkg/config"
	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/vectorstore"
	"github.com/creastat/llmkit/pkg/vectorstore/backendtest"
)

// echoBackend answers with the model and message count it received
type echoBackend struct {
	mu   sync.Mutex
	last *models.ChatRequest
}

func (b *echoBackend) Complete(_ context.Context, req *models.ChatRequest) (*models.ChatCompletion, error) {
	b.mu.Lock()
	b.last = req
	b.mu.Unlock()
	return &models.ChatCompletion{
		ID: "c1",
		Choices: []models.CompletionChoice{{
			Message:      models.ChunkDelta{Role: "assistant", Content: fmt.Sprintf("model=%s msgs=%d", req.Model, len(req.Messages))},
			FinishReason: "stop",
		}},
	}, nil
}

func (b *echoBackend) CompleteStream(_ context.Context, req *models.ChatRequest) (interfaces.ChunkStream, error) {
	return &chunkStream{chunks: []models.ChatCompletionChunk{
		{ID: "s1", Choices: []models.ChunkChoice{{Delta: models.ChunkDelta{Role: "assistant", Content: "Hel"}}}},
		{ID: "s1", Choices: []models.ChunkChoice{{Delta: models.ChunkDelta{Content: "lo"}, FinishReason: "stop"}}},
	}}, nil
}

type chunkStream struct {
	mu     sync.Mutex
	chunks []models.ChatCompletionChunk
}

func (s *chunkStream) Recv() (models.ChatCompletionChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return models.ChatCompletionChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *chunkStream) Close() error { return nil }

type fixture struct {
	chat    *echoBackend
	backend *vectorstore.MemoryBackend
}

func newFixture() *fixture {
	return &fixture{chat: &echoBackend{}, backend: vectorstore.NewMemoryBackend()}
}

func testSettings() *config.Settings {
	return &config.Settings{
		LogLevel: "error",
		Chat:     config.ChatSettings{Provider: "openai", Model: "gpt-test"},
		VectorStore: config.VectorStoreConfig{
			Backend:    "memory",
			Dimensions: 2,
			Distance:   "cosine",
		},
		Retry: config.RetrySettings{MaxAttempts: 1},
	}
}

// run executes one llmctl invocation against the fixture's fakes
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	a := newApp(testSettings(), logger.NewNop())
	a.chatBackend = f.chat
	a.backend = f.backend
	a.embedder = &backendtest.StaticEmbedder{
		Dims: 2,
		Vectors: map[string][]float32{
			"cats purr":   {1, 0},
			"dogs bark":   {0, 1},
			"kittens":     {0.9, 0.1},
			"puppies":     {0.1, 0.9},
			"unrelated":   {-1, 0},
			"catlike dog": {0.7, 0.7},
		},
	}
	current = a
	t.Cleanup(func() { current = nil })

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func resetFlags() {
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Value.Type() != "stringToString" {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
	searchFilter = map[string]string{}
}

func writeDocs(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.yaml")
	body := `documents:
  - id: cat
    text: cats purr
    metadata: {animal: cat}
  - id: dog
    text: dogs bark
    metadata: {animal: dog}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestProvidersCommand(t *testing.T) {
	out, err := newFixture().run(t, "providers")
	require.NoError(t, err)
	assert.Contains(t, out, "gemini\n")
	assert.Contains(t, out, "openai\n")
}

func TestChatCommand(t *testing.T) {
	f := newFixture()

	out, err := f.run(t, "chat", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "model=gpt-test msgs=1\n", out)
	require.NotNil(t, f.chat.last)
	assert.Equal(t, "hello there", f.chat.last.Messages[0].Content)

	out, err = f.run(t, "chat", "--system", "be brief", "--model", "gpt-other", "hi")
	require.NoError(t, err)
	assert.Equal(t, "model=gpt-other msgs=2\n", out)
	assert.Equal(t, "system", f.chat.last.Messages[0].Role)

	// flags from the previous run do not leak
	out, err = f.run(t, "chat", "hi")
	require.NoError(t, err)
	assert.Equal(t, "model=gpt-test msgs=1\n", out)
}

func TestChatCommand_Stream(t *testing.T) {
	out, err := newFixture().run(t, "chat", "--stream", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello\n", out)
}

func TestChatCommand_RequiresMessage(t *testing.T) {
	_, err := newFixture().run(t, "chat")
	assert.Error(t, err)
}

func TestIngestSearchDelete(t *testing.T) {
	f := newFixture()

	out, err := f.run(t, "ingest", writeDocs(t))
	require.NoError(t, err)
	assert.Equal(t, "Added 2 documents.\n", out)
	assert.Equal(t, 2, f.backend.Len())

	out, err = f.run(t, "search", "--top-k", "1", "kittens")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] cat")
	assert.NotContains(t, out, "dog")

	out, err = f.run(t, "search", "--filter", "animal=dog", "kittens")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] dog")
	assert.NotContains(t, out, "[2]")

	out, err = f.run(t, "search", "--threshold", "0.99", "unrelated")
	require.NoError(t, err)
	assert.Equal(t, "No results found.\n", out)

	out, err = f.run(t, "search", "--json", "puppies")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "["))
	assert.Less(t, strings.Index(out, `"dog"`), strings.Index(out, `"cat"`))
	assert.NotContains(t, out, "embedding")

	out, err = f.run(t, "delete", "cat", "missing")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 2 documents.\n", out)
	assert.Equal(t, 1, f.backend.Len())
}

func TestSearchCommand_RejectsBadTopK(t *testing.T) {
	_, err := newFixture().run(t, "search", "--top-k", "0", "kittens")
	assert.Error(t, err)
}

func TestChatDefaults(t *testing.T) {
	temperature := 0.2
	opts := chatDefaults(config.ChatSettings{Model: "m", Temperature: &temperature})
	assert.Equal(t, "m", opts.Model.Or(""))
	assert.Equal(t, 0.2, opts.Temperature.Or(0))
	assert.False(t, opts.TopP.Set)
	assert.False(t, opts.MaxTokens.Set)
}

func TestChatDefaults_ExplicitZeroIsKept(t *testing.T) {
	zero := 0.0
	opts := chatDefaults(config.ChatSettings{Temperature: &zero, TopP: &zero})
	assert.True(t, opts.Temperature.Set)
	assert.Equal(t, 0.0, opts.Temperature.Or(1))
	assert.True(t, opts.TopP.Set)
	assert.Equal(t, 0.0, opts.TopP.Or(1))
	assert.False(t, opts.Model.Set)
}
