package vectorstore_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/types"
	"github.com/creastat/llmkit/pkg/vectorstore"
	"github.com/creastat/llmkit/pkg/vectorstore/backendtest"
)

// batchEmbedder embeds every text to [1, len(text)] in one call
type batchEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (e *batchEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, float32(len(text))}, nil
}

func (e *batchEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t))}
	}
	return out, nil
}

func (e *batchEmbedder) Dimensions() int { return 2 }

func newStore(t *testing.T, opt vectorstore.Option, embedder interfaces.EmbeddingService) (*vectorstore.Store, *vectorstore.MemoryBackend) {
	t.Helper()
	backend := vectorstore.NewMemoryBackend()
	var opts []vectorstore.Option
	if opt != nil {
		opts = append(opts, opt)
	}
	s, err := vectorstore.New(backend, embedder, vectorstore.Config{Dimensions: 2}, opts...)
	require.NoError(t, err)
	return s, backend
}

func TestNew_Validation(t *testing.T) {
	_, err := vectorstore.New(nil, nil, vectorstore.Config{Dimensions: 2})
	assert.Error(t, err)

	_, err = vectorstore.New(vectorstore.NewMemoryBackend(), nil, vectorstore.Config{})
	assert.Error(t, err)

	_, err = vectorstore.New(vectorstore.NewMemoryBackend(), nil, vectorstore.Config{Dimensions: 2, Distance: "hamming"})
	assert.Error(t, err)

	s, err := vectorstore.New(vectorstore.NewMemoryBackend(), nil, vectorstore.Config{Dimensions: 2})
	require.NoError(t, err)
	assert.Equal(t, vectorstore.DistanceCosine, s.Config().Distance)
}

func TestAdd_GeneratesIDs(t *testing.T) {
	s, backend := newStore(t, nil, &batchEmbedder{})
	docs := []models.Document{{Text: "a"}, {Text: "b"}}

	require.NoError(t, s.Add(context.Background(), docs))

	assert.NotEmpty(t, docs[0].ID)
	assert.NotEmpty(t, docs[1].ID)
	assert.NotEqual(t, docs[0].ID, docs[1].ID)
	assert.Equal(t, 2, backend.Len())
}

func TestAdd_DuplicateIDsLastWins(t *testing.T) {
	s, backend := newStore(t, nil, &batchEmbedder{})

	require.NoError(t, s.Add(context.Background(), []models.Document{
		{ID: "x", Text: "first"},
		{ID: "y", Text: "other"},
		{ID: "x", Text: "last"},
	}))
	assert.Equal(t, 2, backend.Len())

	var texts []string
	require.NoError(t, backend.Scan(context.Background(), func(r vectorstore.Record) bool {
		texts = append(texts, r.Text)
		return true
	}))
	assert.Equal(t, []string{"last", "other"}, texts)
}

func TestAdd_BatchesEmbeddingsAndSkipsProvided(t *testing.T) {
	emb := &batchEmbedder{}
	s, _ := newStore(t, nil, emb)

	require.NoError(t, s.Add(context.Background(), []models.Document{
		{ID: "a", Text: "aa"},
		{ID: "b", Text: "bbb", Embedding: []float32{0, 1}},
		{ID: "c", Text: "c"},
	}))
	require.Len(t, emb.batches, 1)
	assert.Equal(t, []string{"aa", "c"}, emb.batches[0])
}

func TestAdd_NoEmbedder(t *testing.T) {
	s, backend := newStore(t, nil, nil)

	require.NoError(t, s.Add(context.Background(), []models.Document{{ID: "a", Embedding: []float32{1, 0}}}))
	assert.Equal(t, 1, backend.Len())

	err := s.Add(context.Background(), []models.Document{{ID: "b", Text: "needs embedding"}})
	assert.ErrorIs(t, err, types.ErrEmbeddingProviderUnavailable)

	_, err = s.SimilaritySearch(context.Background(), models.SearchRequest{Query: "q", TopK: 1})
	assert.ErrorIs(t, err, types.ErrEmbeddingProviderUnavailable)
}

func TestAdd_EmbeddingErrorKeepsCause(t *testing.T) {
	cause := errors.New("quota exceeded")
	s, backend := newStore(t, nil, &batchEmbedder{err: cause})

	err := s.Add(context.Background(), []models.Document{{Text: "a"}})
	assert.ErrorIs(t, err, types.ErrEmbeddingProviderUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, backend.Len())
}

func TestAdd_CancelledContextWritesNothing(t *testing.T) {
	s, backend := newStore(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Add(ctx, []models.Document{{ID: "a", Embedding: []float32{1, 0}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, backend.Len())
}

func TestAdd_ParallelEmbeddingForSingleProvider(t *testing.T) {
	vectors := map[string][]float32{}
	var docs []models.Document
	for i := 0; i < 20; i++ {
		text := strings.Repeat("x", i+1)
		vectors[text] = []float32{1, float32(i)}
		docs = append(docs, models.Document{Text: text})
	}
	emb := &backendtest.StaticEmbedder{Vectors: vectors, Dims: 2}
	s, backend := newStore(t, vectorstore.WithEmbedConcurrency(3), emb)

	require.NoError(t, s.Add(context.Background(), docs))
	assert.Equal(t, 20, backend.Len())
	assert.Equal(t, 20, emb.Calls)
}

func TestSimilaritySearch_InvalidRequests(t *testing.T) {
	s, _ := newStore(t, nil, &batchEmbedder{})
	for _, req := range []models.SearchRequest{
		{Query: "q", TopK: 0},
		{Query: "q", TopK: -1},
		{Query: "q", TopK: 1, Threshold: -0.1},
		{Query: "q", TopK: 1, Threshold: 1.5},
	} {
		_, err := s.SimilaritySearch(context.Background(), req)
		assert.ErrorIs(t, err, types.ErrInvalidSearchRequest)
	}
}

func TestSimilaritySearch_EmptyStore(t *testing.T) {
	s, _ := newStore(t, nil, &batchEmbedder{})
	got, err := s.SimilaritySearchText(context.Background(), "q", models.DefaultTopK)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSimilaritySearch_ThresholdIsInclusive(t *testing.T) {
	emb := &backendtest.StaticEmbedder{Dims: 2, Vectors: map[string][]float32{
		"q":    {1, 0},
		"perp": {0, 1},
	}}
	s, _ := newStore(t, nil, emb)
	require.NoError(t, s.Add(context.Background(), []models.Document{{ID: "perp", Text: "perp"}}))

	// orthogonal vectors score exactly 0.5 under cosine
	got, err := s.SimilaritySearch(context.Background(), models.SearchRequest{Query: "q", TopK: 1, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Score)
}

func TestSimilaritySearch_QueryDimensionMismatch(t *testing.T) {
	emb := &backendtest.StaticEmbedder{Dims: 3, Vectors: map[string][]float32{"q": {1, 0, 0}}}
	s, _ := newStore(t, nil, emb)

	_, err := s.SimilaritySearch(context.Background(), models.SearchRequest{Query: "q", TopK: 1})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestSimilaritySearch_ResultsAreCopies(t *testing.T) {
	emb := &backendtest.StaticEmbedder{Dims: 2, Vectors: map[string][]float32{"q": {1, 0}, "a": {1, 0}}}
	s, _ := newStore(t, nil, emb)
	require.NoError(t, s.Add(context.Background(), []models.Document{{ID: "a", Text: "a", Metadata: map[string]string{"k": "v"}}}))

	got, err := s.SimilaritySearchText(context.Background(), "q", 1)
	require.NoError(t, err)
	got[0].Metadata["k"] = "changed"
	got[0].Embedding[0] = 42

	again, err := s.SimilaritySearchText(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Equal(t, "v", again[0].Metadata["k"])
	assert.Equal(t, float32(1), again[0].Embedding[0])
}

func TestDotStore_RequiresUnitVectors(t *testing.T) {
	ctx := context.Background()
	emb := &backendtest.StaticEmbedder{Dims: 2, Vectors: map[string][]float32{
		"unit":  {0.6, 0.8},
		"long":  {3, 4},
		"q":     {1, 0},
		"big-q": {2, 0},
	}}
	backend := vectorstore.NewMemoryBackend()
	s, err := vectorstore.New(backend, emb, vectorstore.Config{Dimensions: 2, Distance: vectorstore.DistanceDot})
	require.NoError(t, err)

	err = s.Add(ctx, []models.Document{{ID: "u", Text: "unit"}, {ID: "l", Text: "long"}})
	var nonUnit *types.NonUnitVectorError
	require.ErrorAs(t, err, &nonUnit)
	assert.Equal(t, "l", nonUnit.ID)
	assert.InDelta(t, 5.0, nonUnit.Norm, 1e-6)
	assert.True(t, types.IsPermanent(err))
	assert.Zero(t, backend.Len())

	require.NoError(t, s.Add(ctx, []models.Document{{ID: "u", Text: "unit"}}))
	got, err := s.SimilaritySearchText(ctx, "q", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.8, got[0].Score, 1e-6)

	_, err = s.SimilaritySearchText(ctx, "big-q", 1)
	assert.ErrorIs(t, err, types.ErrNonUnitVector)
}
