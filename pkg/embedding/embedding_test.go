package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder returns [len(text), 1] and counts calls
type countingEmbedder struct {
	mu     sync.Mutex
	single int
	batch  int
	texts  []string
	err    error
}

func (e *countingEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.single++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) Dimensions() int { return 2 }

type batchEmbedder struct {
	countingEmbedder
}

func (e *batchEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batch++
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestCached_HitsSkipProvider(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCached(inner, 8)
	require.NoError(t, err)

	v1, err := c.GenerateEmbedding(context.Background(), "abc")
	require.NoError(t, err)
	v2, err := c.GenerateEmbedding(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.single)
	assert.Equal(t, 2, c.Dimensions())
}

func TestCached_ReturnedVectorsAreCopies(t *testing.T) {
	c, err := NewCached(&countingEmbedder{}, 8)
	require.NoError(t, err)

	v, _ := c.GenerateEmbedding(context.Background(), "abc")
	v[0] = 99
	again, _ := c.GenerateEmbedding(context.Background(), "abc")
	assert.Equal(t, float32(3), again[0])
}

func TestCached_BatchOnlySendsMisses(t *testing.T) {
	inner := &batchEmbedder{}
	c, err := NewCached(inner, 8)
	require.NoError(t, err)

	_, err = c.GenerateEmbedding(context.Background(), "a")
	require.NoError(t, err)

	vecs, err := c.GenerateEmbeddings(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{2, 1}, vecs[1])
	assert.Equal(t, []string{"bb", "ccc"}, inner.texts)
	assert.Equal(t, 3, c.Len())
}

func TestCached_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("unavailable")}
	c, err := NewCached(inner, 8)
	require.NoError(t, err)

	_, err = c.GenerateEmbedding(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestNewCached_InvalidSize(t *testing.T) {
	_, err := NewCached(&countingEmbedder{}, 0)
	assert.Error(t, err)
}

func TestBatch_FallsBackToSingleCalls(t *testing.T) {
	inner := &countingEmbedder{}
	vecs, err := Batch(context.Background(), inner, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, inner.single)
}

func TestRateLimited_WaitRespectsContext(t *testing.T) {
	r := NewRateLimited(&countingEmbedder{}, 0.001, 1)

	_, err := r.GenerateEmbedding(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.GenerateEmbedding(ctx, "second")
	assert.Error(t, err)
}

func TestRateLimited_BatchCostsOneToken(t *testing.T) {
	inner := &batchEmbedder{}
	r := NewRateLimited(inner, 0.001, 1)

	vecs, err := r.GenerateEmbeddings(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, 1, inner.batch)
}
