// Package backendtest holds the conformance suite every vectorstore.Backend
// must pass, plus a deterministic embedder for store-level tests.
package backendtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/types"
	"github.com/creastat/llmkit/pkg/vectorstore"
)

// Factory returns a fresh, empty backend for one subtest
type Factory func(t *testing.T) vectorstore.Backend

// StaticEmbedder maps known texts to fixed vectors
type StaticEmbedder struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Dims    int
	Err     error
	Calls   int
}

// GenerateEmbedding implements interfaces.EmbeddingService
func (e *StaticEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	if e.Err != nil {
		return nil, e.Err
	}
	v, ok := e.Vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return append([]float32(nil), v...), nil
}

// Dimensions implements interfaces.EmbeddingService
func (e *StaticEmbedder) Dimensions() int { return e.Dims }

func ids(records []vectorstore.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func scanAll(t *testing.T, b vectorstore.Backend) []vectorstore.Record {
	t.Helper()
	var out []vectorstore.Record
	require.NoError(t, b.Scan(context.Background(), func(r vectorstore.Record) bool {
		out = append(out, r)
		return true
	}))
	return out
}

// RunBackend exercises the Backend contract
func RunBackend(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	t.Run("upsert and scan in insertion order", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, []vectorstore.Record{
			{ID: "b", Vector: []float32{1, 0}, Text: "bee", Metadata: map[string]string{"k": "v"}},
			{ID: "a", Vector: []float32{0, 1}, Text: "ay"},
		}))
		require.NoError(t, b.Upsert(ctx, []vectorstore.Record{{ID: "c", Vector: []float32{0.5, 0.5}}}))

		got := scanAll(t, b)
		assert.Equal(t, []string{"b", "a", "c"}, ids(got))
		assert.Equal(t, "bee", got[0].Text)
		assert.Equal(t, []float32{1, 0}, got[0].Vector)
		assert.Equal(t, map[string]string{"k": "v"}, got[0].Metadata)
		assert.Less(t, got[0].Seq, got[1].Seq)
		assert.Less(t, got[1].Seq, got[2].Seq)
	})

	t.Run("replace keeps position and swaps whole record", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, []vectorstore.Record{
			{ID: "a", Vector: []float32{1, 0}, Text: "old", Metadata: map[string]string{"stale": "yes"}},
			{ID: "b", Vector: []float32{0, 1}, Text: "b"},
		}))
		require.NoError(t, b.Upsert(ctx, []vectorstore.Record{
			{ID: "a", Vector: []float32{0, 1}, Text: "new"},
		}))

		got := scanAll(t, b)
		require.Equal(t, []string{"a", "b"}, ids(got))
		assert.Equal(t, "new", got[0].Text)
		assert.Equal(t, []float32{0, 1}, got[0].Vector)
		assert.Empty(t, got[0].Metadata)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, []vectorstore.Record{
			{ID: "a", Vector: []float32{1, 0}},
			{ID: "b", Vector: []float32{0, 1}},
		}))
		require.NoError(t, b.Delete(ctx, []string{"a", "missing"}))
		require.NoError(t, b.Delete(ctx, []string{"a"}))

		assert.Equal(t, []string{"b"}, ids(scanAll(t, b)))
	})

	t.Run("scan stops when callback returns false", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, []vectorstore.Record{
			{ID: "a", Vector: []float32{1}}, {ID: "b", Vector: []float32{1}}, {ID: "c", Vector: []float32{1}},
		}))
		seen := 0
		require.NoError(t, b.Scan(ctx, func(vectorstore.Record) bool {
			seen++
			return seen < 2
		}))
		assert.Equal(t, 2, seen)
	})

	t.Run("scanned records are copies", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, []vectorstore.Record{
			{ID: "a", Vector: []float32{1, 2}, Metadata: map[string]string{"k": "v"}},
		}))
		first := scanAll(t, b)
		first[0].Vector[0] = 99
		first[0].Metadata["k"] = "changed"

		again := scanAll(t, b)
		assert.Equal(t, float32(1), again[0].Vector[0])
		assert.Equal(t, "v", again[0].Metadata["k"])
	})

	t.Run("empty backend scans nothing", func(t *testing.T) {
		assert.Empty(t, scanAll(t, newBackend(t)))
	})

	t.Run("delete during scan keeps later records", func(t *testing.T) {
		b := newBackend(t)
		const n = 520
		records := make([]vectorstore.Record, n)
		for i := range records {
			records[i] = vectorstore.Record{ID: fmt.Sprintf("r%03d", i), Vector: []float32{1}}
		}
		require.NoError(t, b.Upsert(ctx, records))

		seen := make(map[string]bool, n)
		require.NoError(t, b.Scan(ctx, func(r vectorstore.Record) bool {
			seen[r.ID] = true
			switch r.ID {
			case "r099":
				require.NoError(t, b.Delete(ctx, []string{"r000"}))
			case "r499":
				require.NoError(t, b.Delete(ctx, []string{"r001"}))
			}
			return true
		}))
		for _, r := range records {
			assert.True(t, seen[r.ID], "record %s was skipped", r.ID)
		}
		assert.Len(t, scanAll(t, b), n-2)
	})

	t.Run("concurrent writers and scanners see whole records", func(t *testing.T) {
		b := newBackend(t)
		const keys = 8
		record := func(id string, v int) vectorstore.Record {
			s := strconv.Itoa(v)
			return vectorstore.Record{
				ID:       id,
				Vector:   []float32{float32(v), float32(v)},
				Text:     s,
				Metadata: map[string]string{"v": s},
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for w := range 4 {
			g.Go(func() error {
				for i := range 25 {
					id := fmt.Sprintf("k%d", (w+i)%keys)
					if i%5 == 4 {
						if err := b.Delete(gctx, []string{id}); err != nil {
							return err
						}
						continue
					}
					if err := b.Upsert(gctx, []vectorstore.Record{record(id, w*100+i)}); err != nil {
						return err
					}
				}
				return nil
			})
		}
		for range 4 {
			g.Go(func() error {
				for range 25 {
					var torn error
					err := b.Scan(gctx, func(r vectorstore.Record) bool {
						if r.Metadata["v"] != r.Text || len(r.Vector) != 2 ||
							strconv.Itoa(int(r.Vector[0])) != r.Text || r.Vector[0] != r.Vector[1] {
							torn = fmt.Errorf("record %s mixes writes: %+v", r.ID, r)
							return false
						}
						return true
					})
					if err != nil {
						return err
					}
					if torn != nil {
						return torn
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
	})
}

// RunStore exercises Store semantics on top of a backend
func RunStore(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	newStore := func(t *testing.T, vectors map[string][]float32) (*vectorstore.Store, *StaticEmbedder) {
		t.Helper()
		emb := &StaticEmbedder{Vectors: vectors, Dims: 2}
		s, err := vectorstore.New(newBackend(t), emb, vectorstore.Config{Dimensions: 2, Distance: vectorstore.DistanceCosine})
		require.NoError(t, err)
		return s, emb
	}

	t.Run("upsert replaces by id", func(t *testing.T) {
		s, _ := newStore(t, map[string][]float32{"x": {1, 0}, "y": {0, 1}, "q": {1, 0}})

		require.NoError(t, s.Add(ctx, []models.Document{{ID: "d1", Text: "x"}}))
		require.NoError(t, s.Add(ctx, []models.Document{{ID: "d1", Text: "y"}}))

		got, err := s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "y", got[0].Text)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s, _ := newStore(t, map[string][]float32{"x": {1, 0}, "q": {1, 0}})
		require.NoError(t, s.Add(ctx, []models.Document{{ID: "d1", Text: "x"}}))

		require.NoError(t, s.Delete(ctx, []string{"d1"}))
		require.NoError(t, s.Delete(ctx, []string{"d1", "never-existed"}))

		got, err := s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("threshold and topK", func(t *testing.T) {
		s, _ := newStore(t, map[string][]float32{
			"same":     {1, 0},
			"diagonal": {1, 1},
			"opposite": {-1, 0},
			"q":        {1, 0},
		})
		require.NoError(t, s.Add(ctx, []models.Document{
			{ID: "same", Text: "same"},
			{ID: "diagonal", Text: "diagonal"},
			{ID: "opposite", Text: "opposite"},
		}))

		got, err := s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 10, Threshold: 0.8})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "same", got[0].ID)
		assert.InDelta(t, 1.0, got[0].Score, 1e-9)
		assert.Equal(t, "diagonal", got[1].ID)
		for _, d := range got {
			assert.GreaterOrEqual(t, d.Score, 0.8)
		}

		got, err = s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "same", got[0].ID)

		got, err = s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 10})
		require.NoError(t, err)
		assert.Len(t, got, 3)
		assert.Equal(t, "opposite", got[2].ID)
	})

	t.Run("ties keep insertion order", func(t *testing.T) {
		s, _ := newStore(t, map[string][]float32{"x": {1, 0}, "q": {1, 0}})
		require.NoError(t, s.Add(ctx, []models.Document{{ID: "first", Text: "x"}, {ID: "second", Text: "x"}}))
		require.NoError(t, s.Add(ctx, []models.Document{{ID: "third", Text: "x"}}))
		// replacing keeps the original slot
		require.NoError(t, s.Add(ctx, []models.Document{{ID: "first", Text: "x"}}))

		got, err := s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 10})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"first", "second", "third"}, []string{got[0].ID, got[1].ID, got[2].ID})
	})

	t.Run("metadata filter", func(t *testing.T) {
		s, _ := newStore(t, map[string][]float32{"x": {1, 0}, "q": {1, 0}})
		require.NoError(t, s.Add(ctx, []models.Document{
			{ID: "en", Text: "x", Metadata: map[string]string{"lang": "en"}},
			{ID: "de", Text: "x", Metadata: map[string]string{"lang": "de"}},
		}))

		got, err := s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 10, Filter: map[string]string{"lang": "de"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "de", got[0].ID)
	})

	t.Run("dimension mismatch writes nothing", func(t *testing.T) {
		s, _ := newStore(t, map[string][]float32{"ok": {1, 0}, "q": {1, 0}})

		err := s.Add(ctx, []models.Document{
			{ID: "good", Text: "ok"},
			{ID: "bad", Embedding: []float32{1, 0, 0}},
		})
		require.ErrorIs(t, err, types.ErrDimensionMismatch)

		got, err := s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("concurrent add delete and search", func(t *testing.T) {
		s, _ := newStore(t, map[string][]float32{"old": {1, 0}, "new": {0, 1}, "q": {1, 0}})
		const docs = 6
		seed := make([]models.Document, docs)
		for i := range seed {
			seed[i] = models.Document{ID: fmt.Sprintf("d%d", i), Text: "old", Metadata: map[string]string{"version": "old"}}
		}
		require.NoError(t, s.Add(ctx, seed))

		g, gctx := errgroup.WithContext(ctx)
		for i := range docs {
			id := fmt.Sprintf("d%d", i)
			g.Go(func() error {
				err := s.Add(gctx, []models.Document{{ID: id, Text: "new", Metadata: map[string]string{"version": "new"}}})
				if err != nil || i%2 == 1 {
					return err
				}
				return s.Delete(gctx, []string{id})
			})
		}
		for range 4 {
			g.Go(func() error {
				for range 10 {
					got, err := s.SimilaritySearch(gctx, models.SearchRequest{Query: "q", TopK: docs})
					if err != nil {
						return err
					}
					for _, d := range got {
						if d.Text != d.Metadata["version"] {
							return fmt.Errorf("document %s mixes versions: text %q, metadata %q", d.ID, d.Text, d.Metadata["version"])
						}
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		got, err := s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: docs})
		require.NoError(t, err)
		require.Len(t, got, docs/2)
		for _, d := range got {
			assert.Equal(t, "new", d.Text)
		}
	})

	t.Run("embedding failure writes nothing", func(t *testing.T) {
		s, emb := newStore(t, map[string][]float32{"q": {1, 0}})

		err := s.Add(ctx, []models.Document{{ID: "a", Text: "unknown text"}})
		require.ErrorIs(t, err, types.ErrEmbeddingProviderUnavailable)

		emb.Vectors["unknown text"] = []float32{1, 0}
		got, err := s.SimilaritySearch(ctx, models.SearchRequest{Query: "q", TopK: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
