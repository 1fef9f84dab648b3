// Package vectorstore stores documents with their embeddings and answers
// k-nearest-neighbour queries over a pluggable storage backend.
package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/retry"
	"github.com/creastat/llmkit/pkg/types"
)

const defaultEmbedConcurrency = 4

// Config fixes the vector shape and metric of a store
type Config struct {
	Dimensions int
	Distance   DistanceType
}

// Store is the vector store engine
type Store struct {
	backend     Backend
	embedder    interfaces.EmbeddingService
	cfg         Config
	retry       retry.Policy
	logger      logger.Logger
	concurrency int
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRetry sets the policy wrapping calls to the embedding provider
func WithRetry(p retry.Policy) Option {
	return func(s *Store) { s.retry = p }
}

// WithEmbedConcurrency bounds parallel embedding calls for providers that
// cannot batch
func WithEmbedConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New creates a store. embedder may be nil if every added document already
// carries its embedding, but searches then fail.
func New(backend Backend, embedder interfaces.EmbeddingService, cfg Config, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("vector store backend is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector store dimensions must be positive, got %d", cfg.Dimensions)
	}
	distance, err := ParseDistance(string(cfg.Distance))
	if err != nil {
		return nil, err
	}
	cfg.Distance = distance

	s := &Store{
		backend:     backend,
		embedder:    embedder,
		cfg:         cfg,
		retry:       retry.None,
		concurrency: defaultEmbedConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNop(s.logger)
	return s, nil
}

// Config returns the store configuration
func (s *Store) Config() Config {
	return s.cfg
}

// Add upserts documents. Documents without an ID are given one, written
// back into docs. Within one call the last document with a given ID wins.
// Every embedding is computed and validated before anything is written, so
// an embedding or dimension error leaves the store untouched.
func (s *Store) Add(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
	}

	batch := dedupe(docs)

	vectors, err := s.vectorsFor(ctx, batch)
	if err != nil {
		return err
	}

	records := make([]Record, len(batch))
	for i, d := range batch {
		if len(vectors[i]) != s.cfg.Dimensions {
			return &types.DimensionMismatchError{ID: d.ID, Want: s.cfg.Dimensions, Got: len(vectors[i])}
		}
		if err := s.cfg.Distance.checkVector(d.ID, vectors[i]); err != nil {
			return err
		}
		records[i] = Record{
			ID:       d.ID,
			Vector:   slices.Clone(vectors[i]),
			Text:     d.Text,
			Metadata: maps.Clone(d.Metadata),
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.backend.Upsert(ctx, records); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}

	s.logger.Debug("documents added", "count", len(records))
	return nil
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.backend.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	s.logger.Debug("documents deleted", "count", len(ids))
	return nil
}

// SimilaritySearch returns up to TopK documents scoring at least Threshold,
// best first. Equal scores keep insertion order. No match is not an error.
func (s *Store) SimilaritySearch(ctx context.Context, req models.SearchRequest) ([]models.Document, error) {
	if req.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", types.ErrInvalidSearchRequest, req.TopK)
	}
	if math.IsNaN(req.Threshold) || req.Threshold < 0 || req.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be within [0,1], got %v", types.ErrInvalidSearchRequest, req.Threshold)
	}

	query, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if len(query) != s.cfg.Dimensions {
		return nil, &types.DimensionMismatchError{ID: "query", Want: s.cfg.Dimensions, Got: len(query)}
	}
	if err := s.cfg.Distance.checkVector("query", query); err != nil {
		return nil, err
	}

	type hit struct {
		rec   Record
		score float64
	}
	var hits []hit
	err = s.backend.Scan(ctx, func(r Record) bool {
		if len(r.Vector) != len(query) || !r.Matches(req.Filter) {
			return true
		}
		score := s.cfg.Distance.Score(query, r.Vector)
		if score >= req.Threshold {
			hits = append(hits, hit{rec: r, score: score})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan documents: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.Seq < hits[j].rec.Seq
	})
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	out := make([]models.Document, len(hits))
	for i, h := range hits {
		out[i] = models.Document{
			ID:        h.rec.ID,
			Text:      h.rec.Text,
			Metadata:  h.rec.Metadata,
			Embedding: h.rec.Vector,
			Score:     h.score,
		}
	}
	return out, nil
}

// SimilaritySearchText is SimilaritySearch with no threshold
func (s *Store) SimilaritySearchText(ctx context.Context, query string, topK int) ([]models.Document, error) {
	return s.SimilaritySearch(ctx, models.SearchRequest{Query: query, TopK: topK})
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// dedupe keeps the last document per ID at the position of the first
func dedupe(docs []models.Document) []models.Document {
	pos := make(map[string]int, len(docs))
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if i, ok := pos[d.ID]; ok {
			out[i] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}

// vectorsFor returns one vector per document, embedding those that lack one
func (s *Store) vectorsFor(ctx context.Context, docs []models.Document) ([][]float32, error) {
	vectors := make([][]float32, len(docs))
	var missing []int
	for i, d := range docs {
		if len(d.Embedding) > 0 {
			vectors[i] = d.Embedding
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", types.ErrEmbeddingProviderUnavailable)
	}

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = docs[i].Text
	}

	embedded, err := s.embedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingProviderUnavailable, err)
	}
	for j, i := range missing {
		vectors[i] = embedded[j]
	}
	return vectors, nil
}

func (s *Store) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if b, ok := s.embedder.(interfaces.BatchEmbeddingService); ok {
		var out [][]float32
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			vecs, err := b.GenerateEmbeddings(ctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), len(texts))
			}
			out = vecs
			return nil
		})
		return out, err
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			return s.retry.Do(gctx, func(ctx context.Context) error {
				vec, err := s.embedder.GenerateEmbedding(ctx, text)
				if err != nil {
					return err
				}
				out[i] = vec
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", types.ErrEmbeddingProviderUnavailable)
	}
	var vec []float32
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		v, err := s.embedder.GenerateEmbedding(ctx, query)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingProviderUnavailable, err)
	}
	return vec, nil
}

var _ interfaces.VectorStore = (*Store)(nil)
