package interfaces

import (
	"context"

	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/types"
)

// BaseProvider defines common methods for all providers
type BaseProvider interface {
	Name() string
	Type() models.ProviderType
	Capabilities() []types.Capability
	Initialize(ctx context.Context, config models.ProviderConfig) error
	Close() error
	HealthCheck(ctx context.Context) error
}

// Provider is an alias for BaseProvider for backward compatibility
type Provider = BaseProvider

// AIProvider defines interface for providers that serve both chat and embeddings
type AIProvider interface {
	BaseProvider
	StreamingChatBackend
	BatchEmbeddingService
}

// ChatBackend performs a whole (non-streamed) chat completion.
// A nil completion with a nil error means the backend returned no body.
type ChatBackend interface {
	Complete(ctx context.Context, req *models.ChatRequest) (*models.ChatCompletion, error)
}

// StreamingChatBackend can also stream a completion as fragments
type StreamingChatBackend interface {
	ChatBackend
	CompleteStream(ctx context.Context, req *models.ChatRequest) (ChunkStream, error)
}

// ChunkStream is a finite, ordered sequence of completion fragments.
// Recv returns io.EOF once the sequence is exhausted. Close releases the
// underlying connection and may be called at any time.
type ChunkStream interface {
	Recv() (models.ChatCompletionChunk, error)
	Close() error
}

// EmbeddingService provides embedding generation functionality
type EmbeddingService interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// BatchEmbeddingService embeds many texts in one call. The result is index
// aligned with texts.
type BatchEmbeddingService interface {
	EmbeddingService
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore stores documents and answers nearest-neighbour queries
type VectorStore interface {
	Add(ctx context.Context, docs []models.Document) error
	Delete(ctx context.Context, ids []string) error
	SimilaritySearch(ctx context.Context, req models.SearchRequest) ([]models.Document, error)
}
