package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/creastat/llmkit/pkg/config"
	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/types"
)

// Handler applies ingest tasks to a vector store
type Handler struct {
	store  interfaces.VectorStore
	logger logger.Logger
}

// NewHandler creates a handler writing to store
func NewHandler(store interfaces.VectorStore, log logger.Logger) *Handler {
	return &Handler{store: store, logger: logger.OrNop(log)}
}

// Register binds the handler to every ingest task type on mux
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeAddDocuments, h.handleAdd)
	mux.HandleFunc(TypeDeleteDocuments, h.handleDelete)
}

// ProcessTask implements asynq.Handler. Malformed payloads and permanent
// store errors skip retry; embedding and backend failures are retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	switch t.Type() {
	case TypeAddDocuments:
		return h.handleAdd(ctx, t)
	case TypeDeleteDocuments:
		return h.handleDelete(ctx, t)
	default:
		return fmt.Errorf("unknown task type %q: %w", t.Type(), asynq.SkipRetry)
	}
}

func (h *Handler) handleAdd(ctx context.Context, t *asynq.Task) error {
	var p AddDocumentsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad add payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(p.Documents) == 0 {
		return nil
	}

	if err := h.store.Add(ctx, p.Documents); err != nil {
		return h.classify("add", err)
	}

	h.logger.Info("Documents ingested", "count", len(p.Documents))
	return nil
}

func (h *Handler) handleDelete(ctx context.Context, t *asynq.Task) error {
	var p DeleteDocumentsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad delete payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.store.Delete(ctx, p.IDs); err != nil {
		return h.classify("delete", err)
	}

	h.logger.Info("Documents deleted", "count", len(p.IDs))
	return nil
}

func (h *Handler) classify(op string, err error) error {
	if types.IsPermanent(err) {
		h.logger.Error("Ingest task failed permanently", "op", op, "error", err)
		return fmt.Errorf("%s failed: %v: %w", op, err, asynq.SkipRetry)
	}
	h.logger.Warn("Ingest task failed, will retry", "op", op, "error", err)
	return fmt.Errorf("%s failed: %w", op, err)
}

// NewServer builds an asynq server consuming the configured queue
func NewServer(cfg config.IngestSettings, log logger.Logger) *asynq.Server {
	log = logger.OrNop(log)
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName(cfg): 1},
		Logger:      logger.NewAsynqLoggerAdapter(log),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Error("Ingest task error", "type", task.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
		}),
	})
}

// Run serves h on srv until ctx is cancelled, then shuts the server down
func Run(ctx context.Context, srv *asynq.Server, h *Handler) error {
	mux := asynq.NewServeMux()
	h.Register(mux)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start ingest worker: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}
