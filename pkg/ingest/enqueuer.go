package ingest

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/creastat/llmkit/pkg/config"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
)

// Enqueuer submits vector store writes to the ingest queue
type Enqueuer struct {
	client *asynq.Client
	queue  string
	logger logger.Logger
}

// NewEnqueuer connects to the Redis instance named in settings
func NewEnqueuer(cfg config.IngestSettings, log logger.Logger) *Enqueuer {
	return &Enqueuer{
		client: asynq.NewClient(redisOpt(cfg)),
		queue:  queueName(cfg),
		logger: logger.OrNop(log),
	}
}

// AddDocuments enqueues docs for embedding and upsert. It returns the
// document IDs, including those assigned to documents that had none.
func (e *Enqueuer) AddDocuments(ctx context.Context, docs []models.Document) ([]string, error) {
	task, ids, err := NewAddDocumentsTask(docs, asynq.Queue(e.queue))
	if err != nil {
		return nil, err
	}

	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue add task: %w", err)
	}

	e.logger.Info("Add task enqueued", "task_id", info.ID, "queue", info.Queue, "documents", len(ids))
	return ids, nil
}

// DeleteDocuments enqueues removal of ids
func (e *Enqueuer) DeleteDocuments(ctx context.Context, ids []string) error {
	task, err := NewDeleteDocumentsTask(ids, asynq.Queue(e.queue))
	if err != nil {
		return err
	}

	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue delete task: %w", err)
	}

	e.logger.Info("Delete task enqueued", "task_id", info.ID, "queue", info.Queue, "documents", len(ids))
	return nil
}

// Close releases the Redis connection
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

func redisOpt(cfg config.IngestSettings) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr}
}

func queueName(cfg config.IngestSettings) string {
	if cfg.Queue == "" {
		return DefaultQueue
	}
	return cfg.Queue
}
