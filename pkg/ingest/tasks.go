// Package ingest moves vector store writes onto an asynq queue so that
// embedding large document sets happens outside the request path.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/creastat/llmkit/pkg/models"
)

// Task types
const (
	TypeAddDocuments    = "vectorstore:add"
	TypeDeleteDocuments = "vectorstore:delete"
)

// DefaultQueue is used when settings leave the queue name empty
const DefaultQueue = "default"

const defaultMaxRetry = 5

// AddDocumentsPayload is the body of a TypeAddDocuments task
type AddDocumentsPayload struct {
	Documents []models.Document `json:"documents"`
}

// DeleteDocumentsPayload is the body of a TypeDeleteDocuments task
type DeleteDocumentsPayload struct {
	IDs []string `json:"ids"`
}

// NewAddDocumentsTask builds an add task. Documents without an ID get one
// here, on a copy, so a retried task rewrites the same records instead of
// creating duplicates. The assigned IDs are returned in input order.
func NewAddDocumentsTask(docs []models.Document, opts ...asynq.Option) (*asynq.Task, []string, error) {
	if len(docs) == 0 {
		return nil, nil, fmt.Errorf("no documents to add")
	}

	payload := AddDocumentsPayload{Documents: make([]models.Document, len(docs))}
	ids := make([]string, len(docs))
	for i, d := range docs {
		d = d.Clone()
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.Score = 0
		payload.Documents[i] = d
		ids[i] = d.ID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode add payload: %w", err)
	}
	return asynq.NewTask(TypeAddDocuments, body, withDefaults(opts)...), ids, nil
}

// NewDeleteDocumentsTask builds a delete task
func NewDeleteDocumentsTask(ids []string, opts ...asynq.Option) (*asynq.Task, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no document ids to delete")
	}
	body, err := json.Marshal(DeleteDocumentsPayload{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to encode delete payload: %w", err)
	}
	return asynq.NewTask(TypeDeleteDocuments, body, withDefaults(opts)...), nil
}

// withDefaults puts the package defaults first so caller options override them
func withDefaults(opts []asynq.Option) []asynq.Option {
	return append([]asynq.Option{asynq.MaxRetry(defaultMaxRetry)}, opts...)
}
