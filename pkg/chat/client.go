package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/retry"
)

// ErrStreamingNotSupported is returned by Stream when the backend can only
// produce whole completions.
var ErrStreamingNotSupported = errors.New("backend does not support streaming")

// Client is the provider-agnostic chat entry point
type Client struct {
	backend   interfaces.ChatBackend
	defaults  models.ChatOptions
	roles     RoleMapping
	retry     retry.Policy
	assembler *Assembler
	tokens    *TokenCounter
	logger    logger.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithDefaultOptions sets options applied to every call unless overridden
func WithDefaultOptions(opts models.ChatOptions) ClientOption {
	return func(c *Client) { c.defaults = opts }
}

// WithRoleMapping restricts or renames the roles sent to the backend
func WithRoleMapping(roles RoleMapping) ClientOption {
	return func(c *Client) { c.roles = roles }
}

// WithRetry sets the policy wrapping backend calls
func WithRetry(p retry.Policy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the client logger
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithTokenCounter enables debug logging of prompt token estimates
func WithTokenCounter(tc *TokenCounter) ClientOption {
	return func(c *Client) { c.tokens = tc }
}

// NewClient creates a chat client over backend
func NewClient(backend interfaces.ChatBackend, opts ...ClientOption) *Client {
	c := &Client{
		backend: backend,
		roles:   DefaultRoleMapping,
		retry:   retry.None,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrNop(c.logger)
	c.assembler = NewAssembler(c.logger)
	return c
}

// Call sends prompt and waits for the whole completion. Request errors are
// returned before the backend is contacted. An empty backend reply yields a
// response with no results, not an error.
func (c *Client) Call(ctx context.Context, prompt models.Prompt) (*models.ChatResponse, error) {
	req, err := BuildRequest(prompt, c.defaults, c.roles, false)
	if err != nil {
		return nil, err
	}
	c.logPromptTokens(req)

	var completion *models.ChatCompletion
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		completion, err = c.backend.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if completion == nil {
		c.logger.Warn("no chat completion returned", "model", req.Model, "messages", len(req.Messages))
		return &models.ChatResponse{Results: []models.Generation{}}, nil
	}
	return fromCompletion(completion), nil
}

// CallText sends a single user message
func (c *Client) CallText(ctx context.Context, text string) (*models.ChatResponse, error) {
	return c.Call(ctx, models.NewPrompt(models.UserMessage(text)))
}

// Stream sends prompt and returns responses as fragments arrive. The retry
// policy covers opening the stream only; fragments are never replayed.
func (c *Client) Stream(ctx context.Context, prompt models.Prompt) (<-chan models.ChatResponse, <-chan error) {
	req, err := BuildRequest(prompt, c.defaults, c.roles, true)
	if err != nil {
		return failed(err)
	}

	sb, ok := c.backend.(interfaces.StreamingChatBackend)
	if !ok {
		return failed(ErrStreamingNotSupported)
	}
	c.logPromptTokens(req)

	var stream interfaces.ChunkStream
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		s, err := sb.CompleteStream(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return failed(fmt.Errorf("failed to create stream: %w", err))
	}

	return c.assembler.Assemble(ctx, stream)
}

func (c *Client) logPromptTokens(req *models.ChatRequest) {
	if c.tokens == nil {
		return
	}
	c.logger.Debug("prompt token estimate", "model", req.Model, "tokens", c.tokens.CountRequest(req))
}

func fromCompletion(completion *models.ChatCompletion) *models.ChatResponse {
	resp := &models.ChatResponse{ID: completion.ID, Results: make([]models.Generation, 0, len(completion.Choices))}
	for _, choice := range completion.Choices {
		meta := map[string]any{models.MetadataID: completion.ID}
		if choice.Message.Role != "" {
			meta[models.MetadataRole] = choice.Message.Role
		}
		if choice.FinishReason != "" {
			meta[models.MetadataFinishReason] = choice.FinishReason
		}
		resp.Results = append(resp.Results, models.Generation{
			ID:           completion.ID,
			Index:        choice.Index,
			Role:         models.Role(choice.Message.Role),
			Content:      choice.Message.Content,
			Completed:    true,
			FinishReason: choice.FinishReason,
			Metadata:     meta,
			GenerationMetadata: &models.ChatGenerationMetadata{
				FinishReason: choice.FinishReason,
				Usage:        completion.Usage,
			},
		})
	}
	return resp
}

func failed(err error) (<-chan models.ChatResponse, <-chan error) {
	out := make(chan models.ChatResponse)
	errChan := make(chan error, 1)
	errChan <- err
	close(out)
	close(errChan)
	return out, errChan
}
