package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/creastat/llmkit/pkg/chat"
	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/types"
)

const (
	ProviderGemini = "gemini"

	defaultGeminiChatModel      = "gemini-2.0-flash"
	defaultGeminiEmbeddingModel = "text-embedding-004"
	defaultGeminiDimensions     = 768
)

// GeminiRoles is the role table for Gemini requests. Gemini has no function
// role, and the assistant speaks as "model". System turns become the
// request's system instruction.
var GeminiRoles = func() chat.RoleMapping {
	roles := chat.DefaultRoleMapping.Without(models.RoleFunction)
	roles[models.RoleAssistant] = genai.RoleModel
	return roles
}()

// GeminiProvider implements the Provider interface for Google Gemini
type GeminiProvider struct {
	name         string
	client       *genai.Client
	config       models.ProviderConfig
	capabilities []types.Capability
	initialized  bool
	logger       logger.Logger
}

// NewGeminiProvider creates a new Gemini provider instance
func NewGeminiProvider(log logger.Logger) *GeminiProvider {
	return &GeminiProvider{
		name: ProviderGemini,
		capabilities: []types.Capability{
			types.CapabilityChat,
			types.CapabilityEmbedding,
		},
		logger: logger.OrNop(log).With("provider", ProviderGemini),
	}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *GeminiProvider) Type() models.ProviderType {
	return models.ProviderTypeGemini
}

// Capabilities returns the list of capabilities
func (p *GeminiProvider) Capabilities() []types.Capability {
	return p.capabilities
}

// Roles returns the role table chat clients must use with this provider
func (p *GeminiProvider) Roles() chat.RoleMapping {
	return GeminiRoles
}

// Initialize initializes the provider
func (p *GeminiProvider) Initialize(ctx context.Context, config models.ProviderConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}

	p.config = config

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}

	p.client = client

	if err := p.validateAPIKey(ctx); err != nil {
		return fmt.Errorf("failed to validate Gemini API key: %w", err)
	}

	p.initialized = true
	p.logger.Debug("Provider initialized", "model", p.chatModel(""))
	return nil
}

// validateAPIKey validates the API key
func (p *GeminiProvider) validateAPIKey(ctx context.Context) error {
	validateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := p.client.Models.List(validateCtx, nil)
	if err != nil {
		return fmt.Errorf("API key validation failed: %w", err)
	}

	return nil
}

// HealthCheck performs a health check
func (p *GeminiProvider) HealthCheck(ctx context.Context) error {
	if !p.initialized {
		return types.ErrProviderNotInitialized
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.Models.List(healthCtx, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

// Close closes the provider
func (p *GeminiProvider) Close() error {
	p.initialized = false
	return nil
}

// Complete implements interfaces.ChatBackend
func (p *GeminiProvider) Complete(ctx context.Context, req *models.ChatRequest) (*models.ChatCompletion, error) {
	if !p.initialized {
		return nil, types.ErrProviderNotInitialized
	}

	contents, cfg := toGenaiRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, p.chatModel(req.Model), contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}
	if resp == nil {
		return nil, nil
	}

	return fromGenaiResponse(resp, responseID(resp, "")), nil
}

// CompleteStream implements interfaces.StreamingChatBackend. The call id
// is taken from the first fragment, or generated when Gemini omits it, so
// every fragment of one call shares it.
func (p *GeminiProvider) CompleteStream(ctx context.Context, req *models.ChatRequest) (interfaces.ChunkStream, error) {
	if !p.initialized {
		return nil, types.ErrProviderNotInitialized
	}

	contents, cfg := toGenaiRequest(req)
	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(ctx, p.chatModel(req.Model), contents, cfg))
	return &geminiStream{next: next, stop: stop}, nil
}

// GenerateEmbedding implements interfaces.EmbeddingService
func (p *GeminiProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings implements interfaces.BatchEmbeddingService
func (p *GeminiProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if !p.initialized {
		return nil, types.ErrProviderNotInitialized
	}
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if dims, ok := p.config.IntOption(models.OptionDimensions); ok {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(dims))}
	}

	res, err := p.client.Models.EmbedContent(ctx, p.embeddingModel(), contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d inputs", types.ErrEmbedding, len(res.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: gemini returned an empty embedding at %d", types.ErrEmbedding, i)
		}
		out[i] = e.Values
	}
	return out, nil
}

// GetProviderInfo lists the configured chat and embedding models
func (p *GeminiProvider) GetProviderInfo() *models.ProviderInfo {
	info := models.NewProviderInfo(p.name, models.ProviderTypeGemini, slices.Clone(p.capabilities))
	info.Available = p.initialized
	info.AddModel(models.Model{ID: p.chatModel(""), Capability: models.CapabilityChat})
	info.AddModel(models.Model{ID: p.embeddingModel(), Capability: models.CapabilityEmbedding, Dimensions: p.Dimensions()})
	return info
}

// Dimensions implements interfaces.EmbeddingService
func (p *GeminiProvider) Dimensions() int {
	if dims, ok := p.config.IntOption(models.OptionDimensions); ok {
		return dims
	}
	if p.embeddingModel() == defaultGeminiEmbeddingModel {
		return defaultGeminiDimensions
	}
	return 0
}

func (p *GeminiProvider) chatModel(requested string) string {
	switch {
	case requested != "":
		return requested
	case p.config.Model != "":
		return p.config.Model
	default:
		return defaultGeminiChatModel
	}
}

func (p *GeminiProvider) embeddingModel() string {
	if model := p.config.StringOption(models.OptionEmbeddingModel); model != "" {
		return model
	}
	return defaultGeminiEmbeddingModel
}

// geminiStream adapts the SDK's push iterator to interfaces.ChunkStream.
// next and stop must never run concurrently, so Close waits for an
// in-flight Recv; cancelling the request context unblocks it.
type geminiStream struct {
	mu     sync.Mutex
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	id     string
	closed bool
}

func (s *geminiStream) Recv() (models.ChatCompletionChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed {
		resp, err, ok := s.next()
		if !ok {
			return models.ChatCompletionChunk{}, io.EOF
		}
		if err != nil {
			return models.ChatCompletionChunk{}, err
		}
		if resp == nil {
			continue
		}
		s.id = responseID(resp, s.id)
		return fromGenaiChunk(resp, s.id), nil
	}
	return models.ChatCompletionChunk{}, io.EOF
}

func (s *geminiStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.stop()
	}
	return nil
}

// responseID keeps an id already chosen for the call, else takes Gemini's,
// else makes one up
func responseID(resp *genai.GenerateContentResponse, current string) string {
	switch {
	case current != "":
		return current
	case resp.ResponseID != "":
		return resp.ResponseID
	default:
		return uuid.NewString()
	}
}

func toGenaiRequest(req *models.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{StopSequences: req.Stop}

	var system []*genai.Part
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		parts := make([]*genai.Part, 0, len(msg.Media)+1)
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, m := range msg.Media {
			if m.URI != "" {
				parts = append(parts, genai.NewPartFromURI(m.URI, m.MimeType))
			} else {
				parts = append(parts, genai.NewPartFromBytes(m.Data, m.MimeType))
			}
		}

		if msg.Role == string(models.RoleSystem) {
			system = append(system, parts...)
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.Role(msg.Role)))
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}

	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if req.PresencePenalty != nil {
		cfg.PresencePenalty = genai.Ptr(float32(*req.PresencePenalty))
	}
	if req.FrequencyPenalty != nil {
		cfg.FrequencyPenalty = genai.Ptr(float32(*req.FrequencyPenalty))
	}
	if req.N != nil {
		cfg.CandidateCount = int32(*req.N)
	}
	if len(req.Functions) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Functions))
		for i, name := range req.Functions {
			decls[i] = &genai.FunctionDeclaration{Name: name}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, cfg
}

func fromGenaiResponse(resp *genai.GenerateContentResponse, id string) *models.ChatCompletion {
	out := &models.ChatCompletion{
		ID:      id,
		Created: unixSeconds(resp.CreateTime),
		Model:   resp.ModelVersion,
		Choices: make([]models.CompletionChoice, 0, len(resp.Candidates)),
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		role, text := candidateContent(c)
		out.Choices = append(out.Choices, models.CompletionChoice{
			Index:        int(c.Index),
			Message:      models.ChunkDelta{Role: role, Content: text},
			FinishReason: finishReason(c.FinishReason),
		})
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &models.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out
}

func fromGenaiChunk(resp *genai.GenerateContentResponse, id string) models.ChatCompletionChunk {
	out := models.ChatCompletionChunk{
		ID:      id,
		Created: unixSeconds(resp.CreateTime),
		Model:   resp.ModelVersion,
		Choices: make([]models.ChunkChoice, 0, len(resp.Candidates)),
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		role, text := candidateContent(c)
		out.Choices = append(out.Choices, models.ChunkChoice{
			Index:        int(c.Index),
			Delta:        models.ChunkDelta{Role: role, Content: text},
			FinishReason: finishReason(c.FinishReason),
		})
	}
	return out
}

// candidateContent joins the text parts of a candidate; thought parts are
// dropped
func candidateContent(c *genai.Candidate) (role, text string) {
	if c.Content == nil {
		return "", ""
	}
	role = c.Content.Role
	if role == genai.RoleModel {
		role = string(models.RoleAssistant)
	}
	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return role, sb.String()
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// finishReason lowercases r; an unspecified reason means the choice is
// still open
func finishReason(r genai.FinishReason) string {
	if r == genai.FinishReasonUnspecified {
		return ""
	}
	return strings.ToLower(string(r))
}

var (
	_ interfaces.AIProvider = (*GeminiProvider)(nil)
)
