package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/types"
)

// yandexTransport wraps an HTTP transport to add Yandex-specific headers
type yandexTransport struct {
	base     http.RoundTripper
	folderID string
}

func (t *yandexTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// OpenAI-Project is the header Yandex reads the folder id from
	req.Header.Set("OpenAI-Project", t.folderID)
	return t.base.RoundTrip(req)
}

// OpenAICompatibleProvider is a universal provider for OpenAI-compatible APIs
type OpenAICompatibleProvider struct {
	name         string
	providerType models.ProviderType
	preset       ProviderConfig
	client       *openai.Client
	config       models.ProviderConfig
	capabilities []types.Capability
	initialized  bool
	logger       logger.Logger
}

// ProviderConfig holds provider-specific configuration
type ProviderConfig struct {
	Name           string
	Type           models.ProviderType
	BaseURL        string
	Models         []models.Model
	DefaultModel   string
	EmbeddingModel string
	// SkipValidation skips the model listing done on Initialize, for APIs
	// that do not expose /models
	SkipValidation bool
}

func chatModel(id, name string, contextSize, maxTokens int) models.Model {
	return models.Model{ID: id, Name: name, Capability: models.CapabilityChat, ContextSize: contextSize, MaxTokens: maxTokens}
}

func embeddingModel(id, name string, dims int) models.Model {
	return models.Model{ID: id, Name: name, Capability: models.CapabilityEmbedding, Dimensions: dims}
}

// Built-in presets
var (
	OpenAIConfig = ProviderConfig{
		Name:           "openai",
		Type:           models.ProviderTypeOpenAI,
		BaseURL:        "https://api.openai.com/v1",
		DefaultModel:   "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Models: []models.Model{
			chatModel("gpt-4o-mini", "GPT-4o Mini", 128000, 16384),
			chatModel("gpt-4o", "GPT-4o", 128000, 16384),
			embeddingModel("text-embedding-3-small", "Text Embedding 3 Small", 1536),
			embeddingModel("text-embedding-3-large", "Text Embedding 3 Large", 3072),
		},
	}

	OpenRouterConfig = ProviderConfig{
		Name:         "openrouter",
		Type:         models.ProviderTypeOpenRouter,
		BaseURL:      "https://openrouter.ai/api/v1",
		DefaultModel: "openai/gpt-4o-mini",
		Models: []models.Model{
			chatModel("openai/gpt-4o-mini", "GPT-4o Mini", 128000, 16384),
			chatModel("anthropic/claude-3.5-sonnet", "Claude 3.5 Sonnet", 200000, 8192),
			chatModel("google/gemini-pro-1.5", "Gemini Pro 1.5", 1000000, 8192),
		},
	}

	// Yandex does not list models, so SkipValidation is set
	YandexConfig = ProviderConfig{
		Name:           "yandex",
		Type:           models.ProviderTypeYandex,
		BaseURL:        "https://llm.api.cloud.yandex.net/v1",
		DefaultModel:   "yandexgpt/latest",
		EmbeddingModel: "text-search-doc/latest",
		SkipValidation: true,
		Models: []models.Model{
			chatModel("yandexgpt/latest", "YandexGPT", 8000, 2000),
			chatModel("yandexgpt-lite/latest", "YandexGPT Lite", 8000, 2000),
			embeddingModel("text-search-doc/latest", "Text Search Doc", 256),
			embeddingModel("text-search-query/latest", "Text Search Query", 256),
		},
	}

	MinimaxLLMConfig = ProviderConfig{
		Name:         "minimax-llm",
		Type:         models.ProviderTypeMinimax,
		BaseURL:      "https://api.minimax.chat/v1",
		DefaultModel: "abab6.5s-chat",
		Models: []models.Model{
			chatModel("abab6.5s-chat", "MiniMax abab6.5s", 245760, 8192),
		},
	}
)

// Presets maps provider names to their predefined configuration
var Presets = map[string]ProviderConfig{
	OpenAIConfig.Name:     OpenAIConfig,
	OpenRouterConfig.Name: OpenRouterConfig,
	YandexConfig.Name:     YandexConfig,
	MinimaxLLMConfig.Name: MinimaxLLMConfig,
}

// NewOpenAICompatibleProvider creates a new OpenAI-compatible provider
func NewOpenAICompatibleProvider(providerConfig ProviderConfig, log logger.Logger) *OpenAICompatibleProvider {
	capabilities := []types.Capability{types.CapabilityChat}
	if providerConfig.EmbeddingModel != "" {
		capabilities = append(capabilities, types.CapabilityEmbedding)
	}
	return &OpenAICompatibleProvider{
		name:         providerConfig.Name,
		providerType: providerConfig.Type,
		preset:       providerConfig,
		capabilities: capabilities,
		logger:       logger.OrNop(log).With("provider", providerConfig.Name),
	}
}

// Name returns the provider name
func (p *OpenAICompatibleProvider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *OpenAICompatibleProvider) Type() models.ProviderType {
	return p.providerType
}

// Capabilities returns the list of capabilities
func (p *OpenAICompatibleProvider) Capabilities() []types.Capability {
	return p.capabilities
}

// Initialize initializes the provider
func (p *OpenAICompatibleProvider) Initialize(ctx context.Context, config models.ProviderConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("%s API key is required", p.name)
	}

	p.config = config

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = p.preset.BaseURL
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	var transport http.RoundTripper = http.DefaultTransport
	if folderID := p.folderID(); folderID != "" {
		transport = &yandexTransport{base: transport, folderID: folderID}
	}
	clientConfig.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}

	p.client = openai.NewClientWithConfig(clientConfig)

	if !p.preset.SkipValidation {
		if err := p.validateAPIKey(ctx); err != nil {
			return fmt.Errorf("failed to validate %s API key: %w", p.name, err)
		}
	}

	if p.embeddingModel() != "" && !p.hasCapability(types.CapabilityEmbedding) {
		p.capabilities = append(p.capabilities, types.CapabilityEmbedding)
	}

	p.initialized = true
	p.logger.Debug("Provider initialized", "base_url", clientConfig.BaseURL)
	return nil
}

// validateAPIKey validates the API key
func (p *OpenAICompatibleProvider) validateAPIKey(ctx context.Context) error {
	validateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := p.client.ListModels(validateCtx)
	if err != nil {
		return fmt.Errorf("API key validation failed: %w", err)
	}

	return nil
}

// HealthCheck performs a health check
func (p *OpenAICompatibleProvider) HealthCheck(ctx context.Context) error {
	if !p.initialized {
		return types.ErrProviderNotInitialized
	}
	if p.preset.SkipValidation {
		return nil
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.ListModels(healthCtx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

// Close closes the provider
func (p *OpenAICompatibleProvider) Close() error {
	p.initialized = false
	return nil
}

// IsInitialized returns whether the provider is initialized
func (p *OpenAICompatibleProvider) IsInitialized() bool {
	return p.initialized
}

// GetProviderInfo returns metadata about the provider
func (p *OpenAICompatibleProvider) GetProviderInfo() *models.ProviderInfo {
	info := models.NewProviderInfo(p.name, p.providerType, slices.Clone(p.capabilities))
	info.Available = p.initialized
	for _, model := range p.preset.Models {
		info.AddModel(model)
	}
	return info
}

// Complete implements interfaces.ChatBackend
func (p *OpenAICompatibleProvider) Complete(ctx context.Context, req *models.ChatRequest) (*models.ChatCompletion, error) {
	if !p.initialized {
		return nil, types.ErrProviderNotInitialized
	}

	resp, err := p.client.CreateChatCompletion(ctx, toOpenAIRequest(req, p.chatModel(req.Model), false))
	if err != nil {
		return nil, fmt.Errorf("%s chat completion failed: %w", p.name, err)
	}

	return fromOpenAIResponse(resp), nil
}

// CompleteStream implements interfaces.StreamingChatBackend
func (p *OpenAICompatibleProvider) CompleteStream(ctx context.Context, req *models.ChatRequest) (interfaces.ChunkStream, error) {
	if !p.initialized {
		return nil, types.ErrProviderNotInitialized
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, toOpenAIRequest(req, p.chatModel(req.Model), true))
	if err != nil {
		return nil, fmt.Errorf("%s failed to create stream: %w", p.name, err)
	}

	return &openAIStream{stream: stream}, nil
}

// GenerateEmbedding implements interfaces.EmbeddingService
func (p *OpenAICompatibleProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings implements interfaces.BatchEmbeddingService. Vectors
// are placed by the index the API reports, not by arrival order.
func (p *OpenAICompatibleProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if !p.initialized {
		return nil, types.ErrProviderNotInitialized
	}
	if len(texts) == 0 {
		return nil, nil
	}

	model := p.embeddingModel()
	if model == "" {
		return nil, fmt.Errorf("%w: %s has no embedding model configured", types.ErrEmbedding, p.name)
	}
	if folderID := p.folderID(); folderID != "" && !strings.Contains(model, "://") {
		// Model format: emb://<folder_id>/<model_name>
		model = fmt.Sprintf("emb://%s/%s", folderID, model)
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}
	if p.providerType == models.ProviderTypeOpenAI {
		if dims, ok := p.config.IntOption(models.OptionDimensions); ok {
			req.Dimensions = dims
		}
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s failed to create embeddings: %w", p.name, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d inputs", types.ErrEmbedding, p.name, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("%w: %s returned bad embedding index %d", types.ErrEmbedding, p.name, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimensions implements interfaces.EmbeddingService. An explicit
// "dimensions" option wins over the model catalogue; 0 means unknown.
func (p *OpenAICompatibleProvider) Dimensions() int {
	if dims, ok := p.config.IntOption(models.OptionDimensions); ok {
		return dims
	}
	model := p.embeddingModel()
	for _, m := range p.preset.Models {
		if m.ID == model {
			return m.Dimensions
		}
	}
	return 0
}

func (p *OpenAICompatibleProvider) chatModel(requested string) string {
	model := requested
	if model == "" {
		model = p.config.Model
	}
	if model == "" {
		model = p.preset.DefaultModel
	}
	if folderID := p.folderID(); folderID != "" && !strings.Contains(model, "://") {
		model = fmt.Sprintf("gpt://%s/%s", folderID, model)
	}
	return model
}

func (p *OpenAICompatibleProvider) embeddingModel() string {
	if model := p.config.StringOption(models.OptionEmbeddingModel); model != "" {
		return model
	}
	return p.preset.EmbeddingModel
}

func (p *OpenAICompatibleProvider) folderID() string {
	if p.providerType != models.ProviderTypeYandex {
		return ""
	}
	return p.config.StringOption(models.OptionFolderID)
}

func (p *OpenAICompatibleProvider) hasCapability(c types.Capability) bool {
	return slices.Contains(p.capabilities, c)
}

// openAIStream adapts a go-openai stream to interfaces.ChunkStream
type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (models.ChatCompletionChunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.ChatCompletionChunk{}, io.EOF
		}
		return models.ChatCompletionChunk{}, err
	}
	return fromOpenAIChunk(resp), nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// functionParameters is the schema sent for named functions; callers
// register callbacks by name only
var functionParameters = json.RawMessage(`{"type":"object","properties":{}}`)

func toOpenAIRequest(req *models.ChatRequest, model string, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, len(req.Messages)),
		Stop:     req.Stop,
		Stream:   stream,
	}

	for i, msg := range req.Messages {
		m := openai.ChatCompletionMessage{Role: msg.Role, Name: msg.Name}
		if len(msg.Media) == 0 {
			m.Content = msg.Content
		} else {
			m.MultiContent = multiContent(msg.Content, msg.Media)
		}
		out.Messages[i] = m
	}

	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.PresencePenalty != nil {
		out.PresencePenalty = float32(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		out.FrequencyPenalty = float32(*req.FrequencyPenalty)
	}
	if req.N != nil {
		out.N = *req.N
	}
	for _, name := range req.Functions {
		out.Tools = append(out.Tools, openai.Tool{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: name, Parameters: functionParameters},
		})
	}

	return out
}

func multiContent(text string, media []models.Media) []openai.ChatMessagePart {
	parts := make([]openai.ChatMessagePart, 0, len(media)+1)
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
	}
	for _, m := range media {
		url := m.URI
		if url == "" {
			url = "data:" + m.MimeType + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url},
		})
	}
	return parts
}

func fromOpenAIResponse(resp openai.ChatCompletionResponse) *models.ChatCompletion {
	out := &models.ChatCompletion{
		ID:      resp.ID,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: make([]models.CompletionChoice, len(resp.Choices)),
	}
	for i, c := range resp.Choices {
		out.Choices[i] = models.CompletionChoice{
			Index:        c.Index,
			Message:      models.ChunkDelta{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: string(c.FinishReason),
		}
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out
}

func fromOpenAIChunk(resp openai.ChatCompletionStreamResponse) models.ChatCompletionChunk {
	out := models.ChatCompletionChunk{
		ID:      resp.ID,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: make([]models.ChunkChoice, len(resp.Choices)),
	}
	for i, c := range resp.Choices {
		out.Choices[i] = models.ChunkChoice{
			Index:        c.Index,
			Delta:        models.ChunkDelta{Role: c.Delta.Role, Content: c.Delta.Content},
			FinishReason: string(c.FinishReason),
		}
	}
	return out
}

var (
	_ interfaces.AIProvider = (*OpenAICompatibleProvider)(nil)
)
