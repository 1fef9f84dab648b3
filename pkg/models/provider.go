package models

import (
	"slices"
	"strconv"
	"time"

	"github.com/creastat/llmkit/pkg/types"
)

// ProviderType names the API family a provider speaks
type ProviderType string

const (
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeGemini     ProviderType = "gemini"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeYandex     ProviderType = "yandex"
	ProviderTypeMinimax    ProviderType = "minimax"
)

type Capability = types.Capability

const (
	CapabilityChat      = types.CapabilityChat
	CapabilityEmbedding = types.CapabilityEmbedding
)

// Well-known ProviderConfig option keys
const (
	OptionEmbeddingModel = "embedding_model"
	OptionDimensions     = "dimensions"
	OptionFolderID       = "folder_id"
)

// ProviderConfig is what a provider needs to initialize. Options carry
// provider-specific values and may hold strings decoded from env or YAML.
type ProviderConfig struct {
	Name    string         `json:"name"`
	Type    ProviderType   `json:"type"`
	APIKey  string         `json:"api_key,omitempty"`
	BaseURL string         `json:"base_url,omitempty"`
	Model   string         `json:"model,omitempty"`
	Options map[string]any `json:"options,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty"`
	Enabled bool           `json:"enabled"`
}

// StringOption returns a string option, or "" when unset or not a string
func (c ProviderConfig) StringOption(key string) string {
	s, _ := c.Options[key].(string)
	return s
}

// IntOption returns a positive integer option. Values decoded as int,
// int64, float64 or a decimal string are accepted.
func (c ProviderConfig) IntOption(key string) (int, bool) {
	var n int
	switch v := c.Options[key].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		n = parsed
	}
	return n, n > 0
}

// Model describes one model a provider serves
type Model struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Capability  Capability `json:"capability"`
	ContextSize int        `json:"context_size,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Dimensions  int        `json:"dimensions,omitempty"`
}

// HealthStatus is the outcome of the last health check
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ProviderInfo is registry metadata about one provider
type ProviderInfo struct {
	Name         string                 `json:"name"`
	Type         ProviderType           `json:"type"`
	Capabilities []Capability           `json:"capabilities"`
	Models       map[Capability][]Model `json:"models,omitempty"`
	Available    bool                   `json:"available"`
	HealthStatus HealthStatus           `json:"health_status"`
	LastError    string                 `json:"last_error,omitempty"`
	LastChecked  time.Time              `json:"last_checked,omitempty"`
}

// NewProviderInfo creates info for a provider that has not been checked yet
func NewProviderInfo(name string, providerType ProviderType, capabilities []Capability) *ProviderInfo {
	return &ProviderInfo{
		Name:         name,
		Type:         providerType,
		Capabilities: capabilities,
		HealthStatus: HealthStatusUnknown,
	}
}

// AddModel lists model under its capability
func (pi *ProviderInfo) AddModel(model Model) {
	if pi.Models == nil {
		pi.Models = make(map[Capability][]Model)
	}
	pi.Models[model.Capability] = append(pi.Models[model.Capability], model)
}

// GetModels returns the models listed for capability
func (pi *ProviderInfo) GetModels(capability Capability) []Model {
	return pi.Models[capability]
}

func (pi *ProviderInfo) HasCapability(capability Capability) bool {
	return slices.Contains(pi.Capabilities, capability)
}

// RecordHealth stores the result of a health check; a nil err is healthy
func (pi *ProviderInfo) RecordHealth(err error, at time.Time) {
	pi.LastChecked = at
	pi.Available = err == nil
	if err != nil {
		pi.HealthStatus = HealthStatusUnhealthy
		pi.LastError = err.Error()
		return
	}
	pi.HealthStatus = HealthStatusHealthy
	pi.LastError = ""
}

// IsAvailable reports whether the provider may be handed out. A provider
// that was never checked counts as available.
func (pi *ProviderInfo) IsAvailable() bool {
	return pi.Available && pi.HealthStatus != HealthStatusUnhealthy
}

// Clone returns a deep copy
func (pi *ProviderInfo) Clone() *ProviderInfo {
	out := *pi
	out.Capabilities = slices.Clone(pi.Capabilities)
	if pi.Models != nil {
		out.Models = make(map[Capability][]Model, len(pi.Models))
		for c, ms := range pi.Models {
			out.Models[c] = slices.Clone(ms)
		}
	}
	return &out
}
