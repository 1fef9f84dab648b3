package factory

import (
	"fmt"
	"time"

	"github.com/creastat/llmkit/pkg/config"
	"github.com/creastat/llmkit/pkg/models"
)

const defaultTimeout = 60 * time.Second

// ProviderBuilder provides a fluent interface for building provider configs.
// The first failing step sticks; later steps are skipped.
type ProviderBuilder struct {
	providerType string
	config       models.ProviderConfig
	err          error
}

// NewProviderBuilder creates a new provider builder
func NewProviderBuilder(providerType string) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
		config: models.ProviderConfig{
			Name:    providerType,
			Type:    models.ProviderType(providerType),
			Timeout: defaultTimeout,
			Options: make(map[string]any),
			Enabled: true,
		},
	}
}

// WithAPIKey sets the API key for the provider
func (b *ProviderBuilder) WithAPIKey(apiKey string) *ProviderBuilder {
	if b.err != nil {
		return b
	}
	if apiKey == "" {
		b.err = fmt.Errorf("API key cannot be empty for provider %s", b.providerType)
		return b
	}
	b.config.APIKey = apiKey
	return b
}

// WithBaseURL sets the base URL for the provider API
func (b *ProviderBuilder) WithBaseURL(baseURL string) *ProviderBuilder {
	if b.err != nil {
		return b
	}
	b.config.BaseURL = baseURL
	return b
}

// WithModel sets the default model for the provider
func (b *ProviderBuilder) WithModel(model string) *ProviderBuilder {
	if b.err != nil {
		return b
	}
	b.config.Model = model
	return b
}

// WithTimeout sets the request timeout
func (b *ProviderBuilder) WithTimeout(timeout time.Duration) *ProviderBuilder {
	if b.err != nil {
		return b
	}
	if timeout <= 0 {
		b.err = fmt.Errorf("timeout must be positive")
		return b
	}
	b.config.Timeout = timeout
	return b
}

// WithOption sets a provider-specific option
func (b *ProviderBuilder) WithOption(key string, value any) *ProviderBuilder {
	if b.err != nil {
		return b
	}
	b.config.Options[key] = value
	return b
}

// WithOptions sets multiple provider-specific options
func (b *ProviderBuilder) WithOptions(options map[string]string) *ProviderBuilder {
	if b.err != nil {
		return b
	}
	for key, value := range options {
		b.config.Options[key] = value
	}
	return b
}

// GetConfig returns the built provider configuration
func (b *ProviderBuilder) GetConfig() (models.ProviderConfig, error) {
	if b.err != nil {
		return models.ProviderConfig{}, b.err
	}
	if err := ValidateProviderConfig(b.config); err != nil {
		return models.ProviderConfig{}, err
	}
	return b.config, nil
}

// ChatConfig builds the provider config for the chat section of settings
func ChatConfig(s config.ChatSettings) (models.ProviderConfig, error) {
	return NewProviderBuilder(s.Provider).
		WithAPIKey(s.APIKey).
		WithBaseURL(s.BaseURL).
		WithModel(s.Model).
		WithOptions(s.Options).
		GetConfig()
}

// EmbeddingConfig builds the provider config for the embedding section of
// settings. The embedding model travels as an option so one provider can
// serve chat and embeddings with different models.
func EmbeddingConfig(s config.EmbeddingSettings) (models.ProviderConfig, error) {
	b := NewProviderBuilder(s.Provider).
		WithAPIKey(s.APIKey).
		WithBaseURL(s.BaseURL).
		WithOptions(s.Options)
	if s.Model != "" {
		b = b.WithOption(models.OptionEmbeddingModel, s.Model)
	}
	return b.GetConfig()
}

// MergeConfigs combines two configs for the same provider; fields set in
// extra fill gaps in base and extra options are added
func MergeConfigs(base, extra models.ProviderConfig) models.ProviderConfig {
	out := base
	if out.APIKey == "" {
		out.APIKey = extra.APIKey
	}
	if out.BaseURL == "" {
		out.BaseURL = extra.BaseURL
	}
	if out.Model == "" {
		out.Model = extra.Model
	}
	out.Options = make(map[string]any, len(base.Options)+len(extra.Options))
	for k, v := range extra.Options {
		out.Options[k] = v
	}
	for k, v := range base.Options {
		out.Options[k] = v
	}
	return out
}

// ValidateProviderConfig validates a provider configuration
func ValidateProviderConfig(cfg models.ProviderConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("provider name is required")
	}

	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required for provider %s", cfg.Name)
	}

	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive for provider %s", cfg.Name)
	}

	return nil
}
