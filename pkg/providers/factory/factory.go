// Package factory builds, initializes and registers chat and embedding
// providers by name, and hands out their typed service views.
package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/providers/llm"
	"github.com/creastat/llmkit/pkg/providers/registry"
	"github.com/creastat/llmkit/pkg/types"
)

// Constructor returns an uninitialized provider
type Constructor func(log logger.Logger) interfaces.AIProvider

// Constructors lists every provider this module can build, by name
var Constructors = func() map[string]Constructor {
	out := map[string]Constructor{
		llm.ProviderGemini: func(log logger.Logger) interfaces.AIProvider {
			return llm.NewGeminiProvider(log)
		},
	}
	for name, preset := range llm.Presets {
		out[name] = func(log logger.Logger) interfaces.AIProvider {
			return llm.NewOpenAICompatibleProvider(preset, log)
		}
	}
	return out
}()

// Names returns the known provider names sorted
func Names() []string {
	names := make([]string, 0, len(Constructors))
	for name := range Constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderFactory opens providers into a registry once and reuses them
type ProviderFactory struct {
	registry registry.ProviderRegistry
	logger   logger.Logger

	// Initialization tracking to prevent concurrent initialization
	initLocks   map[string]*sync.Mutex
	initLocksMu sync.Mutex
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(reg registry.ProviderRegistry, log logger.Logger) *ProviderFactory {
	return &ProviderFactory{
		registry:  reg,
		logger:    logger.OrNop(log),
		initLocks: make(map[string]*sync.Mutex),
	}
}

// Open returns the registered provider named cfg.Name, building and
// initializing it first if needed. A provider that fails to register is
// closed again.
func (f *ProviderFactory) Open(ctx context.Context, cfg models.ProviderConfig) (interfaces.AIProvider, error) {
	lock := f.getInitLock(cfg.Name)
	lock.Lock()
	defer lock.Unlock()

	if info, err := f.registry.GetProviderInfo(cfg.Name); err == nil {
		// registered providers always carry at least one capability
		p, err := f.registry.Get(cfg.Name, info.Capabilities[0])
		if err != nil {
			return nil, err
		}
		return asAIProvider(p)
	}

	construct, ok := Constructors[cfg.Name]
	if !ok {
		return nil, NewProviderInitializationError(cfg.Name, "", fmt.Errorf("unknown provider (known: %v)", Names()))
	}

	provider := construct(f.logger)
	if err := provider.Initialize(ctx, cfg); err != nil {
		return nil, NewProviderInitializationError(cfg.Name, "", err)
	}

	if err := f.registry.Register(provider); err != nil {
		_ = provider.Close()
		return nil, NewProviderInitializationError(cfg.Name, "", err)
	}

	f.logger.Info("Provider opened", "provider", cfg.Name, "capabilities", provider.Capabilities())
	return provider, nil
}

// ChatBackend returns the registered provider name as a streaming chat backend
func (f *ProviderFactory) ChatBackend(name string) (interfaces.StreamingChatBackend, error) {
	provider, err := f.registry.Get(name, types.CapabilityChat)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat provider %s: %w", name, err)
	}

	backend, ok := provider.(interfaces.StreamingChatBackend)
	if !ok {
		return nil, fmt.Errorf("provider %s does not implement StreamingChatBackend interface", name)
	}
	return backend, nil
}

// EmbeddingService returns the registered provider name as a batch embedder
func (f *ProviderFactory) EmbeddingService(name string) (interfaces.BatchEmbeddingService, error) {
	provider, err := f.registry.Get(name, types.CapabilityEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding provider %s: %w", name, err)
	}

	service, ok := provider.(interfaces.BatchEmbeddingService)
	if !ok {
		return nil, fmt.Errorf("provider %s does not implement BatchEmbeddingService interface", name)
	}
	return service, nil
}

// getInitLock gets or creates a mutex for provider initialization
func (f *ProviderFactory) getInitLock(providerName string) *sync.Mutex {
	f.initLocksMu.Lock()
	defer f.initLocksMu.Unlock()

	if lock, exists := f.initLocks[providerName]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	f.initLocks[providerName] = lock
	return lock
}

func asAIProvider(p interfaces.Provider) (interfaces.AIProvider, error) {
	ai, ok := p.(interfaces.AIProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s does not implement AIProvider interface", p.Name())
	}
	return ai, nil
}

// ProviderInitializationError represents an error during provider initialization
type ProviderInitializationError struct {
	ProviderName string
	Capability   types.Capability
	Cause        error
	Timestamp    time.Time
}

// Error implements the error interface
func (e *ProviderInitializationError) Error() string {
	if e.Capability == "" {
		return fmt.Sprintf("failed to initialize provider %s: %v", e.ProviderName, e.Cause)
	}
	return fmt.Sprintf("failed to initialize provider %s for capability %s: %v",
		e.ProviderName, e.Capability, e.Cause)
}

// Unwrap returns the underlying error
func (e *ProviderInitializationError) Unwrap() error {
	return e.Cause
}

// NewProviderInitializationError creates a new provider initialization error
func NewProviderInitializationError(providerName string, capability types.Capability, cause error) *ProviderInitializationError {
	return &ProviderInitializationError{
		ProviderName: providerName,
		Capability:   capability,
		Cause:        cause,
		Timestamp:    time.Now(),
	}
}
