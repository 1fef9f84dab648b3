package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/creastat/llmkit/pkg/chat"
	"github.com/creastat/llmkit/pkg/config"
	"github.com/creastat/llmkit/pkg/embedding"
	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/logger"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/providers/factory"
	"github.com/creastat/llmkit/pkg/providers/llm"
	"github.com/creastat/llmkit/pkg/providers/registry"
	"github.com/creastat/llmkit/pkg/retry"
	"github.com/creastat/llmkit/pkg/vectorstore"
	"github.com/creastat/llmkit/pkg/vectorstore/redisstore"
	"github.com/creastat/llmkit/pkg/vectorstore/sqlite"
	"github.com/creastat/llmkit/pkg/vectorstore/supabase"
)

// app owns everything a command needs. Components are built on first use
// so that, for example, search never opens the chat provider.
type app struct {
	settings *config.Settings
	logger   logger.Logger
	registry registry.ProviderRegistry
	factory  *factory.ProviderFactory

	// Preset by tests to bypass provider and backend construction
	chatBackend interfaces.ChatBackend
	embedder    interfaces.EmbeddingService
	backend     vectorstore.Backend

	chat  *chat.Client
	store *vectorstore.Store
}

func newApp(settings *config.Settings, log logger.Logger) *app {
	reg := registry.NewProviderRegistry()
	return &app{
		settings: settings,
		logger:   log,
		registry: reg,
		factory:  factory.NewProviderFactory(reg, log),
	}
}

// retryPolicy wraps backoff in a circuit breaker named after the component
func (a *app) retryPolicy(name string) retry.Policy {
	s := a.settings.Retry
	backoff := retry.NewBackoff(retry.Config{
		MaxAttempts:     s.MaxAttempts,
		InitialInterval: s.InitialInterval,
		MaxInterval:     s.MaxInterval,
		Classify:        llm.IsPermanent,
	}, a.logger)
	return retry.NewCircuitBreaker(backoff, retry.BreakerConfig{
		Name:        name,
		MaxFailures: s.BreakerFailures,
		Timeout:     s.BreakerTimeout,
	}, a.logger)
}

func (a *app) chatClient(ctx context.Context) (*chat.Client, error) {
	if a.chat != nil {
		return a.chat, nil
	}

	roles := chat.DefaultRoleMapping
	backend := a.chatBackend
	if backend == nil {
		cfg, err := factory.ChatConfig(a.settings.Chat)
		if err != nil {
			return nil, fmt.Errorf("invalid chat settings: %w", err)
		}
		cfg = a.withEmbeddingConfig(cfg)

		provider, err := a.factory.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if backend, err = a.factory.ChatBackend(cfg.Name); err != nil {
			return nil, err
		}
		if g, ok := provider.(*llm.GeminiProvider); ok {
			roles = g.Roles()
		}
	}

	a.chat = chat.NewClient(backend,
		chat.WithDefaultOptions(chatDefaults(a.settings.Chat)),
		chat.WithRoleMapping(roles),
		chat.WithRetry(a.retryPolicy("chat")),
		chat.WithTokenCounter(chat.NewTokenCounter()),
		chat.WithLogger(a.logger.With("component", "chat")),
	)
	return a.chat, nil
}

// withEmbeddingConfig folds the embedding section into cfg when both
// sections name the same provider, since a provider is opened only once.
func (a *app) withEmbeddingConfig(cfg models.ProviderConfig) models.ProviderConfig {
	if a.settings.Embedding.Provider != cfg.Name {
		return cfg
	}
	embCfg, err := factory.EmbeddingConfig(a.settings.Embedding)
	if err != nil {
		return cfg
	}
	return factory.MergeConfigs(cfg, embCfg)
}

func chatDefaults(s config.ChatSettings) models.ChatOptions {
	var opts models.ChatOptions
	if s.Model != "" {
		opts = opts.WithModel(s.Model)
	}
	if s.Temperature != nil {
		opts = opts.WithTemperature(*s.Temperature)
	}
	if s.TopP != nil {
		opts = opts.WithTopP(*s.TopP)
	}
	if s.MaxTokens > 0 {
		opts = opts.WithMaxTokens(s.MaxTokens)
	}
	return opts
}

func (a *app) embeddingService(ctx context.Context) (interfaces.EmbeddingService, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}

	s := a.settings.Embedding
	cfg, err := factory.EmbeddingConfig(s)
	if err != nil {
		return nil, fmt.Errorf("invalid embedding settings: %w", err)
	}
	if a.settings.Chat.Provider == s.Provider {
		if chatCfg, err := factory.ChatConfig(a.settings.Chat); err == nil {
			cfg = factory.MergeConfigs(chatCfg, cfg)
		}
	}
	if _, err := a.factory.Open(ctx, cfg); err != nil {
		return nil, err
	}

	var svc interfaces.EmbeddingService
	if svc, err = a.factory.EmbeddingService(cfg.Name); err != nil {
		return nil, err
	}
	if s.RateLimit > 0 {
		svc = embedding.NewRateLimited(svc, s.RateLimit, s.RateBurst)
	}
	if s.CacheSize > 0 {
		if svc, err = embedding.NewCached(svc, s.CacheSize); err != nil {
			return nil, err
		}
	}
	a.embedder = svc
	return svc, nil
}

func (a *app) storageBackend(ctx context.Context) (vectorstore.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}

	s := a.settings.VectorStore
	var (
		backend vectorstore.Backend
		err     error
	)
	switch s.Backend {
	case "memory":
		backend = vectorstore.NewMemoryBackend()
	case "sqlite":
		backend, err = sqlite.Open(s.SQLitePath)
	case "redis":
		backend, err = redisstore.New(ctx, redisstore.Config{
			Addr:      s.Redis.Addr,
			Password:  s.Redis.Password,
			DB:        s.Redis.DB,
			KeyPrefix: s.Redis.KeyPrefix,
		})
	case "supabase":
		backend, err = supabase.New(supabase.Config{
			URL:    s.Supabase.URL,
			APIKey: s.Supabase.APIKey,
			Table:  s.Supabase.Table,
			Logger: a.logger,
		})
	default:
		err = fmt.Errorf("unknown vector store backend %q", s.Backend)
	}
	if err != nil {
		return nil, err
	}
	a.backend = backend
	return backend, nil
}

func (a *app) vectorStore(ctx context.Context) (*vectorstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	backend, err := a.storageBackend(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.embeddingService(ctx)
	if err != nil {
		return nil, err
	}
	distance, err := vectorstore.ParseDistance(a.settings.VectorStore.Distance)
	if err != nil {
		return nil, err
	}

	a.store, err = vectorstore.New(backend, embedder,
		vectorstore.Config{Dimensions: a.settings.VectorStore.Dimensions, Distance: distance},
		vectorstore.WithRetry(a.retryPolicy("embedding")),
		vectorstore.WithLogger(a.logger.With("component", "vectorstore")),
	)
	if err != nil {
		return nil, err
	}
	return a.store, nil
}

// close releases the store, then every opened provider
func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	} else if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	errs = append(errs, a.registry.Close())
	return errors.Join(errs...)
}
