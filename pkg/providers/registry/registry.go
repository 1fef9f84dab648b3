package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/creastat/llmkit/pkg/interfaces"
	"github.com/creastat/llmkit/pkg/models"
	"github.com/creastat/llmkit/pkg/types"
)

// ProviderRegistry tracks opened providers by name and capability
type ProviderRegistry interface {
	// Register adds a provider. Names must be unique.
	Register(provider interfaces.Provider) error

	// Get returns the named provider if it serves capability and did not
	// fail its last health check
	Get(name string, capability types.Capability) (interfaces.Provider, error)

	// List returns the providers serving capability in registration order
	List(capability types.Capability) []interfaces.Provider

	// Unregister closes and removes a provider from the registry
	Unregister(name string) error

	// GetProviderInfo returns a copy of the provider's metadata
	GetProviderInfo(name string) (*models.ProviderInfo, error)

	// ListAll returns all registered providers sorted by name
	ListAll() []interfaces.Provider

	// HealthCheck checks every provider concurrently and records the results
	HealthCheck(ctx context.Context) map[string]error

	// GetAvailableProviders is List without the providers that failed
	// their last health check
	GetAvailableProviders(capability types.Capability) []interfaces.Provider

	// Close closes every registered provider and empties the registry
	Close() error
}

// describer is implemented by providers that can list the models they serve
type describer interface {
	GetProviderInfo() *models.ProviderInfo
}

type entry struct {
	provider interfaces.Provider
	info     *models.ProviderInfo
}

type providerRegistry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	// byCapability keeps provider names in registration order
	byCapability map[types.Capability][]string
}

// NewProviderRegistry returns an empty registry
func NewProviderRegistry() ProviderRegistry {
	return &providerRegistry{
		entries:      make(map[string]*entry),
		byCapability: make(map[types.Capability][]string),
	}
}

func (r *providerRegistry) Register(provider interfaces.Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}
	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	caps := provider.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("provider %s must support at least one capability", name)
	}
	if i := slices.IndexFunc(caps, func(c types.Capability) bool { return !c.Valid() }); i >= 0 {
		return fmt.Errorf("provider %s declares invalid capability %q", name, caps[i])
	}

	info := describe(provider, name, caps)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("provider %s is already registered", name)
	}
	r.entries[name] = &entry{provider: provider, info: info}
	for _, c := range caps {
		r.byCapability[c] = append(r.byCapability[c], name)
	}
	return nil
}

// describe builds the initial metadata, copying the model list from
// providers that publish one
func describe(provider interfaces.Provider, name string, caps []types.Capability) *models.ProviderInfo {
	info := models.NewProviderInfo(name, provider.Type(), slices.Clone(caps))
	info.Available = true

	d, ok := provider.(describer)
	if !ok {
		return info
	}
	published := d.GetProviderInfo()
	if published == nil {
		return info
	}
	for _, c := range published.Capabilities {
		for _, m := range published.GetModels(c) {
			info.AddModel(m)
		}
	}
	return info
}

func (r *providerRegistry) Get(name string, capability types.Capability) (interfaces.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	switch {
	case !ok:
		return nil, fmt.Errorf("provider %s not found", name)
	case !e.info.HasCapability(capability):
		return nil, fmt.Errorf("provider %s does not support capability %s", name, capability)
	case !e.info.IsAvailable():
		return nil, fmt.Errorf("provider %s is currently unhealthy: %s", name, e.info.LastError)
	}
	return e.provider, nil
}

func (r *providerRegistry) List(capability types.Capability) []interfaces.Provider {
	return r.collect(capability, func(*entry) bool { return true })
}

func (r *providerRegistry) GetAvailableProviders(capability types.Capability) []interfaces.Provider {
	return r.collect(capability, func(e *entry) bool { return e.info.IsAvailable() })
}

func (r *providerRegistry) collect(capability types.Capability, keep func(*entry) bool) []interfaces.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Provider, 0, len(r.byCapability[capability]))
	for _, name := range r.byCapability[capability] {
		if e, ok := r.entries[name]; ok && keep(e) {
			out = append(out, e.provider)
		}
	}
	return out
}

// Unregister leaves the provider registered when Close fails
func (r *providerRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("provider %s not found", name)
	}
	if err := e.provider.Close(); err != nil {
		return fmt.Errorf("failed to close provider %s: %w", name, err)
	}
	r.drop(name)
	return nil
}

func (r *providerRegistry) GetProviderInfo(name string) (*models.ProviderInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return e.info.Clone(), nil
}

func (r *providerRegistry) ListAll() []interfaces.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Provider, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.provider)
	}
	slices.SortFunc(out, func(a, b interfaces.Provider) int { return cmp.Compare(a.Name(), b.Name()) })
	return out
}

func (r *providerRegistry) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]interfaces.Provider, len(r.entries))
	for name, e := range r.entries {
		snapshot[name] = e.provider
	}
	r.mu.RUnlock()

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make(map[string]error, len(snapshot))
	)
	for name, provider := range snapshot {
		g.Go(func() error {
			err := provider.HealthCheck(ctx)

			mu.Lock()
			results[name] = err
			mu.Unlock()

			r.record(name, provider, err)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// record stores a health result unless the provider was replaced or
// removed while the check ran
func (r *providerRegistry) record(name string, provider interfaces.Provider, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok && e.provider == provider {
		e.info.RecordHealth(err, time.Now())
	}
}

// Close closes every provider even when some fail and joins their errors
func (r *providerRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, e := range r.entries {
		if err := e.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %s: %w", name, err))
		}
		r.drop(name)
	}
	return errors.Join(errs...)
}

// drop forgets a provider; callers hold the write lock
func (r *providerRegistry) drop(name string) {
	e := r.entries[name]
	delete(r.entries, name)
	for _, c := range e.info.Capabilities {
		names := slices.DeleteFunc(r.byCapability[c], func(n string) bool { return n == name })
		if len(names) == 0 {
			delete(r.byCapability, c)
			continue
		}
		r.byCapability[c] = names
	}
}
