package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conduit/internal/config"
	"conduit/internal/domain"
)

// Constructor creates a provider from a config entry.
type Constructor func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches model providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in kinds registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) the constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			Name:    name,
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.DefaultModel,
			Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
			Logger:  logger,
		})
	}
	f.constructors["anthropic"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewAnthropic(AnthropicConfig{
			Name:    name,
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.DefaultModel,
			Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
			Logger:  logger,
		})
	}
}

// Get returns the provider with the given name, or agent.provider if name is
// empty. Created providers are cached.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.Agent.Provider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	ctor, ok := f.constructors[pc.Kind]
	if !ok {
		return nil, fmt.Errorf("provider %s: unsupported kind %q", name, pc.Kind)
	}
	p := ctor(name, pc, f.logger.With("provider", name))
	f.cache[name] = p
	return p, nil
}

// Primary returns agent.provider, wrapped in a FailoverProvider when
// agent.failoverChain names further providers.
func (f *Factory) Primary() (domain.Provider, error) {
	primary, err := f.Get("")
	if err != nil {
		return nil, err
	}
	chain := []domain.Provider{primary}
	for _, name := range f.cfg.Agent.FailoverChain {
		if name == f.cfg.Agent.Provider {
			continue
		}
		p, err := f.Get(name)
		if err != nil {
			return nil, fmt.Errorf("failover chain: %w", err)
		}
		chain = append(chain, p)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}
