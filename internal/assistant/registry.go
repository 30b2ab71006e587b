// ABOUTME: Registry mapping provider names to generator constructors
// ABOUTME: Built once at startup and passed to whoever needs a Generator

package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Provider names understood by NewRegistry.
const (
	ProviderNone   = "none"
	ProviderEcho   = "echo"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Options configures a provider.
type Options struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
}

func (o Options) temperature() float64 {
	if o.Temperature == nil {
		return 0.3
	}
	return *o.Temperature
}

// Factory builds a Generator. A nil Generator with a nil error means the
// provider deliberately disables AI replies.
type Factory func(ctx context.Context, opts Options) (Generator, error)

// Registry holds the known providers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry returns a registry with the built-in providers.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "assistant"),
	}
	r.Register(ProviderNone, func(context.Context, Options) (Generator, error) {
		return nil, nil
	})
	r.Register(ProviderEcho, func(context.Context, Options) (Generator, error) {
		return Echo{}, nil
	})
	r.Register(ProviderGemini, func(ctx context.Context, opts Options) (Generator, error) {
		return NewGemini(ctx, opts)
	})
	r.Register(ProviderOpenAI, func(_ context.Context, opts Options) (Generator, error) {
		return NewOpenAI(opts)
	})
	r.Register(ProviderOllama, func(_ context.Context, opts Options) (Generator, error) {
		return NewOllama(opts)
	})
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Providers lists registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the generator named by opts.Provider. An empty provider means
// none.
func (r *Registry) New(ctx context.Context, opts Options) (Generator, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Provider))
	if name == "" {
		name = ProviderNone
	}

	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown assistant provider %q (known: %s)", opts.Provider, strings.Join(r.Providers(), ", "))
	}

	gen, err := f(ctx, opts)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		r.logger.Info("AI replies disabled; only canned responses will be sent")
		return nil, nil
	}
	r.logger.Info("assistant provider ready", "provider", name, "model", opts.Model)
	return gen, nil
}
