package adapters

import (
	"strings"

	"github.com/smallbiznis/supplyrail/internal/providers/invoicing"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing/noop"
	"github.com/smallbiznis/supplyrail/internal/providers/invoicing/rest"
)

type Registry struct {
	factories map[string]invoicing.Factory
}

func NewRegistry(factories ...invoicing.Factory) *Registry {
	registry := &Registry{factories: map[string]invoicing.Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// DefaultRegistry knows every built-in adapter.
func DefaultRegistry() *Registry {
	return NewRegistry(rest.NewFactory(), noop.NewFactory())
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) NewGateway(provider string, cfg invoicing.Config) (invoicing.Gateway, error) {
	if r == nil {
		return nil, invoicing.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, invoicing.ErrProviderNotFound
	}
	return factory.NewGateway(cfg)
}
