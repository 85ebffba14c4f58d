package strategy

import (
	"fmt"
	"sync"

	"github.com/farreach/jobingest/internal/jobs"
)

// Factory builds a strategy from shared dependencies.
type Factory func(Deps) Strategy

// Registry resolves a source's configured strategy kind to an
// implementation. Compiled-in custom strategies register under a name.
type Registry struct {
	deps   Deps
	mu     sync.RWMutex
	custom map[string]Factory
}

// NewRegistry builds a registry around the shared dependencies.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:   deps,
		custom: make(map[string]Factory),
	}
}

// RegisterCustom installs a compiled-in strategy under a name referenced by
// sources with the custom kind.
func (r *Registry) RegisterCustom(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[name] = factory
}

// ForSource returns the strategy for a source's configured kind. An unknown
// kind or unregistered custom name is a configuration error.
func (r *Registry) ForSource(src jobs.SourceConfig) (Strategy, error) {
	switch src.Strategy {
	case jobs.StrategySelector:
		return NewSelector(r.deps), nil
	case jobs.StrategySitemap:
		return NewSitemap(r.deps), nil
	case jobs.StrategyWorkday:
		return NewWorkday(r.deps), nil
	case jobs.StrategyUltiPro:
		return NewUltiPro(r.deps), nil
	case jobs.StrategyADP:
		return NewADP(r.deps), nil
	case jobs.StrategyScript:
		return NewScript(r.deps), nil
	case jobs.StrategyCustom:
		r.mu.RLock()
		factory, ok := r.custom[src.CustomName]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no custom strategy registered under %q for %s", src.CustomName, src.Name)
		}
		return factory(r.deps), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q for %s", src.Strategy, src.Name)
	}
}
