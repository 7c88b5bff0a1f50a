package backend

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/af-corp/kinsafe/internal/config"
)

// Registry manages backend drivers by configured name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Names lists registered backends in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	return names
}

// Swap replaces the registered drivers with those of other.
func (r *Registry) Swap(other *Registry) {
	other.mu.RLock()
	next := make(map[string]Backend, len(other.backends))
	for k, v := range other.backends {
		next[k] = v
	}
	other.mu.RUnlock()

	r.mu.Lock()
	r.backends = next
	r.mu.Unlock()
}

// BuildFromConfig builds backend drivers from the backends config.
func BuildFromConfig(cfg *config.BackendsConfig) *Registry {
	registry := NewRegistry()
	for name, bc := range cfg.Backends {
		client := &http.Client{
			Timeout: bc.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        bc.MaxConcurrent,
				MaxIdleConnsPerHost: bc.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		switch bc.Type {
		case "openai":
			registry.Register(NewOpenAIBackend(name, bc, client))
		case "anthropic":
			registry.Register(NewAnthropicBackend(name, bc, client))
		default:
			// Local model servers speak the Ollama API.
			registry.Register(NewOllamaBackend(name, bc, client))
		}
	}
	return registry
}

// Route is a resolved backend call target.
type Route struct {
	Version string
	Backend Backend
	Model   string
}

// Resolve picks the backend for a model version. Unknown versions use the
// configured default. Backends whose circuit is open are skipped; when
// every route is skipped the error wraps ErrNoBackend.
func Resolve(modelsCfg *config.ModelsConfig, registry *Registry, health *HealthTracker, version string) (Route, error) {
	resolved, mapping, ok := modelsCfg.Lookup(version)
	if !ok {
		return Route{Version: resolved}, fmt.Errorf("model version %q: %w", version, ErrNoBackend)
	}

	routes := append([]config.BackendRoute{mapping.Primary}, mapping.Fallback...)
	for _, rt := range routes {
		b, ok := registry.Get(rt.Backend)
		if !ok {
			continue
		}
		if health != nil && !health.IsAvailable(rt.Backend) {
			continue
		}
		return Route{Version: resolved, Backend: b, Model: rt.Model}, nil
	}

	// Report the primary model so callers can still label the result.
	return Route{Version: resolved, Model: mapping.Primary.Model},
		fmt.Errorf("model version %q: %w", resolved, ErrNoBackend)
}
