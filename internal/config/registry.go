package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/neurolink/pkg/provider/generate"
	"github.com/MrWong99/neurolink/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	live     map[string]func(ProviderEntry) (live.Provider, error)
	generate map[string]func(ProviderEntry) (generate.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[string]func(ProviderEntry) (live.Provider, error)),
		generate: make(map[string]func(ProviderEntry) (generate.Provider, error)),
	}
}

// RegisterLive registers a live dialogue provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterGenerate registers a one-shot generation provider factory under name.
func (r *Registry) RegisterGenerate(name string, factory func(ProviderEntry) (generate.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generate[name] = factory
}

// CreateLive instantiates a live provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGenerate instantiates a generate provider using the factory registered under entry.Name.
func (r *Registry) CreateGenerate(entry ProviderEntry) (generate.Provider, error) {
	r.mu.RLock()
	factory, ok := r.generate[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: generate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
