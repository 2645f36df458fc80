package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/valet-labs/valet/pkg/completion"
)

// ErrProviderNotRegistered is returned by [Registry.CreateCompletion] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps completion provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	completion map[string]func(ProviderEntry) (completion.Service, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		completion: make(map[string]func(ProviderEntry) (completion.Service, error)),
	}
}

// RegisterCompletion registers a completion service factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCompletion(name string, factory func(ProviderEntry) (completion.Service, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completion[name] = factory
}

// CreateCompletion instantiates a completion service using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateCompletion(entry ProviderEntry) (completion.Service, error) {
	r.mu.RLock()
	factory, ok := r.completion[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: completion/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
