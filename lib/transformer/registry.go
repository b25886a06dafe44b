// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"fmt"
	"sync"
)

// Registry maps transformer names to implementations. Safe for
// concurrent use; registration normally happens once at startup.
type Registry struct {
	mu           sync.RWMutex
	transformers map[string]Transformer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{transformers: map[string]Transformer{}}
}

// Register adds a transformer under its name. Registering a duplicate
// name is an error — pipelines reference stages by name, and a silent
// replacement would change pipeline identity out from under the cache.
func (r *Registry) Register(t Transformer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if name == "" {
		return fmt.Errorf("registering transformer with empty name")
	}
	if _, exists := r.transformers[name]; exists {
		return fmt.Errorf("transformer %q already registered", name)
	}
	r.transformers[name] = t
	return nil
}

// Lookup returns the transformer registered under name.
func (r *Registry) Lookup(name string) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transformers[name]
	if !ok {
		return nil, fmt.Errorf("no transformer registered as %q", name)
	}
	return t, nil
}

// Builtin returns a registry preloaded with the transformers that ship
// with the engine.
func Builtin() *Registry {
	registry := NewRegistry()
	for _, t := range []Transformer{
		&Text{},
		&JSON{},
		&Raw{},
	} {
		// Built-in names are distinct by construction.
		if err := registry.Register(t); err != nil {
			panic("transformer: registering builtin: " + err.Error())
		}
	}
	return registry
}
