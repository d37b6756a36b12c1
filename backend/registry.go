// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/tilebatch"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendWGPU, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a backend from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open creates the backend registered as name.
func Open(name string, cfg Config) (tilebatch.Backend, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrBackendNotAvailable, "%q is not registered", name)
	}
	return factory(cfg)
}

// Default creates the best available backend for cfg. Backends are tried
// in priority order; one that is registered but cannot run with cfg is
// skipped.
func Default(cfg Config) (tilebatch.Backend, error) {
	var errs error
	for _, name := range backendPriority {
		if !IsRegistered(name) {
			continue
		}
		b, err := Open(name, cfg)
		if err == nil {
			return b, nil
		}
		tilebatch.Logger().Debug("backend: skipping", "name", name, "err", err)
		errs = errors.CombineErrors(errs, err)
	}
	if errs == nil {
		errs = ErrBackendNotAvailable
	}
	return nil, errs
}
