// Package plugin holds the registry of preview providers and the interfaces
// shared between providers and the services that host them.
package plugin

import (
	"sort"
	"sync"
)

type factory func() Provider

var (
	mu       sync.RWMutex
	registry = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

func New(name string) (Provider, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names lists the registered providers.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
