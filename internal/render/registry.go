package render

import (
	"sort"
	"sync"
)

// Registry remembers what has been placed on the surface, keyed by marker
// key.
type Registry struct {
	mu      sync.RWMutex
	markers map[string]Marker
}

// NewRegistry creates a new Registry
func NewRegistry() *Registry {
	return &Registry{
		markers: make(map[string]Marker),
	}
}

// Get retrieves a marker by key
func (r *Registry) Get(key string) (Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markers[key]
	return m, ok
}

// Set stores a marker under its key
func (r *Registry) Set(m Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers[m.Key] = m
}

// Delete removes a marker by key
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, key)
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.markers))
	for k := range r.markers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered markers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markers)
}

// Reset clears all markers from the registry
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = make(map[string]Marker)
}
