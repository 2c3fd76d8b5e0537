package task

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrKindExists = errors.New("job kind already registered")

// Lookup resolves a job-kind identifier.
type Lookup interface {
	Lookup(name string) (Kind, bool)
}

// Registry holds job kinds indexed by name. It is populated at process start
// and read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind. Names are unique.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" {
		return fmt.Errorf("job kind name is empty")
	}
	if k.New == nil {
		return fmt.Errorf("job kind %q has no factory", k.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[k.Name]; exists {
		return fmt.Errorf("%w: %q", ErrKindExists, k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

// Lookup retrieves a kind by name.
func (r *Registry) Lookup(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// Names returns the registered kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
