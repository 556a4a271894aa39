package locator

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the active strategy per target.
type Registry struct {
	strategies map[Target]*Strategy
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[Target]*Strategy),
	}
}

// Register adds a strategy, replacing any existing one for the same target.
func (r *Registry) Register(s *Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Target] = s
}

// Get returns the strategy for target, or nil if none is registered.
func (r *Registry) Get(target Target) *Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategies[target]
}

// Queries returns the bound candidates for target.
func (r *Registry) Queries(target Target, vars Vars) ([]Query, error) {
	s := r.Get(target)
	if s == nil {
		return nil, fmt.Errorf("no locator strategy for %s", target)
	}
	return s.Bound(vars), nil
}

// List returns all registered targets, sorted.
func (r *Registry) List() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]Target, 0, len(r.strategies))
	for t := range r.strategies {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

// Count returns the number of registered strategies.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}

// CheckComplete returns an error naming every required target without a strategy.
func (r *Registry) CheckComplete() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []Target
	for _, t := range RequiredTargets {
		if _, ok := r.strategies[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing locator strategies: %v", missing)
	}
	return nil
}
