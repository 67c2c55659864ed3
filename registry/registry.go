// Package registry catalogues factories for version-specific test components
// and resolves declarative requirements onto them. Factories are registered
// by external modules before a run begins; the catalogue is frozen for the
// run's lifetime and all resolution goes through a memoizing resolver.
package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/flightcheck/flightcheck/constraint"
)

// Constructor produces the concrete object a factory is registered for:
// an agent, a step implementation or any other testable subcomponent.
type Constructor func() (any, error)

// Factory pairs a declared capability with the constructor that builds it
type Factory struct {
	Name      string
	Declares  constraint.Set
	Construct Constructor
}

// Registry manages factory registration. Registration is process-wide and
// append-only until Freeze, after which the catalogue is read-only for the
// duration of a run.
type Registry struct {
	config    Config
	mu        sync.RWMutex
	factories []Factory
	frozen    bool
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Registry{config: cfg}
}

// Register adds a factory to the catalogue. It fails on unnamed factories,
// nil constructors, duplicate names and frozen registries.
func (r *Registry) Register(f Factory) error {
	if f.Name == "" {
		return fmt.Errorf("factory requires a name")
	}
	if f.Construct == nil {
		return fmt.Errorf("factory %q requires a constructor", f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register factory %q", f.Name)
	}
	for _, existing := range r.factories {
		if existing.Name == f.Name {
			return fmt.Errorf("factory %q already registered", f.Name)
		}
	}
	r.factories = append(r.factories, f)
	r.config.Log.Debug("Registered factory", "name", f.Name, "declares", f.Declares.Signature())
	return nil
}

// Freeze makes the catalogue immutable. Called by the engine at run start;
// freezing twice is harmless.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen returns true once the registry no longer accepts registrations
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Factories returns a snapshot of the catalogue
func (r *Registry) Factories() []Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Factory(nil), r.factories...)
}

// Match returns the factories whose declared capabilities satisfy the
// requirement, together with the unmet traits of the nearest misses (used
// for diagnostics when nothing matches).
func (r *Registry) Match(requirement constraint.Set) (matches []Factory, unmet []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, f := range r.factories {
		ok, missing := requirement.SatisfiedBy(f.Declares)
		if ok {
			matches = append(matches, f)
			continue
		}
		for _, trait := range missing {
			if !seen[trait] {
				seen[trait] = true
				unmet = append(unmet, trait)
			}
		}
	}
	if len(matches) > 0 {
		return matches, nil
	}
	return nil, unmet
}
