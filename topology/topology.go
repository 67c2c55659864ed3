// Package topology holds the declarative description of the abstract
// components a run needs. A topology is constructed (or loaded from YAML)
// before a run starts, is read-only during it, and is resolved exactly once
// into concrete bindings through the resolver.
package topology

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/flightcheck/flightcheck/constraint"
	"github.com/flightcheck/flightcheck/registry"
)

// Topology maps component names to the constraint sets describing them
type Topology struct {
	components map[string]constraint.Set
}

// Bindings is the result of resolving a topology: component name to the
// concrete binding the run will use.
type Bindings map[string]*registry.Binding

// New creates an empty topology
func New() *Topology {
	return &Topology{components: make(map[string]constraint.Set)}
}

// Require adds a named component requirement
func (t *Topology) Require(name string, set constraint.Set) error {
	if name == "" {
		return fmt.Errorf("component requires a name")
	}
	if _, exists := t.components[name]; exists {
		return fmt.Errorf("component %q already required", name)
	}
	t.components[name] = set
	return nil
}

// Component returns the requirement for a named component
func (t *Topology) Component(name string) (constraint.Set, bool) {
	set, ok := t.components[name]
	return set, ok
}

// Names returns the component names, sorted
func (t *Topology) Names() []string {
	names := make([]string, 0, len(t.components))
	for name := range t.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of required components
func (t *Topology) Len() int {
	return len(t.components)
}

// Resolve turns every abstract requirement into a concrete binding.
// A failure for any component fails the whole preflight: the returned error
// joins the diagnostics for every unresolvable component rather than stopping
// at the first.
func (t *Topology) Resolve(resolver *registry.Resolver, logger log.Logger) (Bindings, error) {
	if logger == nil {
		logger = log.New()
	}

	bindings := make(Bindings, len(t.components))
	var failures []error
	for _, name := range t.Names() {
		binding, err := resolver.Resolve(t.components[name])
		if err != nil {
			failures = append(failures, fmt.Errorf("component %q: %w", name, err))
			continue
		}
		bindings[name] = binding
		logger.Debug("Resolved topology component", "component", name, "factory", binding.Factory)
	}
	if len(failures) > 0 {
		return nil, fmt.Errorf("topology resolution failed: %w", errors.Join(failures...))
	}
	return bindings, nil
}

// file is the YAML shape of a topology definition
type file struct {
	Components map[string][]constraint.Constraint `yaml:"components"`
}

// Load reads a topology definition from a YAML file
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing topology file: %w", err)
	}

	t := New()
	for name, constraints := range f.Components {
		set, err := constraint.NewSet(constraints...)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", name, err)
		}
		if err := t.Require(name, set); err != nil {
			return nil, err
		}
	}
	return t, nil
}
