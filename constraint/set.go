package constraint

import (
	"fmt"
	"sort"
	"strings"
)

// Set is an ordered collection of constraints over distinct traits.
// It describes either a requirement ("what I need") or a factory's declared
// capability ("what I provide"); both sides of matching share this shape.
type Set struct {
	constraints []Constraint
}

// NewSet builds a set from constraints, rejecting duplicate traits and
// invalid predicates.
func NewSet(constraints ...Constraint) (Set, error) {
	var s Set
	for _, c := range constraints {
		if err := s.Add(c); err != nil {
			return Set{}, err
		}
	}
	return s, nil
}

// MustSet is NewSet for statically known constraint literals
func MustSet(constraints ...Constraint) Set {
	s, err := NewSet(constraints...)
	if err != nil {
		panic(err)
	}
	return s
}

// Add appends a constraint, keeping traits unique
func (s *Set) Add(c Constraint) error {
	if c.Trait == "" {
		return fmt.Errorf("constraint requires a trait name")
	}
	if err := c.Pred.Validate(); err != nil {
		return fmt.Errorf("constraint on trait %q: %w", c.Trait, err)
	}
	for _, existing := range s.constraints {
		if existing.Trait == c.Trait {
			return fmt.Errorf("duplicate constraint for trait %q", c.Trait)
		}
	}
	s.constraints = append(s.constraints, c)
	return nil
}

// Get returns the constraint for a trait, if present
func (s Set) Get(trait string) (Constraint, bool) {
	for _, c := range s.constraints {
		if c.Trait == trait {
			return c, true
		}
	}
	return Constraint{}, false
}

// Constraints returns the constraints in insertion order
func (s Set) Constraints() []Constraint {
	return append([]Constraint(nil), s.constraints...)
}

// Len returns the number of constrained traits
func (s Set) Len() int {
	return len(s.constraints)
}

// Empty returns true if the set constrains nothing
func (s Set) Empty() bool {
	return len(s.constraints) == 0
}

// Traits returns the constrained trait names, sorted
func (s Set) Traits() []string {
	traits := make([]string, 0, len(s.constraints))
	for _, c := range s.constraints {
		traits = append(traits, c.Trait)
	}
	sort.Strings(traits)
	return traits
}

// Signature returns the canonical identity of the set: trait/predicate pairs
// sorted by trait. Two sets with the same constraints produce the same
// signature regardless of insertion order, which is what the resolver keys
// its binding cache on.
func (s Set) Signature() string {
	parts := make([]string, 0, len(s.constraints))
	for _, c := range s.constraints {
		parts = append(parts, c.Trait+c.Pred.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// SatisfiedBy reports whether declared is a superset-compatible match for the
// requirement s: for every trait s constrains, declared must carry a
// constraint on that trait that is equal to or narrower than the
// requirement's. Traits declared beyond the requirement are ignored.
// The second return lists the requirement's unmet traits.
func (s Set) SatisfiedBy(declared Set) (bool, []string) {
	var unmet []string
	for _, required := range s.constraints {
		dc, ok := declared.Get(required.Trait)
		if !ok || !required.Pred.Subsumes(dc.Pred) {
			unmet = append(unmet, required.Trait)
		}
	}
	return len(unmet) == 0, unmet
}

func (s Set) String() string {
	return s.Signature()
}
