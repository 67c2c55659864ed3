// Package constraint models the declarative requirements that describe both
// what a test needs and what a registered factory provides. Requirements and
// factory capabilities are the same data shape: a set of named-trait
// predicates. Matching is subsumption checking over a closed set of predicate
// variants; there is no runtime reflection or dynamic attribute lookup.
package constraint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Common trait names. Constraints are open to arbitrary trait names; these
// are the ones the engine itself reasons about.
const (
	TraitInterface   = "interface"
	TraitProduct     = "product"
	TraitVersion     = "version"
	TraitEnvironment = "environment"
)

// Interface kinds an agent can target. The engine never special-cases these
// beyond treating them as constraint values.
const (
	InterfaceREST   = "rest"
	InterfaceCLI    = "cli"
	InterfaceGUI    = "gui"
	InterfaceNative = "native"
)

// Op identifies the predicate variant
type Op string

const (
	OpEquals  Op = "equals"   // exact value
	OpOneOf   Op = "one-of"   // membership in a value set
	OpAtLeast Op = "at-least" // semantic version lower bound (inclusive)
	OpAtMost  Op = "at-most"  // semantic version upper bound (inclusive)
	OpBetween Op = "between"  // inclusive semantic version range
)

// Predicate is one tagged comparison over a trait value.
// Value carries the operand for equals/at-least/at-most; Values carries the
// membership set for one-of and the [min, max] pair for between.
type Predicate struct {
	Op     Op       `yaml:"op"`
	Value  string   `yaml:"value,omitempty"`
	Values []string `yaml:"values,omitempty"`
}

// Constraint binds a predicate to a named trait
type Constraint struct {
	Trait string    `yaml:"trait"`
	Pred  Predicate `yaml:",inline"`
}

// Equals builds an exact-value constraint
func Equals(trait, value string) Constraint {
	return Constraint{Trait: trait, Pred: Predicate{Op: OpEquals, Value: value}}
}

// OneOf builds a set-membership constraint
func OneOf(trait string, values ...string) Constraint {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return Constraint{Trait: trait, Pred: Predicate{Op: OpOneOf, Values: sorted}}
}

// AtLeast builds an inclusive version lower-bound constraint
func AtLeast(trait, version string) Constraint {
	return Constraint{Trait: trait, Pred: Predicate{Op: OpAtLeast, Value: version}}
}

// AtMost builds an inclusive version upper-bound constraint
func AtMost(trait, version string) Constraint {
	return Constraint{Trait: trait, Pred: Predicate{Op: OpAtMost, Value: version}}
}

// Between builds an inclusive version range constraint
func Between(trait, min, max string) Constraint {
	return Constraint{Trait: trait, Pred: Predicate{Op: OpBetween, Values: []string{min, max}}}
}

// Validate checks that the predicate's operands parse for its variant
func (p Predicate) Validate() error {
	switch p.Op {
	case OpEquals:
		if p.Value == "" {
			return fmt.Errorf("equals predicate requires a value")
		}
	case OpOneOf:
		if len(p.Values) == 0 {
			return fmt.Errorf("one-of predicate requires at least one value")
		}
	case OpAtLeast, OpAtMost:
		if _, err := semver.NewVersion(p.Value); err != nil {
			return fmt.Errorf("parsing version bound %q: %w", p.Value, err)
		}
	case OpBetween:
		if len(p.Values) != 2 {
			return fmt.Errorf("between predicate requires exactly [min, max]")
		}
		for _, v := range p.Values {
			if _, err := semver.NewVersion(v); err != nil {
				return fmt.Errorf("parsing version bound %q: %w", v, err)
			}
		}
	default:
		return fmt.Errorf("unknown predicate op %q", p.Op)
	}
	return nil
}

// Admits evaluates the predicate against a candidate trait value
func (p Predicate) Admits(value string) bool {
	switch p.Op {
	case OpEquals:
		return value == p.Value
	case OpOneOf:
		for _, v := range p.Values {
			if v == value {
				return true
			}
		}
		return false
	case OpAtLeast:
		candidate, bound, err := parseVersions(value, p.Value)
		if err != nil {
			return false
		}
		return !candidate.LessThan(bound)
	case OpAtMost:
		candidate, bound, err := parseVersions(value, p.Value)
		if err != nil {
			return false
		}
		return !candidate.GreaterThan(bound)
	case OpBetween:
		candidate, min, err := parseVersions(value, p.Values[0])
		if err != nil {
			return false
		}
		max, err2 := semver.NewVersion(p.Values[1])
		if err2 != nil {
			return false
		}
		return !candidate.LessThan(min) && !candidate.GreaterThan(max)
	}
	return false
}

func parseVersions(a, b string) (*semver.Version, *semver.Version, error) {
	va, err := semver.NewVersion(a)
	if err != nil {
		return nil, nil, err
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return nil, nil, err
	}
	return va, vb, nil
}

// bounds returns the predicate's version interval; a nil bound is unbounded.
// Only meaningful for version-variant predicates.
func (p Predicate) bounds() (min, max *semver.Version) {
	switch p.Op {
	case OpAtLeast:
		min, _ = semver.NewVersion(p.Value)
	case OpAtMost:
		max, _ = semver.NewVersion(p.Value)
	case OpBetween:
		min, _ = semver.NewVersion(p.Values[0])
		max, _ = semver.NewVersion(p.Values[1])
	}
	return min, max
}

// isVersionOp reports whether the predicate compares semantic versions
func (p Predicate) isVersionOp() bool {
	return p.Op == OpAtLeast || p.Op == OpAtMost || p.Op == OpBetween
}

// Subsumes returns true if every value the declared predicate admits is also
// admitted by p. This is the superset-compatibility check used for matching:
// a factory's declaration must be equal to or narrower than the requirement.
func (p Predicate) Subsumes(declared Predicate) bool {
	switch declared.Op {
	case OpEquals:
		return p.Admits(declared.Value)
	case OpOneOf:
		for _, v := range declared.Values {
			if !p.Admits(v) {
				return false
			}
		}
		return true
	case OpAtLeast, OpAtMost, OpBetween:
		if !p.isVersionOp() {
			// A non-version requirement cannot admit an unbounded family of
			// versions; only an identical equals-set could, handled above.
			return false
		}
		pMin, pMax := p.bounds()
		dMin, dMax := declared.bounds()
		if pMin != nil && (dMin == nil || dMin.LessThan(pMin)) {
			return false
		}
		if pMax != nil && (dMax == nil || dMax.GreaterThan(pMax)) {
			return false
		}
		return true
	}
	return false
}

// String renders the predicate in canonical form
func (p Predicate) String() string {
	switch p.Op {
	case OpEquals:
		return fmt.Sprintf("==%s", p.Value)
	case OpOneOf:
		return fmt.Sprintf("in[%s]", strings.Join(p.Values, ","))
	case OpAtLeast:
		return fmt.Sprintf(">=%s", p.Value)
	case OpAtMost:
		return fmt.Sprintf("<=%s", p.Value)
	case OpBetween:
		return fmt.Sprintf("[%s..%s]", p.Values[0], p.Values[1])
	}
	return string(p.Op)
}
