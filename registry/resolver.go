package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/singleflight"

	"github.com/flightcheck/flightcheck/constraint"
)

// Binding is the outcome of resolving a requirement: the winning factory and
// the constructed object. Bindings are cached per canonical signature for the
// resolver's lifetime, so two identical requirements share one object.
type Binding struct {
	Signature string
	Factory   string
	Object    any
}

// Resolver maps requirements onto factories by subsumption and specificity,
// memoizing results. Concurrent resolutions of the same signature are
// coalesced so each factory constructor runs at most once.
type Resolver struct {
	registry *Registry
	log      log.Logger

	mu       sync.RWMutex
	bindings map[string]*Binding // write-once per signature
	group    singleflight.Group
}

// NewResolver creates a resolver over a registry. The registry is frozen as a
// side effect: resolution and registration must not interleave.
func NewResolver(reg *Registry, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.New()
	}
	reg.Freeze()
	return &Resolver{
		registry: reg,
		log:      logger,
		bindings: make(map[string]*Binding),
	}
}

// Resolve finds the most specific factory satisfying the requirement and
// returns its constructed binding. Repeated calls with an equivalent
// requirement return the identical binding. It fails with UnsatisfiableError
// when nothing matches and AmbiguityError when the best matches are equally
// specific.
func (r *Resolver) Resolve(requirement constraint.Set) (*Binding, error) {
	sig := requirement.Signature()

	r.mu.RLock()
	if b, ok := r.bindings[sig]; ok {
		r.mu.RUnlock()
		return b, nil
	}
	r.mu.RUnlock()

	// Losers of the race wait for the winner's construction rather than
	// running the constructor a second time.
	v, err, _ := r.group.Do(sig, func() (any, error) {
		r.mu.RLock()
		b, ok := r.bindings[sig]
		r.mu.RUnlock()
		if ok {
			return b, nil
		}

		b, err := r.construct(sig, requirement)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.bindings[sig] = b
		r.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Binding), nil
}

// construct selects the winning factory and runs its constructor
func (r *Resolver) construct(sig string, requirement constraint.Set) (*Binding, error) {
	matches, unmet := r.registry.Match(requirement)
	if len(matches) == 0 {
		r.log.Debug("Requirement unsatisfiable", "signature", sig, "unmet", unmet)
		return nil, &UnsatisfiableError{Signature: sig, UnmetTraits: unmet}
	}

	winner, err := selectMostSpecific(sig, matches)
	if err != nil {
		return nil, err
	}

	obj, err := winner.Construct()
	if err != nil {
		return nil, fmt.Errorf("constructing %q for requirement %q: %w", winner.Name, sig, err)
	}

	r.log.Debug("Resolved requirement", "signature", sig, "factory", winner.Name)
	return &Binding{Signature: sig, Factory: winner.Name, Object: obj}, nil
}

// selectMostSpecific picks the single most constrained candidate, failing on
// ties: silently preferring one of several equally specific factories would
// make resolution nondeterministic.
func selectMostSpecific(sig string, candidates []Factory) (Factory, error) {
	best := candidates[0]
	ties := []string{best.Name}
	for _, candidate := range candidates[1:] {
		switch cmp := constraint.CompareSpecificity(candidate.Declares, best.Declares); {
		case cmp > 0:
			best = candidate
			ties = []string{candidate.Name}
		case cmp == 0:
			ties = append(ties, candidate.Name)
		}
	}
	if len(ties) > 1 {
		return Factory{}, &AmbiguityError{Signature: sig, Factories: ties}
	}
	return best, nil
}

// Binding returns the cached binding for a signature, if resolution already
// happened. Useful for read-only inspection after a run.
func (r *Resolver) Binding(signature string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[signature]
	return b, ok
}

// Bindings returns a snapshot of every cached binding
func (r *Resolver) Bindings() []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	return out
}

// Seed installs an already-constructed binding, letting stateless objects
// carry over from a previous run instead of being rebuilt. Seeding a
// signature that already resolved is a no-op.
func (r *Resolver) Seed(b *Binding) {
	if b == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[b.Signature]; !ok {
		r.bindings[b.Signature] = b
	}
}
