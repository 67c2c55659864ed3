package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcheck/flightcheck/constraint"
)

func TestResolveSelectsMostSpecific(t *testing.T) {
	reg := NewRegistry(Config{})
	require.NoError(t, reg.Register(factory("generic-rest", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "rest"),
	))))
	require.NoError(t, reg.Register(factory("pinned-rest", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "rest"),
		constraint.Equals(constraint.TraitVersion, "2.0.0"),
	))))

	resolver := NewResolver(reg, nil)
	binding, err := resolver.Resolve(constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "rest"),
	))
	require.NoError(t, err)
	assert.Equal(t, "pinned-rest", binding.Factory)
}

func TestResolveMemoizesPerSignature(t *testing.T) {
	var constructions atomic.Int32
	reg := NewRegistry(Config{})
	require.NoError(t, reg.Register(Factory{
		Name:     "counting",
		Declares: constraint.MustSet(constraint.Equals(constraint.TraitInterface, "cli")),
		Construct: func() (any, error) {
			constructions.Add(1)
			return new(struct{}), nil
		},
	}))

	resolver := NewResolver(reg, nil)

	// Equivalent requirements built in different orders share one binding
	first, err := resolver.Resolve(constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "cli"),
	))
	require.NoError(t, err)
	second, err := resolver.Resolve(constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "cli"),
	))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first.Object, second.Object)
	assert.Equal(t, int32(1), constructions.Load())

	cached, ok := resolver.Binding(first.Signature)
	require.True(t, ok)
	assert.Same(t, first, cached)
}

func TestConcurrentResolveConstructsOnce(t *testing.T) {
	var constructions atomic.Int32
	reg := NewRegistry(Config{})
	require.NoError(t, reg.Register(Factory{
		Name:     "slow",
		Declares: constraint.MustSet(constraint.Equals(constraint.TraitInterface, "rest")),
		Construct: func() (any, error) {
			constructions.Add(1)
			return new(struct{}), nil
		},
	}))

	resolver := NewResolver(reg, nil)
	requirement := constraint.MustSet(constraint.Equals(constraint.TraitInterface, "rest"))

	const resolvers = 16
	bindings := make([]*Binding, resolvers)
	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := resolver.Resolve(requirement)
			assert.NoError(t, err)
			bindings[i] = b
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), constructions.Load())
	for _, b := range bindings {
		assert.Same(t, bindings[0], b)
	}
}

func TestResolveUnsatisfiable(t *testing.T) {
	reg := NewRegistry(Config{})
	require.NoError(t, reg.Register(factory("cli-only", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "cli"),
	))))

	resolver := NewResolver(reg, nil)
	_, err := resolver.Resolve(constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "gui"),
	))
	require.Error(t, err)
	assert.True(t, IsUnsatisfiable(err))

	var unsat *UnsatisfiableError
	require.ErrorAs(t, err, &unsat)
	assert.Contains(t, unsat.UnmetTraits, constraint.TraitInterface)
}

func TestResolveAmbiguous(t *testing.T) {
	reg := NewRegistry(Config{})
	require.NoError(t, reg.Register(factory("twin-a", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "rest"),
		constraint.Equals(constraint.TraitVersion, "2.0.0"),
	))))
	require.NoError(t, reg.Register(factory("twin-b", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "rest"),
		constraint.Equals(constraint.TraitVersion, "2.0.1"),
	))))

	resolver := NewResolver(reg, nil)
	_, err := resolver.Resolve(constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "rest"),
		constraint.AtLeast(constraint.TraitVersion, "2.0.0"),
	))
	require.Error(t, err)
	assert.True(t, IsAmbiguous(err))

	var ambiguous *AmbiguityError
	require.ErrorAs(t, err, &ambiguous)
	assert.ElementsMatch(t, []string{"twin-a", "twin-b"}, ambiguous.Factories)
}

func TestResolveFailureIsNotCached(t *testing.T) {
	reg := NewRegistry(Config{})
	resolver := NewResolver(reg, nil)
	requirement := constraint.MustSet(constraint.Equals(constraint.TraitInterface, "rest"))

	_, err := resolver.Resolve(requirement)
	require.Error(t, err)

	_, ok := resolver.Binding(requirement.Signature())
	assert.False(t, ok)
}

func TestNewResolverFreezesRegistry(t *testing.T) {
	reg := NewRegistry(Config{})
	NewResolver(reg, nil)
	assert.True(t, reg.Frozen())
}
