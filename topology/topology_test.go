package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightcheck/flightcheck/constraint"
	"github.com/flightcheck/flightcheck/registry"
)

func newRegistry(t *testing.T, names map[string]constraint.Set) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry(registry.Config{})
	for name, declares := range names {
		name := name
		require.NoError(t, reg.Register(registry.Factory{
			Name:      name,
			Declares:  declares,
			Construct: func() (any, error) { return name, nil },
		}))
	}
	return reg
}

func TestRequireRejectsDuplicates(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Require("api", constraint.Set{}))
	err := topo.Require("api", constraint.Set{})
	assert.Error(t, err)

	assert.Error(t, topo.Require("", constraint.Set{}))
	assert.Equal(t, 1, topo.Len())
}

func TestResolveBindsEveryComponent(t *testing.T) {
	reg := newRegistry(t, map[string]constraint.Set{
		"api-v2": constraint.MustSet(
			constraint.Equals(constraint.TraitInterface, "rest"),
			constraint.Equals(constraint.TraitVersion, "2.3.0"),
		),
		"worker-cli": constraint.MustSet(
			constraint.Equals(constraint.TraitInterface, "cli"),
		),
	})

	topo := New()
	require.NoError(t, topo.Require("api", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "rest"),
		constraint.AtLeast(constraint.TraitVersion, "2.0.0"),
	)))
	require.NoError(t, topo.Require("worker", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "cli"),
	)))

	bindings, err := topo.Resolve(registry.NewResolver(reg, nil), nil)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "api-v2", bindings["api"].Factory)
	assert.Equal(t, "worker-cli", bindings["worker"].Factory)
}

func TestResolveCollectsEveryFailure(t *testing.T) {
	reg := newRegistry(t, nil)

	topo := New()
	require.NoError(t, topo.Require("api", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "rest"),
	)))
	require.NoError(t, topo.Require("worker", constraint.MustSet(
		constraint.Equals(constraint.TraitInterface, "cli"),
	)))

	_, err := topo.Resolve(registry.NewResolver(reg, nil), nil)
	require.Error(t, err)
	// Both components appear in the joined diagnostics, not just the first
	assert.Contains(t, err.Error(), `component "api"`)
	assert.Contains(t, err.Error(), `component "worker"`)
}

func TestLoad(t *testing.T) {
	content := `
components:
  api:
    - trait: interface
      op: equals
      value: rest
    - trait: version
      op: at-least
      value: 2.0.0
  worker:
    - trait: interface
      op: one-of
      values: [cli, native]
`
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	topo, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "worker"}, topo.Names())

	api, ok := topo.Component("api")
	require.True(t, ok)
	assert.Equal(t, 2, api.Len())

	worker, ok := topo.Component("worker")
	require.True(t, ok)
	c, ok := worker.Get("interface")
	require.True(t, ok)
	assert.Equal(t, constraint.OpOneOf, c.Pred.Op)
}

func TestLoadRejectsInvalidConstraint(t *testing.T) {
	content := `
components:
  api:
    - trait: version
      op: at-least
      value: not-a-version
`
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `component "api"`)
}
