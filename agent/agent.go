// Package agent defines the capability boundary between the engine and the
// protocol-specific automation clients (REST, CLI, GUI, native). The engine
// never implements a concrete agent; implementations are registered as
// factories and resolved like any other component.
package agent

import (
	"context"

	"github.com/flightcheck/flightcheck/types"
)

// Agent executes abstract actions against one concrete target interface.
// Execute must honor context cancellation and deadlines where it can; the
// dispatcher enforces the timeout regardless. Cancel asks the agent to abort
// whatever it is doing, best-effort.
type Agent interface {
	Execute(ctx context.Context, action types.Action) (types.Outcome, error)
	Cancel() error
}

// Stateless marks agents that are safe to reuse across runs. Agents without
// it are released when the run ends.
type Stateless interface {
	Stateless() bool
}
