package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/flightcheck/flightcheck/types"
)

// ExecAgent runs actions as local shell commands. It is the built-in
// implementation behind the cli interface kind: the action's "command" param
// is the command line, optional "dir" sets the working directory.
type ExecAgent struct {
	log log.Logger

	mu      sync.Mutex
	current *exec.Cmd
}

// NewExecAgent creates a shell-command agent
func NewExecAgent(logger log.Logger) *ExecAgent {
	if logger == nil {
		logger = log.New()
	}
	return &ExecAgent{log: logger}
}

// Execute runs the action's command and maps its exit code to an outcome:
// zero passes, non-zero fails, everything else (missing command, start
// failure) is an agent error.
func (a *ExecAgent) Execute(ctx context.Context, action types.Action) (types.Outcome, error) {
	command := action.Params["command"]
	if command == "" {
		return types.Outcome{}, fmt.Errorf("action %q has no command param", action.Name)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if dir := action.Params["dir"]; dir != "" {
		cmd.Dir = dir
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	a.mu.Lock()
	a.current = cmd
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
	}()

	a.log.Debug("Executing command", "action", action.Name, "command", command)
	err := cmd.Run()
	detail := strings.TrimSpace(output.String())

	if err == nil {
		return types.Outcome{Status: types.StatusPassed, Detail: detail}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return types.Outcome{
			Status: types.StatusFailed,
			Detail: fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), detail),
		}, nil
	}
	return types.Outcome{}, fmt.Errorf("running %q: %w", command, err)
}

// Cancel kills the in-flight command, if any
func (a *ExecAgent) Cancel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.Process == nil {
		return nil
	}
	return a.current.Process.Kill()
}

// Stateless reports that the agent holds no cross-run state
func (a *ExecAgent) Stateless() bool {
	return true
}
