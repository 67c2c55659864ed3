// Package flightcheck is a test-automation engine. It organizes test logic
// into a Suite/Case/Flight/Step hierarchy, resolves declarative component
// requirements onto registered version-specific factories, executes steps
// through pluggable protocol agents, and aggregates results from leaves to
// root while streaming ordered progress events.
package flightcheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flightcheck/flightcheck/agent"
	"github.com/flightcheck/flightcheck/registry"
	"github.com/flightcheck/flightcheck/runner"
	"github.com/flightcheck/flightcheck/topology"
	"github.com/flightcheck/flightcheck/types"
)

// Engine runs test plans against a frozen factory registry.
type Engine struct {
	ctx      context.Context
	config   *Config
	version  string
	registry *registry.Registry

	// root of the most recent run, read concurrently with periodic runs
	resultMu sync.Mutex
	result   *types.Node

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	// stateless agent bindings carried across runs
	retainMu sync.Mutex
	retained map[string]*registry.Binding

	shutdownCallback func(error) // callback to signal application shutdown
}

// New creates an engine over a populated registry. The registry is frozen on
// first submission; all factory and agent registration must happen before.
func New(ctx context.Context, config *Config, version string, reg *registry.Registry, shutdownCallback func(error)) (*Engine, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}

	config.Log.Debug("Creating engine with config",
		"plan", config.PlanFile,
		"topology", config.TopologyFile,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"failFast", config.FailFast)

	return &Engine{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		done:             make(chan struct{}),
		retained:         make(map[string]*registry.Binding),
		shutdownCallback: shutdownCallback,
	}, nil
}

// RunOptions override per-run knobs; zero values fall back to the engine
// configuration.
type RunOptions struct {
	Concurrency      int
	DefaultTimeout   time.Duration
	CancelGrace      time.Duration
	FailFast         bool
	Strict           bool
	ProgressInterval time.Duration
}

func (e *Engine) defaultOptions() RunOptions {
	interval := time.Duration(0)
	if e.config.ShowProgress {
		interval = e.config.ProgressInterval
		if interval == 0 {
			interval = 30 * time.Second
		}
	}
	return RunOptions{
		Concurrency:      e.config.Concurrency,
		DefaultTimeout:   e.config.DefaultTimeout,
		CancelGrace:      e.config.CancelGrace,
		FailFast:         e.config.FailFast,
		Strict:           e.config.Strict,
		ProgressInterval: interval,
	}
}

// Submit starts an asynchronous run of the given tree definition against the
// topology's requirements and returns a handle for awaiting or cancelling it.
// The topology may be nil when steps carry all their own requirements.
func (e *Engine) Submit(topo *topology.Topology, def *runner.Definition, opts RunOptions) (*RunHandle, error) {
	if def == nil {
		return nil, errors.New("tree definition is required")
	}

	runCtx, cancel := context.WithCancel(e.ctx)
	tracker := runner.NewTracker(e.config.Log, opts.ProgressInterval)
	handle := &RunHandle{
		cancel: cancel,
		// Subscribed before the run goroutine starts so the stream carries
		// every transition even when the run outpaces the caller.
		events: tracker.Subscribe(),
		done:   make(chan struct{}),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(handle.done)
		handle.root, handle.err = e.execute(runCtx, tracker, topo, def, opts)
		if handle.root == nil {
			// Aborted before execution; there is no tree for a final event.
			tracker.Close()
		}
	}()

	return handle, nil
}

// execute performs one full run: preflight topology resolution, tree
// construction, execution to finalization.
func (e *Engine) execute(ctx context.Context, tracker *runner.Tracker, topo *topology.Topology, def *runner.Definition, opts RunOptions) (*types.Node, error) {
	logger := e.config.Log
	resolver := registry.NewResolver(e.registry, logger)
	e.seedRetained(resolver)
	defer e.retainStateless(resolver)

	// Preflight: every abstract topology requirement must resolve before any
	// execution starts; failures abort with the full set of diagnostics.
	if topo != nil && topo.Len() > 0 {
		bindings, err := topo.Resolve(resolver, logger)
		if err != nil {
			return nil, NewRuntimeError(err)
		}
		logger.Info("Topology resolved", "components", len(bindings))
	}

	dispatcher, err := agent.NewDispatcher(agent.DispatcherConfig{
		Resolver:       resolver,
		Log:            logger,
		DefaultTimeout: opts.DefaultTimeout,
		CancelGrace:    opts.CancelGrace,
	})
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	root, err := def.Build()
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("building test tree: %w", err))
	}

	run, err := runner.NewRunner(runner.Config{
		Dispatcher:  dispatcher,
		Tracker:     tracker,
		Log:         logger,
		Concurrency: opts.Concurrency,
		FailFast:    opts.FailFast,
		Strict:      opts.Strict,
	})
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	root, err = run.Run(ctx, root)
	if err != nil {
		var violation *types.InvariantViolationError
		if errors.As(err, &violation) {
			logger.Crit("Aggregation invariant violated, framework defect", "node", violation.NodeID, "reason", violation.Reason)
		}
		return root, NewRuntimeError(err)
	}
	return root, nil
}

// seedRetained hands stateless bindings from previous runs to a fresh
// resolver so their agents are reused instead of reconstructed.
func (e *Engine) seedRetained(resolver *registry.Resolver) {
	e.retainMu.Lock()
	defer e.retainMu.Unlock()
	for _, b := range e.retained {
		resolver.Seed(b)
	}
}

// retainStateless harvests the run's bindings whose objects declare
// themselves safe to reuse; everything else is released with the resolver.
func (e *Engine) retainStateless(resolver *registry.Resolver) {
	e.retainMu.Lock()
	defer e.retainMu.Unlock()
	for _, b := range resolver.Bindings() {
		if s, ok := b.Object.(agent.Stateless); ok && s.Stateless() {
			e.retained[b.Signature] = b
		}
	}
}

// Start runs the configured plan, immediately and then periodically at the
// configured interval unless in run-once mode.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx
	e.done = make(chan struct{})
	e.running.Store(true)

	if e.config.RunOnce {
		e.config.Log.Info("Starting flightcheck in run-once mode", "version", e.version)
	} else {
		e.config.Log.Info("Starting flightcheck in continuous mode", "version", e.version, "interval", e.config.RunInterval)
	}

	if err := e.runPlan(); err != nil {
		if IsFailureError(err) && !e.config.RunOnce {
			e.config.Log.Warn("Test run completed with failures", "error", err)
		} else if e.config.RunOnce {
			if IsFailureError(err) {
				return err
			}
			return NewRuntimeError(err)
		} else {
			e.config.Log.Error("Error running plan", "error", err)
		}
	}

	if e.config.RunOnce {
		e.config.Log.Info("Run completed, exiting (run-once mode)")
		go func() {
			e.shutdownCallback(nil)
		}()
		return nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-time.After(e.config.RunInterval):
				if !e.running.Load() {
					return
				}
				e.config.Log.Info("Running periodic tests")
				if err := e.runPlan(); err != nil {
					e.config.Log.Error("Error running periodic tests", "error", err)
				}

			case <-e.done:
				e.config.Log.Debug("Done signal received, stopping periodic runner")
				return

			case <-ctx.Done():
				e.config.Log.Debug("Context canceled, stopping periodic runner")
				e.running.Store(false)
				return
			}
		}
	}()
	e.config.Log.Debug("flightcheck started successfully")
	return nil
}

// runPlan loads the configured plan and topology files, runs them to
// completion and reports the results.
func (e *Engine) runPlan() error {
	def, err := runner.LoadDefinition(e.config.PlanFile)
	if err != nil {
		return NewRuntimeError(err)
	}

	var topo *topology.Topology
	if e.config.TopologyFile != "" {
		topo, err = topology.Load(e.config.TopologyFile)
		if err != nil {
			return NewRuntimeError(err)
		}
	}

	handle, err := e.Submit(topo, def, e.defaultOptions())
	if err != nil {
		return NewRuntimeError(err)
	}
	// The engine reports from the finalized tree, not the stream; drain it so
	// the run never stalls on the handle's subscription.
	go func() {
		for range handle.Events() {
		}
	}()

	root, err := handle.Await(e.ctx)
	if err != nil {
		return err
	}
	e.setResult(root)

	reporter := NewConsoleReporter(e.config.Log)
	if err := reporter.Report(root); err != nil {
		e.config.Log.Error("Failed to render results", "error", err)
	}

	status := root.Status()
	e.config.Log.Info("Test run completed", "root", root.ID, "status", status)
	if status != types.StatusPassed {
		return NewFailureError(Summary(root))
	}
	return nil
}

func (e *Engine) setResult(root *types.Node) {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	e.result = root
}

// Result returns the frozen root of the most recent completed run
func (e *Engine) Result() *types.Node {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return e.result
}

// Stop stops the engine service.
func (e *Engine) Stop(ctx context.Context) error {
	e.config.Log.Info("Stopping flightcheck")

	if !e.running.Load() {
		e.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	e.running.Store(false)
	close(e.done)
	e.wg.Wait()

	e.config.Log.Info("flightcheck stopped successfully")
	return nil
}

// Stopped returns true if the engine service is stopped
func (e *Engine) Stopped() bool {
	return !e.running.Load()
}
