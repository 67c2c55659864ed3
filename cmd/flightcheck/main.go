package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	flightcheck "github.com/flightcheck/flightcheck"
	"github.com/flightcheck/flightcheck/agent"
	"github.com/flightcheck/flightcheck/constraint"
	"github.com/flightcheck/flightcheck/flags"
	"github.com/flightcheck/flightcheck/registry"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "flightcheck"
	app.Usage = "Test Automation Engine"
	app.Description = "flightcheck runs declarative test plans against version-specific component factories"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if flightcheck.IsRuntimeError(err) {
				// Operational errors exit with code 2
				cli.HandleExitCoder(cli.Exit(err.Error(), 2))
			} else {
				// Test failures and anything unspecified exit with code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(cliCtx *cli.Context) error {
	logger, err := newLogger(cliCtx.String(flags.LogLevel.Name))
	if err != nil {
		return flightcheck.NewRuntimeError(err)
	}
	log.SetDefault(logger)

	cfg, err := flightcheck.NewConfig(
		cliCtx,
		logger,
		cliCtx.String(flags.Plan.Name),
		cliCtx.String(flags.Topology.Name),
	)
	if err != nil {
		return flightcheck.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	reg, err := defaultRegistry(logger)
	if err != nil {
		return flightcheck.NewRuntimeError(err)
	}

	appCtx, cancelApp := context.WithCancel(cliCtx.Context)
	defer cancelApp()

	engine, err := flightcheck.New(appCtx, cfg, Version, reg, func(error) { cancelApp() })
	if err != nil {
		return flightcheck.NewRuntimeError(fmt.Errorf("failed to create engine: %w", err))
	}

	if err := engine.Start(appCtx); err != nil {
		return err
	}
	<-appCtx.Done()
	if err := engine.Stop(context.Background()); err != nil {
		return flightcheck.NewRuntimeError(err)
	}
	return nil
}

// defaultRegistry registers the built-in agents. External agents are expected
// to be registered by embedding the engine as a library.
func defaultRegistry(logger log.Logger) (*registry.Registry, error) {
	reg := registry.NewRegistry(registry.Config{Log: logger})
	err := reg.Register(registry.Factory{
		Name:     "builtin-exec",
		Declares: constraint.MustSet(constraint.Equals(constraint.TraitInterface, "cli")),
		Construct: func() (any, error) {
			return agent.NewExecAgent(logger), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("registering built-in agents: %w", err)
	}
	return reg, nil
}

func newLogger(level string) (log.Logger, error) {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)), nil
}
