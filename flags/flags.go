package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "FLIGHTCHECK"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	Plan = &cli.StringFlag{
		Name:     "plan",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("PLAN"),
		Usage:    "Path to the test plan file (eg. 'plan.yaml')",
	}
	Topology = &cli.StringFlag{
		Name:    "topology",
		Value:   "",
		EnvVars: prefixEnvVars("TOPOLOGY"),
		Usage:   "Path to the topology requirements file (eg. 'topology.yaml')",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: prefixEnvVars("CONCURRENCY"),
		Usage:   "Number of concurrent case workers per parallel suite (0 = default)",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   0,
		EnvVars: prefixEnvVars("DEFAULT_TIMEOUT"),
		Usage:   "Default timeout for individual steps, can be overridden per step",
	}
	CancelGrace = &cli.DurationFlag{
		Name:    "cancel-grace",
		Value:   0,
		EnvVars: prefixEnvVars("CANCEL_GRACE"),
		Usage:   "How long a cancelled step waits for its agent to stop",
	}
	FailFast = &cli.BoolFlag{
		Name:    "fail-fast",
		Value:   false,
		EnvVars: prefixEnvVars("FAIL_FAST"),
		Usage:   "Abort the whole run when a step's requirement cannot be resolved",
	}
	Strict = &cli.BoolFlag{
		Name:    "strict",
		Value:   false,
		EnvVars: prefixEnvVars("STRICT"),
		Usage:   "Treat double finalization of a node as a fatal framework defect",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: prefixEnvVars("SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates during test execution",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   0,
		EnvVars: prefixEnvVars("PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: trace, debug, info, warn, error",
	}
)

var requiredFlags = []cli.Flag{
	Plan,
}

var optionalFlags = []cli.Flag{
	Topology,
	RunInterval,
	Concurrency,
	DefaultTimeout,
	CancelGrace,
	FailFast,
	Strict,
	ShowProgress,
	ProgressInterval,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
