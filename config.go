package flightcheck

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/flightcheck/flightcheck/flags"
)

// Config holds the application configuration
type Config struct {
	PlanFile         string        // path to the test tree definition
	TopologyFile     string        // path to the topology requirements, optional
	RunInterval      time.Duration // interval between test runs
	RunOnce          bool          // exit after one run
	Concurrency      int           // concurrent case workers per parallel suite
	DefaultTimeout   time.Duration // default step timeout, overridable per step
	CancelGrace      time.Duration // how long a cancelled step waits for its agent
	FailFast         bool          // abort the whole run on a mid-run resolution failure
	Strict           bool          // treat double finalization as a fatal defect
	ShowProgress     bool          // log periodic progress updates during runs
	ProgressInterval time.Duration // interval between progress updates
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger, planFile string, topologyFile string) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if planFile == "" {
		return nil, errors.New("plan file is required")
	}

	absPlan, err := filepath.Abs(planFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for plan '%s': %w", planFile, err)
	}

	var absTopology string
	if topologyFile != "" {
		absTopology, err = filepath.Abs(topologyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for topology '%s': %w", topologyFile, err)
		}
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	return &Config{
		PlanFile:         absPlan,
		TopologyFile:     absTopology,
		RunInterval:      runInterval,
		RunOnce:          runOnce,
		Concurrency:      ctx.Int(flags.Concurrency.Name),
		DefaultTimeout:   ctx.Duration(flags.DefaultTimeout.Name),
		CancelGrace:      ctx.Duration(flags.CancelGrace.Name),
		FailFast:         ctx.Bool(flags.FailFast.Name),
		Strict:           ctx.Bool(flags.Strict.Name),
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		Log:              logger,
	}, nil
}

// Check validates the configuration
func (c *Config) Check() error {
	if c.PlanFile == "" {
		return errors.New("plan file is required")
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency cannot be negative")
	}
	if c.Log == nil {
		return errors.New("logger is required")
	}
	return nil
}
