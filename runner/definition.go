package runner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flightcheck/flightcheck/constraint"
	"github.com/flightcheck/flightcheck/types"
)

// Definition is the declarative shape of a test tree: suites of cases of
// flights of steps. It is plain data; Build turns it into the runtime tree.
type Definition struct {
	Suites []SuiteDef `yaml:"suites"`
}

// SuiteDef declares a suite and its cases
type SuiteDef struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Policy      string    `yaml:"policy,omitempty"` // parallel (default) or sequential
	Cases       []CaseDef `yaml:"cases"`
}

// CaseDef declares a case and its flights
type CaseDef struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Flights     []FlightDef `yaml:"flights"`
}

// FlightDef declares an ordered collection of steps
type FlightDef struct {
	Name  string    `yaml:"name"`
	Steps []StepDef `yaml:"steps"`
}

// StepDef declares one atomic action and the requirement used to resolve the
// agent that executes it.
type StepDef struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description,omitempty"`
	Action      types.Action            `yaml:"action"`
	Requires    []constraint.Constraint `yaml:"requires"`
	Timeout     string                  `yaml:"timeout,omitempty"` // duration string, e.g. "30s"
	Expect      []string                `yaml:"expect,omitempty"`  // acceptable raw outcomes
	Independent bool                    `yaml:"independent,omitempty"`
}

// LoadDefinition reads a test tree definition from a YAML file
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition file: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing definition file: %w", err)
	}
	return &def, nil
}

// Build constructs the runtime tree from the definition. A single declared
// suite becomes the root; multiple suites are wrapped in a sequential
// synthetic root so the run always has one aggregation apex.
func (d *Definition) Build() (*types.Node, error) {
	if len(d.Suites) == 0 {
		return nil, fmt.Errorf("definition declares no suites")
	}

	suites := make([]*types.Node, 0, len(d.Suites))
	for _, sd := range d.Suites {
		suite, err := sd.build()
		if err != nil {
			return nil, err
		}
		suites = append(suites, suite)
	}

	if len(suites) == 1 {
		return suites[0], nil
	}
	root := types.NewSuite("run")
	root.Policy = types.PolicySequential
	for _, suite := range suites {
		root.AddChild(suite)
	}
	return root, nil
}

func (sd SuiteDef) build() (*types.Node, error) {
	if sd.Name == "" {
		return nil, fmt.Errorf("suite requires a name")
	}
	suite := types.NewSuite(sd.Name)
	suite.Description = sd.Description
	switch sd.Policy {
	case "", "parallel":
	case "sequential":
		suite.Policy = types.PolicySequential
	default:
		return nil, fmt.Errorf("suite %q: unknown policy %q", sd.Name, sd.Policy)
	}

	for _, cd := range sd.Cases {
		c, err := cd.build(sd.Name)
		if err != nil {
			return nil, err
		}
		suite.AddChild(c)
	}
	return suite, nil
}

func (cd CaseDef) build(suiteName string) (*types.Node, error) {
	if cd.Name == "" {
		return nil, fmt.Errorf("suite %q: case requires a name", suiteName)
	}
	c := types.NewCase(cd.Name)
	c.Description = cd.Description
	for _, fd := range cd.Flights {
		f, err := fd.build(cd.Name)
		if err != nil {
			return nil, err
		}
		c.AddChild(f)
	}
	return c, nil
}

func (fd FlightDef) build(caseName string) (*types.Node, error) {
	if fd.Name == "" {
		return nil, fmt.Errorf("case %q: flight requires a name", caseName)
	}
	f := types.NewFlight(fd.Name)
	for _, stepDef := range fd.Steps {
		step, err := stepDef.build(fd.Name)
		if err != nil {
			return nil, err
		}
		f.AddChild(step)
	}
	return f, nil
}

func (sd StepDef) build(flightName string) (*types.Node, error) {
	if sd.Name == "" {
		return nil, fmt.Errorf("flight %q: step requires a name", flightName)
	}
	if sd.Action.Name == "" {
		return nil, fmt.Errorf("step %q: action requires a name", sd.Name)
	}

	requirement, err := constraint.NewSet(sd.Requires...)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", sd.Name, err)
	}

	step := types.NewStep(sd.Name, sd.Action, requirement)
	step.Description = sd.Description
	step.Independent = sd.Independent

	if sd.Timeout != "" {
		timeout, err := time.ParseDuration(sd.Timeout)
		if err != nil {
			return nil, fmt.Errorf("step %q: parsing timeout: %w", sd.Name, err)
		}
		step.Timeout = timeout
	}

	for _, raw := range sd.Expect {
		status := types.Status(raw)
		if !status.IsTerminal() {
			return nil, fmt.Errorf("step %q: expected status %q is not a terminal status", sd.Name, raw)
		}
		step.Expected = append(step.Expected, status)
	}
	return step, nil
}
