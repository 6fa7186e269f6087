package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end ghjkfile test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Ghjkfile is the CUE source under test.
	Ghjkfile string `yaml:"ghjkfile"`

	// Flow runs in order against one data directory.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and cooked envs.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep executes a task or cooks an env. Exactly one of Exec and Cook is
// set.
type FlowStep struct {
	Exec   string        `yaml:"exec,omitempty"`
	Cook   string        `yaml:"cook,omitempty"`
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks one step's outcome. Without an Error the step must
// succeed.
type ExpectClause struct {
	// Stdout is the exact output of the executed task itself.
	Stdout *string `yaml:"stdout,omitempty"`

	// Error is a substring of the expected failure.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or a cooked env.
type Assertion struct {
	Type string `yaml:"type"`

	// Task is used by trace_contains and trace_count.
	Task string `yaml:"task,omitempty"`

	// Tasks is the expected first-run order for trace_order.
	Tasks []string `yaml:"tasks,omitempty"`

	// Count is the expected number of runs for trace_count.
	Count int `yaml:"count,omitempty"`

	// Env and Expect are used by final_env. Subset match.
	Env    string            `yaml:"env,omitempty"`
	Expect map[string]string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalEnv      = "final_env"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Ghjkfile == "" {
		return fmt.Errorf("ghjkfile is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if (step.Exec == "") == (step.Cook == "") {
			return fmt.Errorf("flow[%d]: exactly one of exec and cook is required", i)
		}
		if step.Cook != "" && step.Expect != nil && step.Expect.Stdout != nil {
			return fmt.Errorf("flow[%d].expect: stdout only applies to exec", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Tasks) == 0 {
			return fmt.Errorf("assertions[%d]: tasks list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalEnv:
		if a.Env == "" {
			return fmt.Errorf("assertions[%d]: env is required for final_env", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_env", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
