// Package scenario loads hand-written market fixtures from JSON. A fixture
// pins an explicit population instead of a seeded draw, for experiments and
// regression cases with known terminal allocations.
package scenario

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/edgeworth/internal/agents"
)

//go:embed scenario.schema.json
var schemaJSON string

// Fixtures are validated against the embedded schema before decoding, so a
// malformed file fails with a pointer into the document rather than a zero
// value smuggled into the market.
var schema = jsonschema.MustCompileString("scenario.schema.json", schemaJSON)

// AgentSpec is one agent in a fixture. Ids are assigned by position.
type AgentSpec struct {
	Name   string  `json:"name,omitempty"`
	ProdA  float64 `json:"prod_a"`
	ProdB  float64 `json:"prod_b"`
	CoeffA float64 `json:"coeff_a"`
	CoeffB float64 `json:"coeff_b"`
}

// Expect pins the terminal segment sizes a fixture is known to settle into.
type Expect struct {
	Prefix int `json:"prefix"`
	Middle int `json:"middle"`
	Suffix int `json:"suffix"`
}

// Scenario is a decoded fixture.
type Scenario struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Agents      []AgentSpec `json:"agents"`
	Expect      *Expect     `json:"expect,omitempty"`
}

// Parse validates raw fixture bytes against the schema and decodes them.
func Parse(raw []byte) (*Scenario, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}

	var sc Scenario
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and validates a fixture file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Build materializes the fixture into a population and its initial balances,
// ready for market.New.
func (s *Scenario) Build() ([]agents.Agent, []agents.Balance, error) {
	population := make([]agents.Agent, 0, len(s.Agents))
	balances := make([]agents.Balance, 0, len(s.Agents))
	for i, spec := range s.Agents {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("agent-%d", i)
		}
		a, err := agents.New(agents.AgentID(i), name, spec.ProdA, spec.ProdB, spec.CoeffA, spec.CoeffB)
		if err != nil {
			return nil, nil, fmt.Errorf("scenario %q: agent %d: %w", s.Name, i, err)
		}
		population = append(population, a)
		balances = append(balances, a.InitialBalance())
	}
	return population, balances, nil
}
