// Package agents provides the trader data model and deterministic population generation.
package agents

import (
	"errors"
	"fmt"
	"math"
)

// AgentID is an agent's position in the population: 0-based, stable for the run.
// Balances and trades refer to agents by this index.
type AgentID int

// Agent holds one trader's immutable parameters. Agents never mutate after
// construction; they are read-only inputs to every market operation.
type Agent struct {
	ID   AgentID `json:"id"`
	Name string  `json:"name"`

	// Production capacities. Consumed once, at population setup, to seed the
	// agent's initial endowment of goods A and B.
	ProdA float64 `json:"prod_a"`
	ProdB float64 `json:"prod_b"`

	// Marginal utility per unit of good A and good B. Utility is linear, so
	// these fully determine the agent's preferences. Both strictly positive.
	CoeffA float64 `json:"coeff_a"`
	CoeffB float64 `json:"coeff_b"`
}

// ErrInvalidAgent reports agent parameters that violate construction preconditions.
var ErrInvalidAgent = errors.New("invalid agent parameters")

// New validates and constructs an agent. Utility coefficients must be strictly
// positive and finite: the indifference price divides by CoeffB, and a zero or
// negative marginal utility has no meaning in this model. Production capacities
// must be non-negative and finite. Rejecting bad parameters here means the
// market core never has to guard a division.
func New(id AgentID, name string, prodA, prodB, coeffA, coeffB float64) (Agent, error) {
	if id < 0 {
		return Agent{}, fmt.Errorf("%w: id %d is negative", ErrInvalidAgent, id)
	}
	for _, v := range []float64{prodA, prodB, coeffA, coeffB} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Agent{}, fmt.Errorf("%w: agent %d has non-finite parameter", ErrInvalidAgent, id)
		}
	}
	if coeffA <= 0 || coeffB <= 0 {
		return Agent{}, fmt.Errorf("%w: agent %d coefficients (%g, %g) must be > 0",
			ErrInvalidAgent, id, coeffA, coeffB)
	}
	if prodA < 0 || prodB < 0 {
		return Agent{}, fmt.Errorf("%w: agent %d production (%g, %g) must be >= 0",
			ErrInvalidAgent, id, prodA, prodB)
	}
	return Agent{ID: id, Name: name, ProdA: prodA, ProdB: prodB, CoeffA: coeffA, CoeffB: coeffB}, nil
}

// Utility evaluates the agent's linear utility over a bundle of goods.
func (a Agent) Utility(qa, qb float64) float64 {
	return a.CoeffA*qa + a.CoeffB*qb
}

// IndifferencePrice is the price of A in units of B at which the agent is
// exactly indifferent to trading: the ratio of marginal utilities. An agent
// buys A below this price and sells A above it.
func (a Agent) IndifferencePrice() float64 {
	return a.CoeffA / a.CoeffB
}

// Balance is one agent's mutable holdings of goods A and B, indexed by the
// agent's ID in the population's balance table. Both components stay >= 0;
// settlement enforces this after every trade.
type Balance struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// InitialBalance seeds an agent's endowment from its production capacities.
func (a Agent) InitialBalance() Balance {
	return Balance{A: a.ProdA, B: a.ProdB}
}
