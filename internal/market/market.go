package market

import (
	"fmt"

	"github.com/talgya/edgeworth/internal/agents"
)

// State is the driver's lifecycle phase. Trading transitions to itself on
// every settled trade and to Settled when the matcher finds nothing; there
// are no other states.
type State uint8

const (
	StateTrading State = iota
	StateSettled
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateTrading:
		return "trading"
	case StateSettled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// IterationCapError reports that the configured round cap was reached before
// the market settled. It converts a non-convergence bug into a reported
// failure instead of a hang.
type IterationCapError struct {
	Cap int
}

func (e *IterationCapError) Error() string {
	return fmt.Sprintf("market did not settle within %d rounds", e.Cap)
}

// Market owns a population and its mutable balance table and drives pairwise
// trading to the no-trade fixed point. Agents are immutable; the balance
// table is the only mutable state, owned by exactly one Market and never
// shared. Single-threaded: callers serialize access.
type Market struct {
	population []agents.Agent
	balances   []agents.Balance
	state      State
	rounds     int
	bounds     PriceBounds
	maxRounds  int
}

// Option configures a Market at construction.
type Option func(*Market)

// WithPriceBounds clamps clearing prices for floor/cap experiments.
func WithPriceBounds(b PriceBounds) Option {
	return func(m *Market) { m.bounds = b }
}

// WithMaxRounds caps the number of executed trades; 0 means unbounded.
func WithMaxRounds(n int) Option {
	return func(m *Market) { m.maxRounds = n }
}

// New validates the population and builds a market over a private copy of the
// inputs. Agent ids must equal their position, balances must align with the
// population and hold no negative components.
func New(population []agents.Agent, balances []agents.Balance, opts ...Option) (*Market, error) {
	if len(population) != len(balances) {
		return nil, fmt.Errorf("market: %d agents but %d balances", len(population), len(balances))
	}
	for i := range population {
		if population[i].ID != agents.AgentID(i) {
			return nil, fmt.Errorf("market: agent at position %d has id %d", i, population[i].ID)
		}
		if balances[i].A < 0 || balances[i].B < 0 {
			return nil, fmt.Errorf("market: agent %d starts with negative balance %+v", i, balances[i])
		}
	}

	m := &Market{
		population: append([]agents.Agent(nil), population...),
		balances:   append([]agents.Balance(nil), balances...),
		state:      StateTrading,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.bounds.Validate(); err != nil {
		return nil, fmt.Errorf("market: %w", err)
	}
	if m.maxRounds < 0 {
		return nil, fmt.Errorf("market: max rounds %d must be >= 0", m.maxRounds)
	}
	return m, nil
}

// Len returns the population size.
func (m *Market) Len() int { return len(m.population) }

// State returns the current driver state.
func (m *Market) State() State { return m.state }

// Rounds returns the number of trades executed so far.
func (m *Market) Rounds() int { return m.rounds }

// Bounds returns the configured price bounds.
func (m *Market) Bounds() PriceBounds { return m.bounds }

// Population returns a copy of the agent list.
func (m *Market) Population() []agents.Agent {
	return append([]agents.Agent(nil), m.population...)
}

// Balances returns a copy of the balance table.
func (m *Market) Balances() []agents.Balance {
	return append([]agents.Balance(nil), m.balances...)
}

// Balance returns one agent's current balance.
func (m *Market) Balance(id agents.AgentID) (agents.Balance, bool) {
	if id < 0 || int(id) >= len(m.balances) {
		return agents.Balance{}, false
	}
	return m.balances[id], true
}

// Book returns the orders every agent would place this round, in id order.
// Diagnostic snapshot; the matcher regenerates orders itself.
func (m *Market) Book() (bids, asks []Order) {
	for i := range m.population {
		bid, ask := GenerateOrders(m.population[i], m.balances[i])
		if bid != nil {
			bids = append(bids, *bid)
		}
		if ask != nil {
			asks = append(asks, *ask)
		}
	}
	return bids, asks
}

// TotalUtility sums every agent's utility over its current balance. Strictly
// increases with each executed trade.
func (m *Market) TotalUtility() float64 {
	var total float64
	for i := range m.population {
		total += m.population[i].Utility(m.balances[i].A, m.balances[i].B)
	}
	return total
}

// FindNextTrade returns the trade the market would execute next, without
// executing it. Pure.
func (m *Market) FindNextTrade() (Trade, bool) {
	return findNextTrade(m.population, m.balances, m.bounds)
}

// ExecuteOneTrade settles the next trade in place. It returns the executed
// trade (nil when the market found none) and done=true once the market is
// settled. A settled market stays settled; calling again is a no-op.
// An invariant violation or a round-cap hit aborts with the balances
// untouched by the failed step.
func (m *Market) ExecuteOneTrade() (*Trade, bool, error) {
	if m.state == StateSettled {
		return nil, true, nil
	}
	if m.maxRounds > 0 && m.rounds >= m.maxRounds {
		return nil, false, &IterationCapError{Cap: m.maxRounds}
	}

	tr, ok := findNextTrade(m.population, m.balances, m.bounds)
	if !ok {
		m.state = StateSettled
		return nil, true, nil
	}
	if err := settle(m.population, m.balances, tr); err != nil {
		return nil, false, err
	}
	m.rounds++
	return &tr, false, nil
}

// ExecuteAllTrades drives the market to settlement and then verifies the
// terminal allocation once. The partition check only applies to an unbounded
// market: a binding floor or cap stops trading before the book uncrosses.
func (m *Market) ExecuteAllTrades() error {
	for {
		_, done, err := m.ExecuteOneTrade()
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	if m.bounds.Enabled() {
		return nil
	}
	report := m.Verify()
	if !report.Valid {
		return fmt.Errorf("%w: %s", ErrUnsettledMarket, report)
	}
	return nil
}

// Verify runs the terminal-state partition check over the current balances.
func (m *Market) Verify() Report {
	return VerifyTerminal(m.population, m.balances)
}
