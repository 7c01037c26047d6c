// Package market implements the bilateral double-auction clearing engine:
// order generation from holdings, single-trade matching, midpoint clearing,
// settlement under economic invariants, and terminal-state verification.
package market

import (
	"fmt"

	"github.com/talgya/edgeworth/internal/agents"
)

// Side distinguishes buy and sell orders.
type Side uint8

const (
	SideBid Side = iota // buy good A, pay in B
	SideAsk             // sell good A, receive B
)

// String returns the wire name of the side.
func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Order is one agent's willingness to trade good A, derived from its current
// balance. A bid buys up to AmountA paying at most Price (in B per unit A);
// an ask sells up to AmountA accepting at least Price. Orders are regenerated
// from balances every round and never persisted or mutated.
type Order struct {
	Agent   agents.AgentID `json:"agent"`
	Side    Side           `json:"side"`
	AmountA float64        `json:"amount_a"`
	Price   float64        `json:"price"`
}

// GenerateOrders derives at most one bid and one ask for an agent. Both sides
// quote the agent's own indifference price: agents are truthful and myopic.
//
// The bid quantity is the most A the agent could buy spending its entire B
// holding at that price; the ask quantity is its entire A holding. A nil
// return means the agent has nothing to offer on that side. Pure function of
// (agent, balance).
func GenerateOrders(a agents.Agent, bal agents.Balance) (bid, ask *Order) {
	price := a.IndifferencePrice()
	if bal.B > 0 {
		bid = &Order{Agent: a.ID, Side: SideBid, AmountA: bal.B / price, Price: price}
	}
	if bal.A > 0 {
		ask = &Order{Agent: a.ID, Side: SideAsk, AmountA: bal.A, Price: price}
	}
	return bid, ask
}
