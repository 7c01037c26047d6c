package market

import (
	"github.com/talgya/edgeworth/internal/agents"
)

// Trade is the result of matching one bid against one ask: AmountA moves
// seller to buyer, AmountB moves buyer to seller. It exists only long enough
// to be settled; harness layers may record it.
type Trade struct {
	Buyer    agents.AgentID `json:"buyer"`
	Seller   agents.AgentID `json:"seller"`
	AmountA  float64        `json:"amount_a"`
	AmountB  float64        `json:"amount_b"`
	Price    float64        `json:"price"`     // clearing price, B per unit A
	BidPrice float64        `json:"bid_price"` // buyer's quote
	AskPrice float64        `json:"ask_price"` // seller's quote
}

// findNextTrade scans the whole population's orders and picks the single next
// trade: the highest-priced bid against the lowest-priced ask strictly below
// it. Strict inequality excludes zero-surplus pairs, which also makes
// self-matching impossible. Ties on either side break to the lowest agent id
// (scan is in id order; the incumbent is replaced only on a strictly better
// price). Returns ok=false when no such pair exists: the terminal condition.
//
// Pure over (population, balances); greedily maximizing the price spread each
// round converges to the state where sorted indifference prices no longer
// cross.
func findNextTrade(population []agents.Agent, balances []agents.Balance, bounds PriceBounds) (Trade, bool) {
	var bestBid *Order
	asks := make([]Order, 0, len(population))

	for i := range population {
		bid, ask := GenerateOrders(population[i], balances[i])
		if bid != nil && (bestBid == nil || bid.Price > bestBid.Price) {
			bestBid = bid
		}
		if ask != nil {
			asks = append(asks, *ask)
		}
	}
	if bestBid == nil {
		return Trade{}, false
	}

	var bestAsk *Order
	for i := range asks {
		if asks[i].Price >= bestBid.Price {
			continue
		}
		if bestAsk == nil || asks[i].Price < bestAsk.Price {
			bestAsk = &asks[i]
		}
	}
	if bestAsk == nil {
		return Trade{}, false
	}

	return clearingTerms(*bestBid, *bestAsk, balances[bestBid.Agent], balances[bestAsk.Agent], bounds)
}
