package market

import (
	"fmt"

	"github.com/talgya/edgeworth/internal/agents"
)

// PriceBounds optionally clamps the clearing price, for price floor/cap
// experiments. The zero value disables both bounds; a zero component disables
// that bound. When a bound binds, the pair only trades if the clamped price
// still leaves both parties strict surplus, so a tight enough bound halts the
// market early.
type PriceBounds struct {
	Floor float64 `yaml:"floor" json:"floor,omitempty"`
	Cap   float64 `yaml:"cap" json:"cap,omitempty"`
}

// Enabled reports whether any bound is active.
func (b PriceBounds) Enabled() bool { return b.Floor > 0 || b.Cap > 0 }

// Validate rejects malformed bounds.
func (b PriceBounds) Validate() error {
	if b.Floor < 0 || b.Cap < 0 {
		return fmt.Errorf("price bounds (%g, %g) must be >= 0", b.Floor, b.Cap)
	}
	if b.Floor > 0 && b.Cap > 0 && b.Floor > b.Cap {
		return fmt.Errorf("price floor %g exceeds cap %g", b.Floor, b.Cap)
	}
	return nil
}

// Clamp applies the active bounds to a price.
func (b PriceBounds) Clamp(p float64) float64 {
	if b.Floor > 0 && p < b.Floor {
		p = b.Floor
	}
	if b.Cap > 0 && p > b.Cap {
		p = b.Cap
	}
	return p
}

// clearingTerms computes the trade for a matched bid/ask pair from the
// parties' current balances (re-read here, never from order snapshots).
//
// The clearing price is the midpoint of the two quotes, clamped by bounds.
// Quantity is set by whichever party binds first: if the buyer cannot pay for
// the seller's whole A holding, the buyer spends its entire B; otherwise the
// seller's entire A holding moves at the clearing price.
//
// Returns ok=false when a binding floor or cap pushes the price outside the
// open (ask, bid) interval, leaving one party without strict surplus. With
// bounds disabled the midpoint always lies inside that interval.
func clearingTerms(bid, ask Order, buyerBal, sellerBal agents.Balance, bounds PriceBounds) (Trade, bool) {
	price := bounds.Clamp((bid.Price + ask.Price) / 2)
	if price <= ask.Price || price >= bid.Price {
		return Trade{}, false
	}

	var amountA, amountB float64
	maxAffordableA := buyerBal.B / price
	if maxAffordableA < sellerBal.A {
		// Buyer binds: spends its whole B holding.
		amountA = maxAffordableA
		amountB = buyerBal.B
	} else {
		// Seller binds: its whole A holding moves.
		amountA = sellerBal.A
		amountB = price * sellerBal.A
		// price*A <= buyer.B holds in exact arithmetic here; keep the float
		// product from landing one ulp past the buyer's balance.
		if amountB > buyerBal.B {
			amountB = buyerBal.B
		}
	}

	return Trade{
		Buyer:    bid.Agent,
		Seller:   ask.Agent,
		AmountA:  amountA,
		AmountB:  amountB,
		Price:    price,
		BidPrice: bid.Price,
		AskPrice: ask.Price,
	}, true
}
