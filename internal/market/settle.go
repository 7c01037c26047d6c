package market

import (
	"fmt"

	"github.com/talgya/edgeworth/internal/agents"
)

// InvariantViolationError reports a settlement that would break a market
// invariant. It signals a defect in the matcher or clearing calculator, not a
// normal runtime condition: the run must stop, and the balance table is left
// exactly as it was before the offending trade.
type InvariantViolationError struct {
	Reason       string
	Trade        Trade
	BuyerBefore  agents.Balance
	BuyerAfter   agents.Balance
	SellerBefore agents.Balance
	SellerAfter  agents.Balance
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("settlement invariant violated: %s (trade buyer=%d seller=%d amount_a=%g amount_b=%g price=%g; buyer %v -> %v, seller %v -> %v)",
		e.Reason, e.Trade.Buyer, e.Trade.Seller, e.Trade.AmountA, e.Trade.AmountB, e.Trade.Price,
		e.BuyerBefore, e.BuyerAfter, e.SellerBefore, e.SellerAfter)
}

// settle applies a trade to the balance table. Postconditions are checked
// before anything is committed: no balance component may go negative, and
// both parties' utility must strictly increase. On violation the table is
// untouched and the returned error carries the full before/after picture.
//
// Utility improvement is checked on the trade deltas, not on balance totals:
// with linear utility the two are equivalent, and the delta form stays exact
// for trades far smaller than the holdings they land on.
func settle(population []agents.Agent, balances []agents.Balance, tr Trade) error {
	buyer := population[tr.Buyer]
	seller := population[tr.Seller]
	buyerBefore := balances[tr.Buyer]
	sellerBefore := balances[tr.Seller]

	buyerAfter := agents.Balance{A: buyerBefore.A + tr.AmountA, B: buyerBefore.B - tr.AmountB}
	sellerAfter := agents.Balance{A: sellerBefore.A - tr.AmountA, B: sellerBefore.B + tr.AmountB}

	fail := func(reason string) error {
		return &InvariantViolationError{
			Reason:       reason,
			Trade:        tr,
			BuyerBefore:  buyerBefore,
			BuyerAfter:   buyerAfter,
			SellerBefore: sellerBefore,
			SellerAfter:  sellerAfter,
		}
	}

	if buyerAfter.A < 0 || buyerAfter.B < 0 || sellerAfter.A < 0 || sellerAfter.B < 0 {
		return fail("balance would go negative")
	}
	if buyer.Utility(tr.AmountA, 0) <= buyer.Utility(0, tr.AmountB) {
		return fail("buyer utility does not strictly increase")
	}
	if seller.Utility(0, tr.AmountB) <= seller.Utility(tr.AmountA, 0) {
		return fail("seller utility does not strictly increase")
	}

	balances[tr.Buyer] = buyerAfter
	balances[tr.Seller] = sellerAfter
	return nil
}
