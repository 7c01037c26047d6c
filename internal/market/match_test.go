package market

import (
	"testing"

	"github.com/talgya/edgeworth/internal/agents"
)

// The canonical two-agent scenario: agent 0 prices A at 0.2, agent 1 at 8.0.
// The spread admits exactly one trade.
func canonicalPair(t testing.TB) ([]agents.Agent, []agents.Balance) {
	t.Helper()
	a0 := mustAgent(t, 0, 1, 5)
	a1 := mustAgent(t, 1, 8, 1)
	return []agents.Agent{a0, a1}, []agents.Balance{{A: 1, B: 2}, {A: 3, B: 4}}
}

func TestFindNextTrade_CanonicalPair(t *testing.T) {
	population, balances := canonicalPair(t)

	tr, ok := findNextTrade(population, balances, PriceBounds{})
	if !ok {
		t.Fatalf("expected a trade")
	}
	if tr.Buyer != 1 || tr.Seller != 0 {
		t.Fatalf("parties (%d, %d), want buyer=1 seller=0", tr.Buyer, tr.Seller)
	}
	if tr.BidPrice != 8 || tr.AskPrice != 0.2 {
		t.Fatalf("quotes (%g, %g), want (8, 0.2)", tr.BidPrice, tr.AskPrice)
	}
	if tr.Price != 4.1 {
		t.Fatalf("clearing price %g, want 4.1", tr.Price)
	}
	// The buyer's 4 B covers 4/4.1 < 1 units: buyer binds.
	if tr.AmountA != 4/4.1 {
		t.Fatalf("amount_a %v, want %v", tr.AmountA, 4/4.1)
	}
	if tr.AmountB != 4 {
		t.Fatalf("amount_b %v, want 4", tr.AmountB)
	}
}

func TestFindNextTrade_CanonicalPairSettlesAfterOneTrade(t *testing.T) {
	population, balances := canonicalPair(t)

	tr, ok := findNextTrade(population, balances, PriceBounds{})
	if !ok {
		t.Fatalf("expected a trade")
	}
	if err := settle(population, balances, tr); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// The buyer's B is exhausted, so nothing crosses anymore.
	if _, ok := findNextTrade(population, balances, PriceBounds{}); ok {
		t.Fatalf("expected no further trade after the buyer spent its whole B")
	}

	report := VerifyTerminal(population, balances)
	if !report.Valid {
		t.Fatalf("terminal partition failed: %s", report)
	}
	if report.Prefix != 0 || report.Middle != 1 || report.Suffix != 1 {
		t.Fatalf("partition %d/%d/%d, want 0/1/1", report.Prefix, report.Middle, report.Suffix)
	}
}

func TestFindNextTrade_NoCrossWithoutSpread(t *testing.T) {
	// All agents at the same price: an ask priced exactly at the bid yields
	// zero surplus and must be excluded.
	population := []agents.Agent{mustAgent(t, 0, 2, 1), mustAgent(t, 1, 2, 1)}
	balances := []agents.Balance{{A: 5, B: 5}, {A: 5, B: 5}}

	if _, ok := findNextTrade(population, balances, PriceBounds{}); ok {
		t.Fatalf("equal-priced agents must not trade")
	}
}

func TestFindNextTrade_NeverSelfMatches(t *testing.T) {
	// A lone two-sided agent quotes both sides at one price; the strict
	// inequality keeps it from trading with itself.
	population := []agents.Agent{mustAgent(t, 0, 3, 2)}
	balances := []agents.Balance{{A: 4, B: 4}}

	if _, ok := findNextTrade(population, balances, PriceBounds{}); ok {
		t.Fatalf("single agent must never self-match")
	}
}

func TestFindNextTrade_EmptySides(t *testing.T) {
	a0 := mustAgent(t, 0, 1, 2)
	a1 := mustAgent(t, 1, 4, 1)

	// No B anywhere: no bids.
	if _, ok := findNextTrade([]agents.Agent{a0, a1},
		[]agents.Balance{{A: 3}, {A: 3}}, PriceBounds{}); ok {
		t.Fatalf("no bids possible without B holdings")
	}

	// No A anywhere: no asks.
	if _, ok := findNextTrade([]agents.Agent{a0, a1},
		[]agents.Balance{{B: 3}, {B: 3}}, PriceBounds{}); ok {
		t.Fatalf("no asks possible without A holdings")
	}

	// Empty population.
	if _, ok := findNextTrade(nil, nil, PriceBounds{}); ok {
		t.Fatalf("empty population must not trade")
	}
}

func TestFindNextTrade_TieBreaksToLowestID(t *testing.T) {
	t.Run("bid side", func(t *testing.T) {
		// Agents 0 and 1 quote the same bid price; agent 2 is the seller.
		population := []agents.Agent{
			mustAgent(t, 0, 2, 1),
			mustAgent(t, 1, 2, 1),
			mustAgent(t, 2, 1, 2),
		}
		balances := []agents.Balance{{B: 4}, {B: 4}, {A: 5}}

		tr, ok := findNextTrade(population, balances, PriceBounds{})
		if !ok {
			t.Fatalf("expected a trade")
		}
		if tr.Buyer != 0 {
			t.Fatalf("buyer %d, want the lowest-id bidder 0", tr.Buyer)
		}
		if tr.Seller != 2 {
			t.Fatalf("seller %d, want 2", tr.Seller)
		}
	})

	t.Run("ask side", func(t *testing.T) {
		// Agents 1 and 2 quote the same ask price; agent 0 is the buyer.
		population := []agents.Agent{
			mustAgent(t, 0, 2, 1),
			mustAgent(t, 1, 1, 2),
			mustAgent(t, 2, 1, 2),
		}
		balances := []agents.Balance{{B: 4}, {A: 5}, {A: 5}}

		tr, ok := findNextTrade(population, balances, PriceBounds{})
		if !ok {
			t.Fatalf("expected a trade")
		}
		if tr.Seller != 1 {
			t.Fatalf("seller %d, want the lowest-id asker 1", tr.Seller)
		}
	})
}

func TestFindNextTrade_PicksWidestSpread(t *testing.T) {
	// Highest bid is agent 3 (price 9); lowest qualifying ask is agent 0
	// (price 0.5), even though agents 1 and 2 also cross.
	population := []agents.Agent{
		mustAgent(t, 0, 1, 2), // 0.5
		mustAgent(t, 1, 1, 1), // 1.0
		mustAgent(t, 2, 3, 1), // 3.0
		mustAgent(t, 3, 9, 1), // 9.0
	}
	balances := []agents.Balance{{A: 2, B: 1}, {A: 2, B: 1}, {A: 2, B: 1}, {A: 2, B: 1}}

	tr, ok := findNextTrade(population, balances, PriceBounds{})
	if !ok {
		t.Fatalf("expected a trade")
	}
	if tr.Buyer != 3 || tr.Seller != 0 {
		t.Fatalf("parties (%d, %d), want the widest spread (3, 0)", tr.Buyer, tr.Seller)
	}
	if tr.Price != (9+0.5)/2 {
		t.Fatalf("clearing price %g, want %g", tr.Price, (9+0.5)/2)
	}
}

func TestFindNextTrade_BlockingBoundsSettleEarly(t *testing.T) {
	population, balances := canonicalPair(t)

	// Cap below every ask: nothing can clear.
	if _, ok := findNextTrade(population, balances, PriceBounds{Cap: 0.1}); ok {
		t.Fatalf("cap below the lowest ask must block all trades")
	}

	// Floor above every bid: nothing can clear.
	if _, ok := findNextTrade(population, balances, PriceBounds{Floor: 9}); ok {
		t.Fatalf("floor above the highest bid must block all trades")
	}
}
