// Package stats summarizes finished runs and audits their trade records.
package stats

import (
	"fmt"

	"github.com/grd/stat"
	"github.com/shopspring/decimal"

	"github.com/talgya/edgeworth/internal/agents"
	"github.com/talgya/edgeworth/internal/market"
)

// Summary aggregates a finished run for logs, the API and the CLI.
type Summary struct {
	Trades        int     `json:"trades"`
	MeanPrice     float64 `json:"mean_price"`
	PriceStdDev   float64 `json:"price_std_dev"`
	TurnoverA     float64 `json:"turnover_a"`
	TurnoverB     float64 `json:"turnover_b"`
	UtilityBefore float64 `json:"utility_before"`
	UtilityAfter  float64 `json:"utility_after"`
}

// Summarize computes run statistics from the trade record and the initial and
// final allocations.
func Summarize(population []agents.Agent, initial, final []agents.Balance, trades []market.Trade) (Summary, error) {
	if len(population) != len(initial) || len(population) != len(final) {
		return Summary{}, fmt.Errorf("stats: %d agents, %d initial, %d final balances",
			len(population), len(initial), len(final))
	}

	s := Summary{Trades: len(trades)}

	prices := make(stat.Float64Slice, 0, len(trades))
	for _, tr := range trades {
		prices = append(prices, tr.Price)
		s.TurnoverA += tr.AmountA
		s.TurnoverB += tr.AmountB
	}
	if len(prices) > 0 {
		s.MeanPrice = stat.Mean(prices)
	}
	if len(prices) > 1 {
		s.PriceStdDev = stat.Sd(prices)
	}

	for i := range population {
		s.UtilityBefore += population[i].Utility(initial[i].A, initial[i].B)
		s.UtilityAfter += population[i].Utility(final[i].A, final[i].B)
	}
	return s, nil
}

// Audit is the result of replaying a trade record in exact decimal
// arithmetic. Conserved asserts the replay's zero-sum identity: every trade
// moves one quantity per good between two agents, so the replayed totals must
// equal the initial totals digit for digit. Overdraft catches a record whose
// trades, in the order given, draw some balance below zero. MaxDrift bounds
// the gap between the engine's float settlement and the exact replay; a
// healthy run keeps it within a few ulps per trade.
type Audit struct {
	Conserved bool            `json:"conserved"`
	Overdraft string          `json:"overdraft,omitempty"`
	MaxDrift  decimal.Decimal `json:"max_drift"`
}

// Clean reports whether the record survived the replay intact.
func (a Audit) Clean() bool { return a.Conserved && a.Overdraft == "" }

// AuditTrades replays trades over the initial allocation using decimal
// arithmetic and cross-checks the recorded final allocation.
func AuditTrades(initial, final []agents.Balance, trades []market.Trade) (Audit, error) {
	if len(initial) != len(final) {
		return Audit{}, fmt.Errorf("stats: %d initial but %d final balances", len(initial), len(final))
	}

	type holding struct{ a, b decimal.Decimal }
	replay := make([]holding, len(initial))
	totalA, totalB := decimal.Zero, decimal.Zero
	for i, bal := range initial {
		replay[i] = holding{decimal.NewFromFloat(bal.A), decimal.NewFromFloat(bal.B)}
		totalA = totalA.Add(replay[i].a)
		totalB = totalB.Add(replay[i].b)
	}

	audit := Audit{Conserved: true}
	for round, tr := range trades {
		if int(tr.Buyer) >= len(replay) || int(tr.Seller) >= len(replay) || tr.Buyer < 0 || tr.Seller < 0 {
			return Audit{}, fmt.Errorf("stats: trade %d names unknown agent (%d, %d)", round, tr.Buyer, tr.Seller)
		}
		dA := decimal.NewFromFloat(tr.AmountA)
		dB := decimal.NewFromFloat(tr.AmountB)

		buyer, seller := &replay[tr.Buyer], &replay[tr.Seller]
		buyer.a = buyer.a.Add(dA)
		buyer.b = buyer.b.Sub(dB)
		seller.a = seller.a.Sub(dA)
		seller.b = seller.b.Add(dB)

		if audit.Overdraft == "" {
			switch {
			case buyer.b.IsNegative():
				audit.Overdraft = fmt.Sprintf("trade %d overdraws agent %d good B", round, tr.Buyer)
			case seller.a.IsNegative():
				audit.Overdraft = fmt.Sprintf("trade %d overdraws agent %d good A", round, tr.Seller)
			}
		}
	}

	gotA, gotB := decimal.Zero, decimal.Zero
	for i := range replay {
		gotA = gotA.Add(replay[i].a)
		gotB = gotB.Add(replay[i].b)

		driftA := replay[i].a.Sub(decimal.NewFromFloat(final[i].A)).Abs()
		driftB := replay[i].b.Sub(decimal.NewFromFloat(final[i].B)).Abs()
		if driftA.GreaterThan(audit.MaxDrift) {
			audit.MaxDrift = driftA
		}
		if driftB.GreaterThan(audit.MaxDrift) {
			audit.MaxDrift = driftB
		}
	}
	if !gotA.Equal(totalA) || !gotB.Equal(totalB) {
		audit.Conserved = false
	}
	return audit, nil
}
