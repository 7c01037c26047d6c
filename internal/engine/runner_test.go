package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/talgya/edgeworth/internal/agents"
	"github.com/talgya/edgeworth/internal/market"
)

func mustAgent(t *testing.T, id agents.AgentID, coeffA, coeffB float64) agents.Agent {
	t.Helper()
	a, err := agents.New(id, "", 0, 0, coeffA, coeffB)
	if err != nil {
		t.Fatalf("agents.New: %v", err)
	}
	return a
}

func pairMarket(t *testing.T, opts ...market.Option) *market.Market {
	t.Helper()
	population := []agents.Agent{mustAgent(t, 0, 1, 5), mustAgent(t, 1, 8, 1)}
	balances := []agents.Balance{{A: 1, B: 2}, {A: 3, B: 4}}
	m, err := market.New(population, balances, opts...)
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	return m
}

func TestRunner_RunsToSettlement(t *testing.T) {
	r := NewRunner(pairMarket(t))
	r.Interval = 0

	var trades []market.Trade
	var rounds []int
	settled := false
	r.OnTrade = func(round int, tr market.Trade) {
		rounds = append(rounds, round)
		trades = append(trades, tr)
	}
	r.OnSettled = func(n int, report market.Report) {
		settled = true
		if n != 1 {
			t.Errorf("settled after %d rounds, want 1", n)
		}
		if !report.Valid {
			t.Errorf("terminal report invalid: %s", report)
		}
	}

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !settled {
		t.Fatalf("OnSettled never fired")
	}
	if len(trades) != 1 || rounds[0] != 0 {
		t.Fatalf("trades %v rounds %v", trades, rounds)
	}
	if trades[0].Price != 4.1 {
		t.Fatalf("price %g, want 4.1", trades[0].Price)
	}

	snap := r.Snapshot()
	if snap.State != market.StateSettled || snap.Rounds != 1 {
		t.Fatalf("snapshot %+v", snap)
	}
	if r.Running() {
		t.Fatalf("runner still running after Run returned")
	}
}

func TestRunner_StopWhilePaused(t *testing.T) {
	r := NewRunner(pairMarket(t))
	r.SetSpeed(0)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	time.Sleep(50 * time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stopped runner did not return")
	}

	snap := r.Snapshot()
	if snap.Rounds != 0 || snap.State != market.StateTrading {
		t.Fatalf("paused runner traded: %+v", snap)
	}
}

func TestRunner_StopBetweenTrades(t *testing.T) {
	population := []agents.Agent{
		mustAgent(t, 0, 1, 2),
		mustAgent(t, 1, 2, 1),
		mustAgent(t, 2, 2, 1),
	}
	balances := []agents.Balance{{A: 10}, {B: 1}, {B: 1}}
	m, err := market.New(population, balances)
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}

	r := NewRunner(m)
	r.Interval = 20 * time.Millisecond
	r.OnTrade = func(round int, tr market.Trade) {
		// Stop from inside the callback: the loop must notice before the
		// second trade.
		r.Stop()
	}

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stopped runner did not return")
	}

	snap := r.Snapshot()
	if snap.Rounds != 1 {
		t.Fatalf("executed %d rounds after stop, want 1", snap.Rounds)
	}
	if snap.State != market.StateTrading {
		t.Fatalf("stopped runner reported %v", snap.State)
	}
}

func TestRunner_SurfacesRoundCap(t *testing.T) {
	population := []agents.Agent{
		mustAgent(t, 0, 1, 2),
		mustAgent(t, 1, 2, 1),
		mustAgent(t, 2, 2, 1),
	}
	balances := []agents.Balance{{A: 10}, {B: 1}, {B: 1}}
	m, err := market.New(population, balances, market.WithMaxRounds(1))
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}

	r := NewRunner(m)
	r.Interval = 0

	var capErr *market.IterationCapError
	if err := r.Run(); !errors.As(err, &capErr) {
		t.Fatalf("err %v, want IterationCapError", err)
	}
}

func TestRunner_Accessors(t *testing.T) {
	r := NewRunner(pairMarket(t))

	r.SetSpeed(-3)
	if r.Speed() != 0 {
		t.Fatalf("negative speed not clamped: %g", r.Speed())
	}
	r.SetSpeed(2)
	if r.Speed() != 2 {
		t.Fatalf("speed %g, want 2", r.Speed())
	}

	if n := len(r.Population()); n != 2 {
		t.Fatalf("population %d, want 2", n)
	}
	bids, asks := r.Book()
	if len(bids) != 2 || len(asks) != 2 {
		t.Fatalf("book %d/%d, want 2/2", len(bids), len(asks))
	}

	snap := r.Snapshot()
	if snap.TotalUtility != 39 {
		t.Fatalf("total utility %g, want 39", snap.TotalUtility)
	}
}
