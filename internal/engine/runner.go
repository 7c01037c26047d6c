// Package engine paces a market run in real time, one trade per tick.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/edgeworth/internal/agents"
	"github.com/talgya/edgeworth/internal/market"
)

// Runner drives one market to settlement on a paced loop. It owns the
// market: every access while the loop runs goes through the runner's lock,
// so concurrent readers (the API server) see consistent snapshots between
// trades. Set Interval and the callbacks before calling Run.
type Runner struct {
	Interval time.Duration // base delay between trades

	// OnTrade fires after each settled trade with its zero-based round.
	// OnSettled fires once, when the matcher finds no crossing pair.
	// Both run on the runner's goroutine.
	OnTrade   func(round int, tr market.Trade)
	OnSettled func(rounds int, report market.Report)

	mu      sync.Mutex
	market  *market.Market
	speed   float64
	running bool
	stopped bool
}

// NewRunner wraps a market in a paced runner at normal speed.
func NewRunner(m *market.Market) *Runner {
	return &Runner{
		Interval: 250 * time.Millisecond,
		market:   m,
		speed:    1,
	}
}

// Run executes trades until the market settles, an invariant trips, a round
// cap is hit or Stop is called. Blocks until one of those happens; a stopped
// run returns nil with the market still in the trading state.
func (r *Runner) Run() error {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	slog.Info("runner started", "agents", r.market.Len(), "interval", r.Interval)

	for {
		r.mu.Lock()
		if r.stopped {
			rounds := r.market.Rounds()
			r.mu.Unlock()
			slog.Info("runner stopped", "rounds", rounds)
			return nil
		}
		speed := r.speed
		r.mu.Unlock()

		if speed <= 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		r.mu.Lock()
		tr, done, err := r.market.ExecuteOneTrade()
		rounds := r.market.Rounds()
		var report market.Report
		if done {
			report = r.market.Verify()
		}
		r.mu.Unlock()

		if err != nil {
			slog.Error("runner aborted", "rounds", rounds, "error", err)
			return err
		}
		if done {
			slog.Info("market settled", "rounds", rounds, "partition", report.String())
			if r.OnSettled != nil {
				r.OnSettled(rounds, report)
			}
			return nil
		}
		if r.OnTrade != nil {
			r.OnTrade(rounds-1, *tr)
		}

		elapsed := time.Since(start)
		target := time.Duration(float64(r.Interval) / speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}
}

// Stop ends the run at the next loop turn. Safe from any goroutine.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Speed returns the pace multiplier.
func (r *Runner) Speed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed
}

// SetSpeed adjusts the pace multiplier; 0 pauses the loop between trades.
func (r *Runner) SetSpeed(v float64) {
	if v < 0 {
		v = 0
	}
	r.mu.Lock()
	r.speed = v
	r.mu.Unlock()
}

// Snapshot is a consistent read of the market between trades.
type Snapshot struct {
	State        market.State     `json:"state"`
	Rounds       int              `json:"rounds"`
	Balances     []agents.Balance `json:"balances"`
	TotalUtility float64          `json:"total_utility"`
}

// Snapshot captures the market under the runner's lock.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		State:        r.market.State(),
		Rounds:       r.market.Rounds(),
		Balances:     r.market.Balances(),
		TotalUtility: r.market.TotalUtility(),
	}
}

// Population returns the market's immutable agent list.
func (r *Runner) Population() []agents.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.market.Population()
}

// Book returns the orders every agent would quote right now.
func (r *Runner) Book() (bids, asks []market.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.market.Book()
}

// Verify runs the terminal partition check on the current allocation.
func (r *Runner) Verify() market.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.market.Verify()
}
