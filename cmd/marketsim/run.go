package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/talgya/edgeworth/internal/market"
	"github.com/talgya/edgeworth/internal/persistence"
	"github.com/talgya/edgeworth/internal/stats"
	"github.com/talgya/edgeworth/internal/tape"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Execute one market run to settlement",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "scenario",
			Usage: "JSON scenario `FILE` instead of a seeded population",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "override the config seed",
		},
		&cli.BoolFlag{
			Name:  "no-db",
			Usage: "skip run persistence",
		},
		&cli.BoolFlag{
			Name:  "no-tape",
			Usage: "skip the trade tape",
		},
	},
	Action: doRun,
}

func doRun(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet("seed") {
		cfg.Seed = ctx.Int64("seed")
	}

	population, balances, profile, err := buildPopulation(cfg, ctx.String("scenario"))
	if err != nil {
		return err
	}

	m, err := market.New(population, balances,
		market.WithMaxRounds(cfg.MaxRounds),
		market.WithPriceBounds(cfg.PriceBounds))
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	slog.Info("run starting",
		"run_id", runID, "seed", cfg.Seed, "profile", profile, "agents", len(population))

	var db *persistence.DB
	if cfg.DBPath != "" && !ctx.Bool("no-db") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return err
		}
		db, err = persistence.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.CreateRun(runID, cfg.Seed, profile, len(population)); err != nil {
			return err
		}
		if err := db.SaveAgents(runID, population, balances); err != nil {
			return err
		}
	}

	var tapeW *tape.Writer
	var tapePath string
	if cfg.TapeDir != "" && !ctx.Bool("no-tape") {
		if err := os.MkdirAll(cfg.TapeDir, 0755); err != nil {
			return err
		}
		tapePath = filepath.Join(cfg.TapeDir, tape.Filename(runID))
		tapeW, err = tape.Create(tapePath, tape.Header{
			RunID:     runID,
			Seed:      cfg.Seed,
			Agents:    len(population),
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		defer tapeW.Close()
	}

	initial := m.Balances()
	var trades []market.Trade
	started := time.Now()

	for {
		tr, done, err := m.ExecuteOneTrade()
		if err != nil {
			if db != nil {
				if ferr := db.FinishRun(runID, persistence.StatusFailed, m.Rounds(), nil, m.Balances()); ferr != nil {
					slog.Error("failed-run record not saved", "run_id", runID, "error", ferr)
				}
			}
			return err
		}
		if done {
			break
		}

		round := len(trades)
		trades = append(trades, *tr)
		slog.Debug("trade settled",
			"round", round, "buyer", tr.Buyer, "seller", tr.Seller,
			"amount_a", tr.AmountA, "amount_b", tr.AmountB, "price", tr.Price)

		if db != nil {
			if err := db.SaveTrade(runID, round, *tr); err != nil {
				return err
			}
		}
		if tapeW != nil {
			if err := tapeW.Append(*tr); err != nil {
				return err
			}
		}
	}

	report := m.Verify()
	final := m.Balances()

	status := persistence.StatusSettled
	if !report.Valid && !cfg.PriceBounds.Enabled() {
		status = persistence.StatusFailed
	}

	if tapeW != nil {
		if err := tapeW.Finalize(m.Rounds(), report); err != nil {
			return err
		}
		if err := tapeW.Close(); err != nil {
			return err
		}
	}
	if db != nil {
		if err := db.FinishRun(runID, status, m.Rounds(), &report, final); err != nil {
			return err
		}
	}

	summary, err := stats.Summarize(population, initial, final, trades)
	if err != nil {
		return err
	}
	audit, err := stats.AuditTrades(initial, final, trades)
	if err != nil {
		return err
	}

	slog.Info("run finished",
		"run_id", runID, "status", status, "rounds", m.Rounds(),
		"elapsed", time.Since(started).Round(time.Millisecond))

	printSummary(runID, tapePath, summary, report, audit)

	if status == persistence.StatusFailed {
		return fmt.Errorf("%w: %s", market.ErrUnsettledMarket, report)
	}
	return nil
}

func printSummary(runID, tapePath string, s stats.Summary, report market.Report, audit stats.Audit) {
	fmt.Printf("\nRun %s settled after %s trades.\n", runID, humanize.Comma(int64(s.Trades)))
	fmt.Printf("  clearing price   mean %s, sd %s\n",
		humanize.CommafWithDigits(s.MeanPrice, 4), humanize.CommafWithDigits(s.PriceStdDev, 4))
	fmt.Printf("  turnover         %s A against %s B\n",
		humanize.CommafWithDigits(s.TurnoverA, 4), humanize.CommafWithDigits(s.TurnoverB, 4))
	fmt.Printf("  total utility    %s -> %s\n",
		humanize.CommafWithDigits(s.UtilityBefore, 4), humanize.CommafWithDigits(s.UtilityAfter, 4))
	fmt.Printf("  partition        %s\n", report)
	fmt.Printf("  replay audit     conserved=%v max_drift=%s\n", audit.Conserved, audit.MaxDrift)
	if audit.Overdraft != "" {
		fmt.Printf("  replay overdraft %s\n", audit.Overdraft)
	}
	if tapePath != "" {
		fmt.Printf("  tape             %s\n", tapePath)
	}
}
