package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/talgya/edgeworth/internal/agents"
	"github.com/talgya/edgeworth/internal/market"
	"github.com/talgya/edgeworth/internal/persistence"
	"github.com/talgya/edgeworth/internal/stats"
	"github.com/talgya/edgeworth/internal/tape"
)

var verifyCmd = &cli.Command{
	Name:  "verify",
	Usage: "Re-check a finished run: tape hash chain, terminal partition, replay audit",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "tape",
			Usage: "tape `FILE` to re-hash",
		},
		&cli.StringFlag{
			Name:  "run",
			Usage: "stored run `ID` to re-verify against the database",
		},
	},
	Action: doVerify,
}

func doVerify(ctx *cli.Context) error {
	tapePath := ctx.String("tape")
	runID := ctx.String("run")
	if tapePath == "" && runID == "" {
		return errors.New("nothing to verify: pass --tape and/or --run")
	}

	if tapePath != "" {
		if err := verifyTape(tapePath); err != nil {
			return err
		}
	}
	if runID != "" {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if err := verifyRun(cfg.DBPath, runID); err != nil {
			return err
		}
	}
	return nil
}

func verifyTape(path string) error {
	info, err := tape.Verify(path)
	if err != nil {
		return err
	}

	fmt.Printf("Tape %s: chain intact.\n", path)
	fmt.Printf("  run        %s (seed %d, %d agents)\n", info.Header.RunID, info.Header.Seed, info.Header.Agents)
	fmt.Printf("  records    %s (%s trades)\n",
		humanize.Comma(int64(info.Records)), humanize.Comma(int64(info.Trades)))
	if !info.Terminated {
		fmt.Printf("  terminal   missing final record (truncated run)\n")
		return nil
	}
	fmt.Printf("  terminal   %d rounds", info.Rounds)
	if info.Report != nil {
		fmt.Printf(", %s", *info.Report)
	}
	fmt.Println()
	if info.Report != nil && !info.Report.Valid {
		return fmt.Errorf("tape %s recorded an invalid terminal state: %w", path, market.ErrUnsettledMarket)
	}
	return nil
}

// verifyRun rebuilds a stored run's population, re-runs the terminal
// partition check over the final balances and replays the trade log in exact
// arithmetic. The stored report is not trusted, only compared.
func verifyRun(dbPath, runID string) error {
	if dbPath == "" {
		return errors.New("run verification needs a db_path in the config")
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.LoadRun(runID)
	if err != nil {
		return err
	}
	rows, err := db.LoadAgents(runID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("run %s has no agent snapshot", runID)
	}

	population := make([]agents.Agent, 0, len(rows))
	initial := make([]agents.Balance, 0, len(rows))
	final := make([]agents.Balance, 0, len(rows))
	for _, row := range rows {
		a, err := agents.New(agents.AgentID(row.AgentID), row.Name, row.ProdA, row.ProdB, row.CoeffA, row.CoeffB)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		population = append(population, a)
		initial = append(initial, agents.Balance{A: row.InitialA, B: row.InitialB})
		final = append(final, agents.Balance{A: row.FinalA, B: row.FinalB})
	}

	tradeRows, err := db.LoadTrades(runID)
	if err != nil {
		return err
	}
	trades := make([]market.Trade, 0, len(tradeRows))
	for _, row := range tradeRows {
		trades = append(trades, row.Trade())
	}

	report := market.VerifyTerminal(population, final)
	audit, err := stats.AuditTrades(initial, final, trades)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s (%s, %s trades recorded):\n", runID, run.Status, humanize.Comma(int64(run.Trades)))
	fmt.Printf("  partition      %s\n", report)
	fmt.Printf("  replay audit   conserved=%v max_drift=%s\n", audit.Conserved, audit.MaxDrift)
	if audit.Overdraft != "" {
		fmt.Printf("  replay overdraft %s\n", audit.Overdraft)
	}

	if stored, err := run.Report(); err != nil {
		fmt.Printf("  stored report  unreadable: %v\n", err)
	} else if stored != nil && stored.Valid != report.Valid {
		fmt.Printf("  stored report  disagrees: stored %s\n", *stored)
	}

	if run.Status == persistence.StatusSettled && !report.Valid {
		return fmt.Errorf("run %s: %w", runID, market.ErrUnsettledMarket)
	}
	if !audit.Clean() {
		return fmt.Errorf("run %s: trade log failed the replay audit", runID)
	}
	return nil
}
