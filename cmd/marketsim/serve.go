package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/talgya/edgeworth/internal/api"
	"github.com/talgya/edgeworth/internal/engine"
	"github.com/talgya/edgeworth/internal/market"
	"github.com/talgya/edgeworth/internal/persistence"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Run one paced market behind the HTTP API and WebSocket feed",
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
			Name:  "start",
			Value: true,
			Usage: "begin trading immediately instead of waiting for the admin start action",
		},
	},
	Action: doServe,
}

func doServe(ctx *cli.Context) error {
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

	runner := engine.NewRunner(m)
	runner.Interval = cfg.Pace()

	runID := uuid.NewString()

	var db *persistence.DB
	if cfg.DBPath != "" {
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

	adminKey := cfg.API.AdminKey
	if adminKey == "" {
		adminKey = os.Getenv("EDGEWORTH_ADMIN_KEY")
	}
	if adminKey == "" {
		slog.Warn("no admin key configured, POST control endpoints are disabled")
	}

	server := &api.Server{
		Runner:         runner,
		DB:             db,
		RunID:          runID,
		Addr:           cfg.API.Addr,
		AdminKey:       adminKey,
		RateLimitRPS:   cfg.API.RateLimitRPS,
		RateLimitBurst: cfg.API.RateLimitBurst,
	}

	runner.OnTrade = func(round int, tr market.Trade) {
		server.PublishTrade(round, tr)
		if db != nil {
			if err := db.SaveTrade(runID, round, tr); err != nil {
				slog.Error("trade not saved", "run_id", runID, "round", round, "error", err)
			}
		}
	}
	runner.OnSettled = func(rounds int, report market.Report) {
		server.PublishSettled(rounds, report)
		if db != nil {
			status := persistence.StatusSettled
			if !report.Valid && !cfg.PriceBounds.Enabled() {
				status = persistence.StatusFailed
			}
			if err := db.FinishRun(runID, status, rounds, &report, runner.Snapshot().Balances); err != nil {
				slog.Error("settled run not saved", "run_id", runID, "error", err)
			}
		}
	}

	// The paced loop launches at most once, whether from --start or from the
	// admin control plane.
	var launched atomic.Bool
	runDone := make(chan error, 1)
	server.StartRun = func() error {
		if !launched.CompareAndSwap(false, true) {
			return fmt.Errorf("run %s already launched", runID)
		}
		go func() { runDone <- runner.Run() }()
		return nil
	}

	server.Start()
	slog.Info("serving market run",
		"run_id", runID, "seed", cfg.Seed, "profile", profile,
		"agents", len(population), "addr", cfg.API.Addr, "pace", cfg.Pace())

	if ctx.Bool("start") {
		if err := server.StartRun(); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			runner.Stop()
			if runDone != nil && launched.Load() {
				if err := <-runDone; err != nil {
					return err
				}
			}
			return nil
		case err := <-runDone:
			// The market settled (or aborted); keep serving reads until a
			// signal arrives so dashboards can inspect the terminal state.
			runDone = nil
			if err != nil {
				return err
			}
		}
	}
}
