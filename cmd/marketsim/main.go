// Command marketsim runs the Edgeworth bilateral commodity market: a
// population of two-good traders exchanging pairwise until no mutually
// beneficial trade remains.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/talgya/edgeworth/internal/agents"
	"github.com/talgya/edgeworth/internal/config"
	"github.com/talgya/edgeworth/internal/scenario"
)

func main() {
	app := &cli.App{
		Name:  "marketsim",
		Usage: "bilateral double-auction market simulator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config `FILE` (defaults apply when omitted)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "debug, info, warn or error",
			},
		},
		Before: func(ctx *cli.Context) error {
			return setupLogging(ctx.String("log-level"))
		},
		Commands: []*cli.Command{
			runCmd,
			serveCmd,
			verifyCmd,
			curvesCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler: human-readable text on a
// terminal, JSON when the output is piped or redirected.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig reads the --config file when one is given and applies per-command
// overrides afterwards.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	path := ctx.String("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildPopulation materializes the trading population: an explicit scenario
// fixture when --scenario is given, a seeded draw otherwise. The profile
// string names the source for run records.
func buildPopulation(cfg config.Config, scenarioPath string) ([]agents.Agent, []agents.Balance, string, error) {
	if scenarioPath != "" {
		sc, err := scenario.Load(scenarioPath)
		if err != nil {
			return nil, nil, "", err
		}
		population, balances, err := sc.Build()
		if err != nil {
			return nil, nil, "", err
		}
		return population, balances, "scenario:" + sc.Name, nil
	}

	spawner := agents.NewSpawner(cfg.Seed)
	population, balances, err := spawner.SpawnPopulation(cfg.Population)
	if err != nil {
		return nil, nil, "", err
	}
	profile := cfg.Population.Profile
	if profile == "" {
		profile = agents.ProfileUniform
	}
	return population, balances, string(profile), nil
}
