package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/talgya/edgeworth/internal/market"
)

var curvesCmd = &cli.Command{
	Name:  "curves",
	Usage: "Print the population's supply/demand curves and their crossing",
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
			Name:  "terminal",
			Usage: "trade to settlement first and evaluate the terminal allocation",
		},
		&cli.BoolFlag{
			Name:  "csv",
			Usage: "emit CSV instead of aligned columns",
		},
	},
	Action: doCurves,
}

func doCurves(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet("seed") {
		cfg.Seed = ctx.Int64("seed")
	}

	population, balances, _, err := buildPopulation(cfg, ctx.String("scenario"))
	if err != nil {
		return err
	}

	m, err := market.New(population, balances,
		market.WithMaxRounds(cfg.MaxRounds),
		market.WithPriceBounds(cfg.PriceBounds))
	if err != nil {
		return err
	}
	if ctx.Bool("terminal") {
		if err := m.ExecuteAllTrades(); err != nil {
			return err
		}
	}

	curves := market.ComputeCurves(m.Population(), m.Balances())

	if ctx.Bool("csv") {
		return writeCurvesCSV(os.Stdout, curves)
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "price\tsupply\tdemand\t")
	for _, p := range curves.Points {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n",
			humanize.CommafWithDigits(p.Price, 4),
			humanize.CommafWithDigits(p.Supply, 4),
			humanize.CommafWithDigits(p.Demand, 4))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if curves.HasCross {
		fmt.Printf("\ncrossing inside (%s, %s): price ~ %s, quantity ~ %s A\n",
			humanize.CommafWithDigits(curves.CrossLow, 4),
			humanize.CommafWithDigits(curves.CrossHigh, 4),
			humanize.CommafWithDigits(curves.CrossPrice, 4),
			humanize.CommafWithDigits(curves.CrossQuantity, 4))
	} else {
		fmt.Println("\nno crossing: the book never uncrosses below the cheapest quote")
	}

	if ctx.Bool("terminal") {
		printSpread(m)
	}
	return nil
}

// printSpread relates the settled book to the curve crossing: the surviving
// best bid and best ask bracket the price at which supply caught demand.
func printSpread(m *market.Market) {
	bids, asks := m.Book()
	var bestBid, bestAsk float64
	for _, o := range bids {
		if o.Price > bestBid {
			bestBid = o.Price
		}
	}
	for i, o := range asks {
		if i == 0 || o.Price < bestAsk {
			bestAsk = o.Price
		}
	}

	switch {
	case len(bids) == 0 || len(asks) == 0:
		fmt.Println("terminal book is one-sided: no spread to report")
	default:
		fmt.Printf("terminal spread: best bid %s, best ask %s\n",
			humanize.CommafWithDigits(bestBid, 4),
			humanize.CommafWithDigits(bestAsk, 4))
	}
}

func writeCurvesCSV(f *os.File, curves market.Curves) error {
	w := csv.NewWriter(f)
	if err := w.Write([]string{"price", "supply", "demand"}); err != nil {
		return err
	}
	for _, p := range curves.Points {
		rec := []string{
			strconv.FormatFloat(p.Price, 'g', -1, 64),
			strconv.FormatFloat(p.Supply, 'g', -1, 64),
			strconv.FormatFloat(p.Demand, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
