package market

import (
	"sort"

	"github.com/talgya/edgeworth/internal/agents"
)

// CurvePoint evaluates aggregate supply and demand for good A at one
// candidate price. Supply counts A held by agents quoting strictly below the
// price; demand counts the A that agents quoting strictly above it could pay
// for with their whole B holding. Strictness matches the matcher: an agent
// at exactly the price has zero surplus and sits out.
type CurvePoint struct {
	Price  float64 `json:"price"`
	Supply float64 `json:"supply"`
	Demand float64 `json:"demand"`
}

// Curves holds the stepwise supply/demand table over the candidate prices
// (the population's distinct indifference prices, ascending) and an estimate
// of where the curves cross. Excess demand falls monotonically with price, so
// the crossing is bracketed by the first candidate where supply catches up
// with demand. The terminal bid/ask spread of a settled market lies inside
// that bracket.
type Curves struct {
	Points        []CurvePoint `json:"points"`
	HasCross      bool         `json:"has_cross"`
	CrossLow      float64      `json:"cross_low,omitempty"`
	CrossHigh     float64      `json:"cross_high,omitempty"`
	CrossPrice    float64      `json:"cross_price,omitempty"`    // midpoint of the bracket
	CrossQuantity float64      `json:"cross_quantity,omitempty"` // coarse turnover estimate
}

// ComputeCurves evaluates the supply/demand table for an allocation.
func ComputeCurves(population []agents.Agent, balances []agents.Balance) Curves {
	prices := make([]float64, 0, len(population))
	seen := make(map[float64]bool, len(population))
	for i := range population {
		p := population[i].IndifferencePrice()
		if !seen[p] {
			seen[p] = true
			prices = append(prices, p)
		}
	}
	sort.Float64s(prices)

	var curves Curves
	for _, p := range prices {
		var point = CurvePoint{Price: p}
		for i := range population {
			indiff := population[i].IndifferencePrice()
			switch {
			case indiff < p:
				point.Supply += balances[i].A
			case indiff > p:
				point.Demand += balances[i].B / p
			}
		}
		curves.Points = append(curves.Points, point)
	}

	for i, point := range curves.Points {
		if point.Supply < point.Demand {
			continue
		}
		if i == 0 {
			// Supply already covers demand at the cheapest quote; no
			// crossing interior to the candidate grid.
			break
		}
		prev := curves.Points[i-1]
		curves.HasCross = true
		curves.CrossLow = prev.Price
		curves.CrossHigh = point.Price
		curves.CrossPrice = (prev.Price + point.Price) / 2
		curves.CrossQuantity = minF(prev.Demand, point.Supply)
		break
	}
	return curves
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
