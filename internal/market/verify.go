package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/talgya/edgeworth/internal/agents"
)

// ErrUnsettledMarket reports a terminal allocation that fails the
// cleared-auction partition: profitable trades were missed somewhere.
var ErrUnsettledMarket = errors.New("terminal allocation violates the cleared-auction partition")

// Offender is an agent the verifier found outside its expected segment.
type Offender struct {
	Agent   agents.AgentID `json:"agent"`
	Name    string         `json:"name"`
	Price   float64        `json:"price"`
	Balance agents.Balance `json:"balance"`
	Reason  string         `json:"reason"`
}

// Report is the terminal-state verification result. A settled double auction
// partitions agents, sorted by ascending indifference price, into three
// contiguous segments: an A-depleted prefix (cheap valuations sold out), a
// two-sided middle at the clearing boundary, and a B-depleted suffix (dear
// valuations spent out). Offenders are every agent falling outside that
// shape.
type Report struct {
	Valid     bool       `json:"valid"`
	Prefix    int        `json:"prefix"`
	Middle    int        `json:"middle"`
	Suffix    int        `json:"suffix"`
	Offenders []Offender `json:"offenders,omitempty"`
}

// String renders a one-line summary with every offender listed.
func (r Report) String() string {
	if r.Valid {
		return fmt.Sprintf("valid partition %d/%d/%d", r.Prefix, r.Middle, r.Suffix)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d agents outside partition %d/%d/%d:",
		len(r.Offenders), r.Prefix, r.Middle, r.Suffix)
	for _, o := range r.Offenders {
		fmt.Fprintf(&b, " [agent %d price=%g a=%g b=%g: %s]",
			o.Agent, o.Price, o.Balance.A, o.Balance.B, o.Reason)
	}
	return b.String()
}

// Segments, in the order they must appear.
const (
	segPrefix = iota // A == 0
	segMiddle        // A > 0 and B > 0
	segSuffix        // B == 0
)

var segmentNames = [...]string{"a-depleted prefix", "two-sided middle", "b-depleted suffix"}

func qualifies(bal agents.Balance, seg int) bool {
	switch seg {
	case segPrefix:
		return bal.A == 0
	case segMiddle:
		return bal.A > 0 && bal.B > 0
	default:
		return bal.B == 0
	}
}

// tieRank orders agents that share an indifference price. Equal-priced agents
// never trade with each other (a price tie yields zero surplus), so they can
// legitimately settle into different segments at one price point; ranking
// them prefix, middle, suffix, empty makes the partition check independent of
// their arbitrary relative order. Empty balances rank last because they can
// close the suffix but must not split an earlier segment.
func tieRank(bal agents.Balance) int {
	switch {
	case bal.A == 0 && bal.B == 0:
		return 3
	case bal.A == 0:
		return segPrefix
	case bal.B > 0:
		return segMiddle
	default:
		return segSuffix
	}
}

// VerifyTerminal checks the three-segment partition over the given
// allocation. Agents sort by ascending indifference price (ties by tieRank,
// then by id); each agent must fit the current segment or a later one.
func VerifyTerminal(population []agents.Agent, balances []agents.Balance) Report {
	order := make([]int, len(population))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		px := population[order[x]].IndifferencePrice()
		py := population[order[y]].IndifferencePrice()
		if px != py {
			return px < py
		}
		return tieRank(balances[order[x]]) < tieRank(balances[order[y]])
	})

	var report Report
	phase := segPrefix
	for _, idx := range order {
		bal := balances[idx]

		next := phase
		for next <= segSuffix && !qualifies(bal, next) {
			next++
		}
		if next > segSuffix {
			report.Offenders = append(report.Offenders, Offender{
				Agent:   population[idx].ID,
				Name:    population[idx].Name,
				Price:   population[idx].IndifferencePrice(),
				Balance: bal,
				Reason:  fmt.Sprintf("fits no segment at or after the %s", segmentNames[phase]),
			})
			continue
		}

		phase = next
		switch next {
		case segPrefix:
			report.Prefix++
		case segMiddle:
			report.Middle++
		case segSuffix:
			report.Suffix++
		}
	}

	report.Valid = len(report.Offenders) == 0
	return report
}
