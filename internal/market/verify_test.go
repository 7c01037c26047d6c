package market

import (
	"strings"
	"testing"

	"github.com/talgya/edgeworth/internal/agents"
)

func TestVerifyTerminal_ValidPartitions(t *testing.T) {
	cases := []struct {
		name                   string
		population             []agents.Agent
		balances               []agents.Balance
		prefix, middle, suffix int
	}{
		{
			name: "one agent per segment",
			population: []agents.Agent{
				mustAgent(t, 0, 1, 1),
				mustAgent(t, 1, 2, 1),
				mustAgent(t, 2, 3, 1),
			},
			balances: []agents.Balance{{A: 0, B: 5}, {A: 2, B: 3}, {A: 4, B: 0}},
			prefix:   1, middle: 1, suffix: 1,
		},
		{
			name: "all two-sided at one price",
			population: []agents.Agent{
				mustAgent(t, 0, 2, 1),
				mustAgent(t, 1, 2, 1),
				mustAgent(t, 2, 2, 1),
			},
			balances: []agents.Balance{{A: 1, B: 1}, {A: 2, B: 2}, {A: 3, B: 3}},
			prefix:   0, middle: 3, suffix: 0,
		},
		{
			name: "empty balances close both ends",
			population: []agents.Agent{
				mustAgent(t, 0, 1, 1),
				mustAgent(t, 1, 2, 1),
				mustAgent(t, 2, 3, 1),
			},
			balances: []agents.Balance{{}, {A: 1, B: 1}, {}},
			prefix:   1, middle: 1, suffix: 1,
		},
		{
			name:       "empty population",
			population: nil,
			balances:   nil,
		},
		{
			name: "prices tied across segments, ids scrambled",
			population: []agents.Agent{
				mustAgent(t, 0, 2, 1),
				mustAgent(t, 1, 2, 1),
				mustAgent(t, 2, 2, 1),
			},
			balances: []agents.Balance{{A: 3, B: 0}, {A: 0, B: 4}, {A: 1, B: 1}},
			prefix:   1, middle: 1, suffix: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := VerifyTerminal(tc.population, tc.balances)
			if !report.Valid {
				t.Fatalf("partition rejected: %s", report)
			}
			if report.Prefix != tc.prefix || report.Middle != tc.middle || report.Suffix != tc.suffix {
				t.Fatalf("partition %d/%d/%d, want %d/%d/%d",
					report.Prefix, report.Middle, report.Suffix, tc.prefix, tc.middle, tc.suffix)
			}
		})
	}
}

func TestVerifyTerminal_FlagsOffenders(t *testing.T) {
	cases := []struct {
		name       string
		population []agents.Agent
		balances   []agents.Balance
		offender   agents.AgentID
		reason     string
	}{
		{
			// The cheap agent still holds A while a dearer agent holds B:
			// that pair would trade.
			name: "a-holder priced below a b-holder",
			population: []agents.Agent{
				mustAgent(t, 0, 1, 1),
				mustAgent(t, 1, 2, 1),
			},
			balances: []agents.Balance{{A: 5, B: 0}, {A: 0, B: 5}},
			offender: 1,
			reason:   "b-depleted suffix",
		},
		{
			name: "prefix agent above the middle",
			population: []agents.Agent{
				mustAgent(t, 0, 1, 1),
				mustAgent(t, 1, 2, 1),
			},
			balances: []agents.Balance{{A: 1, B: 1}, {A: 0, B: 5}},
			offender: 1,
			reason:   "two-sided middle",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := VerifyTerminal(tc.population, tc.balances)
			if report.Valid {
				t.Fatalf("expected the partition to fail")
			}
			if len(report.Offenders) != 1 {
				t.Fatalf("offenders %+v, want exactly one", report.Offenders)
			}
			o := report.Offenders[0]
			if o.Agent != tc.offender {
				t.Fatalf("offender %d, want %d", o.Agent, tc.offender)
			}
			if !strings.Contains(o.Reason, tc.reason) {
				t.Fatalf("reason %q does not mention %q", o.Reason, tc.reason)
			}
		})
	}
}

func TestReport_String(t *testing.T) {
	valid := Report{Valid: true, Prefix: 1, Middle: 2, Suffix: 3}
	if got := valid.String(); got != "valid partition 1/2/3" {
		t.Fatalf("valid report string: %q", got)
	}

	population := []agents.Agent{mustAgent(t, 0, 1, 1), mustAgent(t, 1, 2, 1)}
	balances := []agents.Balance{{A: 5, B: 0}, {A: 0, B: 5}}
	report := VerifyTerminal(population, balances)
	got := report.String()
	if !strings.Contains(got, "agents outside partition") || !strings.Contains(got, "agent 1") {
		t.Fatalf("offender summary %q missing detail", got)
	}
}
