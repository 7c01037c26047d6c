package agents

import (
	"reflect"
	"testing"
)

func testSpawnConfig(profile Profile) SpawnConfig {
	return SpawnConfig{
		Count:     40,
		Profile:   profile,
		Coeff:     Range{Min: 0.5, Max: 8},
		Endowment: Range{Min: 0, Max: 10},
	}
}

func TestSpawner_DeterministicForSeed(t *testing.T) {
	for _, profile := range []Profile{ProfileUniform, ProfileClustered} {
		t.Run(string(profile), func(t *testing.T) {
			cfg := testSpawnConfig(profile)

			pop1, bal1, err := NewSpawner(42).SpawnPopulation(cfg)
			if err != nil {
				t.Fatalf("spawn 1: %v", err)
			}
			pop2, bal2, err := NewSpawner(42).SpawnPopulation(cfg)
			if err != nil {
				t.Fatalf("spawn 2: %v", err)
			}

			if !reflect.DeepEqual(pop1, pop2) {
				t.Fatalf("same seed produced different populations")
			}
			if !reflect.DeepEqual(bal1, bal2) {
				t.Fatalf("same seed produced different balances")
			}

			pop3, _, err := NewSpawner(43).SpawnPopulation(cfg)
			if err != nil {
				t.Fatalf("spawn 3: %v", err)
			}
			if reflect.DeepEqual(pop1, pop3) {
				t.Fatalf("different seeds produced identical populations")
			}
		})
	}
}

func TestSpawner_ParametersWithinRanges(t *testing.T) {
	for _, profile := range []Profile{ProfileUniform, ProfileClustered} {
		t.Run(string(profile), func(t *testing.T) {
			cfg := testSpawnConfig(profile)
			pop, balances, err := NewSpawner(7).SpawnPopulation(cfg)
			if err != nil {
				t.Fatalf("spawn: %v", err)
			}
			if len(pop) != cfg.Count || len(balances) != cfg.Count {
				t.Fatalf("got %d agents / %d balances, want %d", len(pop), len(balances), cfg.Count)
			}

			for i, a := range pop {
				if a.ID != AgentID(i) {
					t.Fatalf("agent %d has id %d", i, a.ID)
				}
				if a.Name == "" {
					t.Fatalf("agent %d has empty name", i)
				}
				for _, c := range []float64{a.CoeffA, a.CoeffB} {
					if c < cfg.Coeff.Min || c > cfg.Coeff.Max {
						t.Fatalf("agent %d coefficient %g outside [%g, %g]",
							i, c, cfg.Coeff.Min, cfg.Coeff.Max)
					}
				}
				for _, p := range []float64{a.ProdA, a.ProdB} {
					if p < cfg.Endowment.Min || p > cfg.Endowment.Max {
						t.Fatalf("agent %d endowment %g outside [%g, %g]",
							i, p, cfg.Endowment.Min, cfg.Endowment.Max)
					}
				}
				if balances[i] != a.InitialBalance() {
					t.Fatalf("agent %d balance %+v does not match endowment", i, balances[i])
				}
			}
		})
	}
}

func TestSpawner_RejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  SpawnConfig
	}{
		{"zero count", SpawnConfig{Count: 0, Coeff: Range{1, 2}, Endowment: Range{0, 1}}},
		{"inverted coeff range", SpawnConfig{Count: 5, Coeff: Range{3, 1}, Endowment: Range{0, 1}}},
		{"zero coeff min", SpawnConfig{Count: 5, Coeff: Range{0, 2}, Endowment: Range{0, 1}}},
		{"negative endowment", SpawnConfig{Count: 5, Coeff: Range{1, 2}, Endowment: Range{-1, 1}}},
		{"unknown profile", SpawnConfig{Count: 5, Profile: "gaussian", Coeff: Range{1, 2}, Endowment: Range{0, 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := NewSpawner(1).SpawnPopulation(tc.cfg); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}
