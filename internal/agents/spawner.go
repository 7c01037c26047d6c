// Population generation: samples utility coefficients and endowments for the
// initial population. Deterministic for a given seed.
package agents

import (
	"fmt"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Profile selects how agent parameters are sampled.
type Profile string

const (
	// ProfileUniform draws every parameter independently from its range.
	ProfileUniform Profile = "uniform"
	// ProfileClustered places agents on a habitat line and lets smooth noise
	// over position steer the coefficient draws, so neighbors share tastes.
	ProfileClustered Profile = "clustered"
)

// Range is a closed interval for sampled parameters.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Span returns the width of the range.
func (r Range) Span() float64 { return r.Max - r.Min }

func (r Range) valid() bool { return r.Min <= r.Max }

// SpawnConfig controls population generation.
type SpawnConfig struct {
	Count     int     `yaml:"count" json:"count"`
	Profile   Profile `yaml:"profile" json:"profile"`
	Coeff     Range   `yaml:"coeff" json:"coeff"`         // CoeffA and CoeffB draws
	Endowment Range   `yaml:"endowment" json:"endowment"` // ProdA and ProdB draws
}

// Spawner creates populations for the simulation. One spawner per run;
// a fresh spawner with the same seed reproduces the same population.
type Spawner struct {
	rng    *rand.Rand
	tasteA opensimplex.Noise
	tasteB opensimplex.Noise
	nextID AgentID
}

// NewSpawner creates a population spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		tasteA: opensimplex.NewNormalized(seed),
		tasteB: opensimplex.NewNormalized(seed + 1),
		nextID: 0,
	}
}

// tasteFrequency scales habitat position into noise space. Low enough that a
// few preference bands span the whole line, high enough that a 10-agent
// population still sees more than one band.
const tasteFrequency = 3.0

// clusterJitter is the per-agent deviation around the local taste, as a
// fraction of the coefficient range.
const clusterJitter = 0.15

// SpawnPopulation creates cfg.Count agents plus their initial balances.
func (s *Spawner) SpawnPopulation(cfg SpawnConfig) ([]Agent, []Balance, error) {
	if cfg.Count <= 0 {
		return nil, nil, fmt.Errorf("spawn: count %d must be > 0", cfg.Count)
	}
	if !cfg.Coeff.valid() || cfg.Coeff.Min <= 0 {
		return nil, nil, fmt.Errorf("spawn: coefficient range [%g, %g] must be ordered and > 0",
			cfg.Coeff.Min, cfg.Coeff.Max)
	}
	if !cfg.Endowment.valid() || cfg.Endowment.Min < 0 {
		return nil, nil, fmt.Errorf("spawn: endowment range [%g, %g] must be ordered and >= 0",
			cfg.Endowment.Min, cfg.Endowment.Max)
	}

	population := make([]Agent, 0, cfg.Count)
	balances := make([]Balance, 0, cfg.Count)

	for i := 0; i < cfg.Count; i++ {
		var agent Agent
		var err error
		switch cfg.Profile {
		case ProfileClustered:
			agent, err = s.spawnClustered(cfg, i)
		case ProfileUniform, "":
			agent, err = s.spawnUniform(cfg)
		default:
			return nil, nil, fmt.Errorf("spawn: unknown profile %q", cfg.Profile)
		}
		if err != nil {
			return nil, nil, err
		}
		population = append(population, agent)
		balances = append(balances, agent.InitialBalance())
	}

	return population, balances, nil
}

func (s *Spawner) spawnUniform(cfg SpawnConfig) (Agent, error) {
	id := s.nextID
	s.nextID++
	return New(id, s.generateName(),
		s.draw(cfg.Endowment), s.draw(cfg.Endowment),
		s.draw(cfg.Coeff), s.draw(cfg.Coeff))
}

func (s *Spawner) spawnClustered(cfg SpawnConfig, position int) (Agent, error) {
	id := s.nextID
	s.nextID++

	// Habitat position in [0,1), stretched into noise space.
	x := float64(position) / float64(cfg.Count) * tasteFrequency

	coeffA := s.drawNear(cfg.Coeff, s.tasteA.Eval2(x, 0))
	coeffB := s.drawNear(cfg.Coeff, s.tasteB.Eval2(x, 0))

	// Endowments stay independent of position; locality is a matter of taste,
	// not of wealth.
	return New(id, s.generateName(),
		s.draw(cfg.Endowment), s.draw(cfg.Endowment),
		coeffA, coeffB)
}

// draw samples uniformly from r.
func (s *Spawner) draw(r Range) float64 {
	return r.Min + s.rng.Float64()*r.Span()
}

// drawNear samples around the point of r selected by t in [0,1], with a small
// uniform jitter, clamped back into r.
func (s *Spawner) drawNear(r Range, t float64) float64 {
	center := r.Min + t*r.Span()
	jitter := (s.rng.Float64()*2 - 1) * r.Span() * clusterJitter
	return clampF(center+jitter, r.Min, r.Max)
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Name pools for procedural generation. Purely cosmetic; logs and API payloads
// read better with names than with bare indices.
var firstNames = []string{
	"Aldric", "Astrid", "Beren", "Brenna", "Cedric", "Calla", "Doran",
	"Dagny", "Erik", "Elara", "Finn", "Freya", "Gareth", "Greta",
	"Halvard", "Helene", "Ivan", "Inga", "Jasper", "Juno", "Kael",
	"Katla", "Leif", "Lena", "Magnus", "Mira", "Nils", "Nessa",
	"Oswin", "Olwen", "Per", "Petra", "Rowan", "Runa", "Stellan",
	"Senna", "Theron", "Thea", "Ulric", "Una", "Varen", "Vera",
	"Wren", "Willa", "Yorick", "Yara", "Zander", "Zara",
}

var lastNames = []string{
	"Voss", "Thornwood", "Ashford", "Dunmore", "Greenvale", "Hearthstone",
	"Millward", "Copperfield", "Silverdale", "Deepwell", "Brightwater",
	"Redforge", "Windholm", "Goldhaven", "Riverstone", "Steelworth",
	"Embercroft", "Holloway", "Farrow", "Thatcher", "Caldwell", "Harper",
	"Mercer", "Ward", "Cross", "Salter", "Webber", "Tanner", "Cooper",
	"Granger", "Fletcher", "Marsh", "Bellamy", "Crane", "Hale",
}
