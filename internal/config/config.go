// Package config loads the simulator configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/edgeworth/internal/agents"
	"github.com/talgya/edgeworth/internal/market"
)

// Config is the full simulator configuration. Load overlays a YAML file on
// top of Default, so files only name the keys they change.
type Config struct {
	Seed        int64              `yaml:"seed"`
	Population  agents.SpawnConfig `yaml:"population"`
	MaxRounds   int                `yaml:"max_rounds"`    // 0 = unbounded
	PriceBounds market.PriceBounds `yaml:"price_bounds"`  // zero value = no bounds
	PaceMs      int                `yaml:"pace_ms"`       // delay between trades in serve mode
	DBPath      string             `yaml:"db_path"`
	TapeDir     string             `yaml:"tape_dir"`
	API         API                `yaml:"api"`
}

// API configures the HTTP surface.
type API struct {
	Addr           string  `yaml:"addr"`
	AdminKey       string  `yaml:"admin_key"` // empty disables admin endpoints
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Seed: 42,
		Population: agents.SpawnConfig{
			Count:     24,
			Profile:   agents.ProfileUniform,
			Coeff:     agents.Range{Min: 0.5, Max: 8},
			Endowment: agents.Range{Min: 0, Max: 10},
		},
		PaceMs:  250,
		DBPath:  "data/edgeworth.db",
		TapeDir: "data/tapes",
		API: API{
			Addr:           ":8080",
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
	}
}

// Load reads a YAML config file over the defaults. Unknown keys are rejected
// so typos fail loudly instead of silently keeping a default.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the config owns outright. Population ranges get
// their full check in the spawner, where the sampling rules live.
func (c Config) Validate() error {
	if c.Population.Count <= 0 {
		return fmt.Errorf("config: population count %d must be > 0", c.Population.Count)
	}
	if c.MaxRounds < 0 {
		return fmt.Errorf("config: max_rounds %d must be >= 0", c.MaxRounds)
	}
	if c.PaceMs < 0 {
		return fmt.Errorf("config: pace_ms %d must be >= 0", c.PaceMs)
	}
	if err := c.PriceBounds.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.API.RateLimitRPS < 0 {
		return fmt.Errorf("config: rate_limit_rps %g must be >= 0", c.API.RateLimitRPS)
	}
	if c.API.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate_limit_burst %d must be >= 0", c.API.RateLimitBurst)
	}
	return nil
}

// Pace returns the serve-mode delay between trades.
func (c Config) Pace() time.Duration {
	return time.Duration(c.PaceMs) * time.Millisecond
}
