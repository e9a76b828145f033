// Package config reads the YAML run configuration. Values are validated once
// and then passed by value; nothing here is global.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/i5heu/cgdist/pkg/aligner"
	aligncache "github.com/i5heu/cgdist/pkg/alignCache"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/distance"
	"github.com/i5heu/cgdist/pkg/logging"
	"github.com/i5heu/cgdist/pkg/recombination"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Hasher          string        `yaml:"hasher"`
	MissingChar     string        `yaml:"missing_char"`
	Alignment       Alignment     `yaml:"alignment"`
	Strictness      string        `yaml:"strictness"`
	Mode            string        `yaml:"mode"`
	HammingFallback bool          `yaml:"hamming_fallback"`
	MinLoci         int           `yaml:"min_loci"`
	SampleThreshold float64       `yaml:"sample_threshold"`
	LocusThreshold  float64       `yaml:"locus_threshold"`
	Recombination   Recombination `yaml:"recombination"`
	Cache           Cache         `yaml:"cache"`
	Workers         int           `yaml:"workers"`
	LogLevel        string        `yaml:"log_level"`
}

// Alignment picks a preset; any explicit value overrides the preset's.
type Alignment struct {
	Preset    string `yaml:"preset"`
	Match     *int   `yaml:"match"`
	Mismatch  *int   `yaml:"mismatch"`
	GapOpen   *int   `yaml:"gap_open"`
	GapExtend *int   `yaml:"gap_extend"`
}

// Recombination is disabled while Threshold is nil.
type Recombination struct {
	Threshold *float64 `yaml:"threshold"`
	Score     string   `yaml:"score"`
}

type Cache struct {
	Path           string `yaml:"path"`
	KVPath         string `yaml:"kv_path"`
	Note           string `yaml:"note"`
	Codec          string `yaml:"codec"`
	OnIncompatible string `yaml:"on_incompatible"`
	ForceRecompute bool   `yaml:"force_recompute"`
}

func Default() Config {
	return Config{
		Hasher:          "crc32",
		MissingChar:     "-",
		Alignment:       Alignment{Preset: "dna"},
		Strictness:      "strict",
		Mode:            "snps",
		HammingFallback: true,
		Recombination:   Recombination{Score: "count"},
		Cache:           Cache{Codec: "s2", OnIncompatible: "fail"},
		LogLevel:        "info",
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func invalid(err error) error {
	if errors.Is(err, ErrInvalidConfig) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
}

func (c Config) Validate() error {
	if _, err := c.StrategyFrom(allele.NewRegistry()); err != nil {
		return invalid(err)
	}
	if _, err := c.Scoring(); err != nil {
		return invalid(err)
	}
	if _, err := aligner.ParseStrictness(c.Strictness); err != nil {
		return invalid(err)
	}
	if _, err := distance.ParseMode(c.Mode); err != nil {
		return invalid(err)
	}
	if c.MinLoci < 0 {
		return fmt.Errorf("%w: min_loci must be >= 0, got %d", ErrInvalidConfig, c.MinLoci)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	for name, v := range map[string]float64{"sample_threshold": c.SampleThreshold, "locus_threshold": c.LocusThreshold} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %g", ErrInvalidConfig, name, v)
		}
	}
	if _, err := c.Screen(); err != nil {
		return invalid(err)
	}
	if _, err := aligncache.ParseCodec(c.Cache.Codec); err != nil {
		return invalid(err)
	}
	if _, err := c.RecomputeOnIncompatible(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid(err)
	}
	return nil
}

func (c Config) StrategyFrom(r *allele.Registry) (allele.Strategy, error) {
	return r.Get(c.Hasher)
}

func (c Config) Scoring() (aligner.Scoring, error) {
	preset := c.Alignment.Preset
	if preset == "" || preset == "custom" {
		preset = "dna"
	}
	p, err := aligner.LookupPreset(preset)
	if err != nil {
		return aligner.Scoring{}, err
	}
	s := p.Scoring
	if c.Alignment.Match != nil {
		s.Match = *c.Alignment.Match
	}
	if c.Alignment.Mismatch != nil {
		s.Mismatch = *c.Alignment.Mismatch
	}
	if c.Alignment.GapOpen != nil {
		s.GapOpen = *c.Alignment.GapOpen
	}
	if c.Alignment.GapExtend != nil {
		s.GapExtend = *c.Alignment.GapExtend
	}
	return s, s.Validate()
}

// Screen returns nil when recombination screening is off.
func (c Config) Screen() (*recombination.Screen, error) {
	if c.Recombination.Threshold == nil {
		return nil, nil
	}
	kind, err := recombination.ParseScoreKind(c.Recombination.Score)
	if err != nil {
		return nil, err
	}
	s := &recombination.Screen{Threshold: *c.Recombination.Threshold, Score: kind}
	return s, s.Validate()
}

func (c Config) RecomputeOnIncompatible() (bool, error) {
	switch strings.ToLower(c.Cache.OnIncompatible) {
	case "", "fail":
		return false, nil
	case "recompute":
		return true, nil
	}
	return false, fmt.Errorf("%w: cache.on_incompatible must be fail or recompute, got %q",
		ErrInvalidConfig, c.Cache.OnIncompatible)
}
