package cgdist

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/i5heu/cgdist/internal/config"
	"github.com/i5heu/cgdist/pkg/aligner"
	aligncache "github.com/i5heu/cgdist/pkg/alignCache"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/distance"
	"github.com/i5heu/cgdist/pkg/profile"
	"github.com/i5heu/cgdist/pkg/recombination"
)

// Config configures a run. The zero value is not usable; start from
// DefaultConfig or FromSettings.
type Config struct {
	Strategy        allele.Strategy
	Scoring         aligner.Scoring
	Strictness      aligner.Strictness
	Mode            distance.Mode
	HammingFallback bool
	MinSharedLoci   int
	MissingChar     string
	Filters         profile.Filters
	// Recombination enables the screen when non-nil.
	Recombination *recombination.Screen
	Workers       int

	// CachePath is a single-file store; CacheKVPath a badger directory.
	// Either, both or neither may be set.
	CachePath   string
	CacheKVPath string
	CacheNote   string
	CacheCodec  aligncache.Codec
	// RecomputeOnIncompatible starts from an empty cache instead of failing
	// when a stored cache was written with other parameters.
	RecomputeOnIncompatible bool
	// ForceRecompute ignores stored caches; the next save replaces them.
	ForceRecompute bool

	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Progress   distance.ProgressFunc
}

// defaultLogger returns a logger that writes text logs to stderr at Info level.
func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

func DefaultConfig() Config {
	c, err := FromSettings(config.Default())
	if err != nil {
		panic(err)
	}
	return c
}

// FromSettings turns a validated settings file into a run Config.
func FromSettings(s config.Config) (Config, error) {
	if err := s.Validate(); err != nil {
		return Config{}, err
	}
	strategy, err := s.StrategyFrom(allele.NewRegistry())
	if err != nil {
		return Config{}, err
	}
	scoring, err := s.Scoring()
	if err != nil {
		return Config{}, err
	}
	strictness, err := aligner.ParseStrictness(s.Strictness)
	if err != nil {
		return Config{}, err
	}
	mode, err := distance.ParseMode(s.Mode)
	if err != nil {
		return Config{}, err
	}
	screen, err := s.Screen()
	if err != nil {
		return Config{}, err
	}
	codec, err := aligncache.ParseCodec(s.Cache.Codec)
	if err != nil {
		return Config{}, err
	}
	recompute, err := s.RecomputeOnIncompatible()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Strategy:        strategy,
		Scoring:         scoring,
		Strictness:      strictness,
		Mode:            mode,
		HammingFallback: s.HammingFallback,
		MinSharedLoci:   s.MinLoci,
		MissingChar:     s.MissingChar,
		Filters: profile.Filters{
			SampleThreshold: s.SampleThreshold,
			LocusThreshold:  s.LocusThreshold,
		},
		Recombination:           screen,
		Workers:                 s.Workers,
		CachePath:               s.Cache.Path,
		CacheKVPath:             s.Cache.KVPath,
		CacheNote:               s.Cache.Note,
		CacheCodec:              codec,
		RecomputeOnIncompatible: recompute,
		ForceRecompute:          s.Cache.ForceRecompute,
	}, nil
}

func (c Config) validate() error {
	if c.Strategy == nil {
		return fmt.Errorf("%w: strategy is required", ErrInvalidConfig)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Filters.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
