// Package cgdist computes nucleotide-level distance matrices from cgMLST
// allelic profiles. It wires allele identity, alignment, the persistent
// alignment cache and the distance engine into one run lifecycle.
package cgdist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/i5heu/cgdist/pkg/aligner"
	aligncache "github.com/i5heu/cgdist/pkg/alignCache"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/distance"
	"github.com/i5heu/cgdist/pkg/keyValStore"
	"github.com/i5heu/cgdist/pkg/profile"
)

var (
	ErrInvalidConfig = errors.New("cgdist: invalid configuration")
	ErrClosed        = errors.New("cgdist: closed")
)

// CGDist owns the aligner, the cache and the engine for a series of runs
// sharing one configuration.
type CGDist struct {
	log    *slog.Logger
	config Config

	cache  *aligncache.Cache
	engine *distance.Engine

	mu        sync.Mutex
	kv        *keyValStore.KeyValStore
	clearKV   bool
	loadOnce  sync.Once
	loadErr   error
	closed    bool
	closeOnce sync.Once
}

// Report is the result of one Run.
type Report struct {
	*distance.Result
	Filter profile.FilterReport
	// CacheSaved is true when new or enriched records were persisted.
	CacheSaved bool
}

// New builds the components. New does no I/O; stored caches are read by the
// first Run.
func New(conf Config) (*CGDist, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.MissingChar == "" {
		conf.MissingChar = "-"
	}

	al, err := aligner.New(conf.Scoring, conf.Strictness)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cache := aligncache.New(aligncache.Config{
		Strategy:   conf.Strategy.Name(),
		Scoring:    conf.Scoring,
		Strictness: conf.Strictness,
		Codec:      conf.CacheCodec,
		Logger:     conf.Logger,
		Registerer: conf.Registerer,
	})
	engine, err := distance.NewEngine(distance.Config{
		Mode:            conf.Mode,
		HammingFallback: conf.HammingFallback,
		MinSharedLoci:   conf.MinSharedLoci,
		MissingChar:     conf.MissingChar,
		Workers:         conf.Workers,
		Recombination:   conf.Recombination,
		Logger:          conf.Logger,
		Progress:        conf.Progress,
	}, conf.Strategy, al, cache)
	if err != nil {
		return nil, err
	}
	return &CGDist{
		log:    conf.Logger,
		config: conf,
		cache:  cache,
		engine: engine,
	}, nil
}

func (cg *CGDist) Cache() *aligncache.Cache { return cg.cache }

// WarmReport is the result of one Warm.
type WarmReport struct {
	Precompute distance.PrecomputeStats
	Filter     profile.FilterReport
	CacheSaved bool
}

// Run filters table, computes the matrix and persists new cache records.
// When ctx is canceled the records aligned so far are still saved.
func (cg *CGDist) Run(ctx context.Context, table *profile.Table, schema *profile.Schema) (*Report, error) {
	filtered, report, enriched, err := cg.prepare(table, schema)
	if err != nil {
		return nil, err
	}

	res, runErr := cg.engine.Compute(ctx, filtered, schema)
	saved, err := cg.persist(enriched)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return &Report{Result: res, Filter: report, CacheSaved: saved}, nil
}

// Warm fills the cache with every allele pair of table and saves it without
// building a matrix. A later Run over the same inputs aligns nothing.
func (cg *CGDist) Warm(ctx context.Context, table *profile.Table, schema *profile.Schema) (*WarmReport, error) {
	filtered, report, enriched, err := cg.prepare(table, schema)
	if err != nil {
		return nil, err
	}

	stats, runErr := cg.engine.Precompute(ctx, filtered, schema)
	saved, err := cg.persist(enriched)
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return &WarmReport{Precompute: stats, Filter: report, CacheSaved: saved}, nil
}

// prepare loads the stored cache once, fills in sequence lengths missing from
// stored records and applies the quality filters.
func (cg *CGDist) prepare(table *profile.Table, schema *profile.Schema) (*profile.Table, profile.FilterReport, int, error) {
	cg.mu.Lock()
	closed := cg.closed
	cg.mu.Unlock()
	if closed {
		return nil, profile.FilterReport{}, 0, ErrClosed
	}

	cg.loadOnce.Do(func() { cg.loadErr = cg.loadCache() })
	if cg.loadErr != nil {
		return nil, profile.FilterReport{}, 0, cg.loadErr
	}

	enriched := 0
	if schema != nil && cg.cache.Len() > 0 {
		enriched = cg.cache.Enrich(sequenceLengths(schema, cg.config.Strategy))
	}

	filtered, report, err := table.Filter(cg.config.Filters, cg.config.MissingChar)
	if err != nil {
		return nil, report, 0, err
	}
	if len(report.RemovedSamples) > 0 || len(report.RemovedLoci) > 0 {
		cg.log.Info("quality filters applied",
			"samples_before", report.SamplesBefore, "samples_after", report.SamplesAfter,
			"loci_before", report.LociBefore, "loci_after", report.LociAfter)
	}
	return filtered, report, enriched, nil
}

func (cg *CGDist) persist(enriched int) (bool, error) {
	if cg.cache.Added() == 0 && enriched == 0 {
		return false, nil
	}
	if err := cg.saveCache(); err != nil {
		return false, err
	}
	return true, nil
}

func sequenceLengths(schema *profile.Schema, strategy allele.Strategy) map[allele.Key]int {
	lengths := make(map[allele.Key]int, schema.Len())
	for _, locus := range schema.Loci() {
		for _, a := range schema.Alleles(locus) {
			lengths[strategy.HashSequence(a.Sequence)] = len(a.Sequence)
		}
	}
	return lengths
}

// incompatible decides whether a load error aborts the run.
func (cg *CGDist) incompatible(source string, err error) error {
	if !errors.Is(err, aligncache.ErrIncompatibleCache) {
		return err
	}
	if !cg.config.RecomputeOnIncompatible {
		return err
	}
	cg.log.Warn("stored cache is incompatible, recomputing from scratch", "source", source, "error", err)
	return nil
}

func (cg *CGDist) loadCache() error {
	force := cg.config.ForceRecompute
	if force && (cg.config.CachePath != "" || cg.config.CacheKVPath != "") {
		cg.log.Info("ignoring stored alignment cache, recomputing every pair")
	}

	if path := cg.config.CachePath; path != "" && !force {
		if _, err := os.Stat(path); err == nil {
			if _, err := cg.cache.Load(path); err != nil {
				if err := cg.incompatible(path, err); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		} else {
			cg.log.Info("no stored cache yet", "path", path)
		}
	}

	if dir := cg.config.CacheKVPath; dir != "" {
		kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
			Paths:  []string{dir},
			Logger: cg.log,
		})
		if err != nil {
			return fmt.Errorf("open cache store: %w", err)
		}
		cg.mu.Lock()
		cg.kv = kv
		cg.clearKV = force
		cg.mu.Unlock()
		if force {
			return nil
		}
		if _, err := cg.cache.LoadKV(kv); err != nil && !errors.Is(err, keyValStore.ErrKeyNotFound) {
			if err := cg.incompatible(dir, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (cg *CGDist) saveCache() error {
	if path := cg.config.CachePath; path != "" {
		if err := cg.cache.Save(path, cg.config.CacheNote); err != nil {
			return fmt.Errorf("save cache: %w", err)
		}
	}
	cg.mu.Lock()
	kv := cg.kv
	dropStored := cg.clearKV
	cg.clearKV = false
	cg.mu.Unlock()
	if kv != nil {
		if dropStored {
			if err := aligncache.ClearKV(kv); err != nil {
				return err
			}
		}
		if err := cg.cache.SaveKV(kv, cg.config.CacheNote); err != nil {
			return fmt.Errorf("save cache store: %w", err)
		}
	}
	return nil
}

// Close stops the workers and closes the key value store. Close is
// idempotent.
func (cg *CGDist) Close() error {
	var closeErr error
	cg.closeOnce.Do(func() {
		cg.mu.Lock()
		cg.closed = true
		kv := cg.kv
		cg.kv = nil
		cg.mu.Unlock()

		cg.engine.Close()
		if kv != nil {
			if err := kv.Close(); err != nil {
				closeErr = fmt.Errorf("close cache store: %w", err)
			}
		}
	})
	return closeErr
}
