// Package distance turns allelic profiles into a sample x sample distance
// matrix. Per-locus alignment records come from a shared aligncache.Cache, so
// each distinct allele pair is aligned once no matter how many sample pairs
// or modes need it.
package distance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/cgdist/pkg/aligner"
	aligncache "github.com/i5heu/cgdist/pkg/alignCache"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/profile"
	"github.com/i5heu/cgdist/pkg/recombination"
	workerpool "github.com/i5heu/cgdist/pkg/workerPool"
)

// Phase names the part of a run a progress report belongs to.
type Phase string

const (
	PhasePrecompute Phase = "precompute"
	PhaseMatrix     Phase = "matrix"
)

// ProgressFunc is called from worker goroutines and must be safe for
// concurrent use.
type ProgressFunc func(phase Phase, done, total int)

type Config struct {
	Mode            Mode
	HammingFallback bool
	MinSharedLoci   int
	MissingChar     string
	Workers         int
	// Recombination enables the screen when non-nil.
	Recombination *recombination.Screen
	Logger        *slog.Logger
	Progress      ProgressFunc
}

func (c Config) Validate() error {
	if c.Mode > SNPsIndelBases {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidConfig, c.Mode)
	}
	if c.MinSharedLoci < 0 {
		return fmt.Errorf("%w: min shared loci must be >= 0, got %d", ErrInvalidConfig, c.MinSharedLoci)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.Recombination != nil {
		if err := c.Recombination.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

type Engine struct {
	config   Config
	log      *slog.Logger
	strategy allele.Strategy
	aligner  *aligner.Aligner
	cache    *aligncache.Cache
	wp       *workerpool.WorkerPool
}

type PrecomputeStats struct {
	UniquePairs int
	Cached      int
	Computed    int
	Failed      int
	// Unavailable pairs lack a sequence for at least one key.
	Unavailable int
	Duration    time.Duration
}

// HitRate is the share of unique pairs that were already cached, in percent.
func (s PrecomputeStats) HitRate() float64 {
	if s.UniquePairs == 0 {
		return 100
	}
	return float64(s.Cached) / float64(s.UniquePairs) * 100
}

type Result struct {
	Mode       Mode
	Matrix     *Matrix
	Loci       []string
	Errors     []LocusError
	Events     []recombination.Event
	Precompute PrecomputeStats
}

func NewEngine(config Config, strategy allele.Strategy, al *aligner.Aligner, cache *aligncache.Cache) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil || al == nil || cache == nil {
		return nil, fmt.Errorf("%w: strategy, aligner and cache are required", ErrInvalidConfig)
	}
	if config.Logger == nil {
		config.Logger = defaultLogger()
	}
	return &Engine{
		config:   config,
		log:      config.Logger,
		strategy: strategy,
		aligner:  al,
		cache:    cache,
		wp:       workerpool.NewWorkerPool(workerpool.Config{WorkerCount: config.Workers}),
	}, nil
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Close stops the engine's workers.
func (e *Engine) Close() { e.wp.Close() }

func (e *Engine) Cache() *aligncache.Cache { return e.cache }

// identityOnly is true for strategies whose keys carry no alignable content.
func (e *Engine) identityOnly() bool {
	return e.strategy.Name() == (allele.HammingStrategy{}).Name()
}

func (e *Engine) needsAlignment() bool {
	if e.identityOnly() {
		return false
	}
	return e.config.Mode.needsAlignment() || e.config.Recombination != nil
}

func (e *Engine) progress(phase Phase, done, total int) {
	if e.config.Progress != nil {
		e.config.Progress(phase, done, total)
	}
}

// Compute builds the distance matrix for table. Per-coordinate failures are
// returned in Result.Errors; the error return is reserved for cancellation.
func (e *Engine) Compute(ctx context.Context, table *profile.Table, schema *profile.Schema) (*Result, error) {
	start := time.Now()
	r := resolve(table, schema, e.strategy, e.config.MissingChar, e.needsAlignment())
	if len(r.errors) > 0 {
		e.log.Warn("profile tokens could not be resolved", "count", len(r.errors))
	}

	res := &Result{Mode: e.config.Mode, Loci: r.loci}
	if e.needsAlignment() {
		stats, err := e.precompute(ctx, r)
		res.Precompute = stats
		if err != nil {
			return nil, err
		}
	}

	matrix, errs, events, err := e.matrix(ctx, r)
	if err != nil {
		return nil, err
	}
	res.Matrix = matrix
	res.Errors = append(r.errors, errs...)
	res.Events = events

	e.log.Info("distance matrix computed",
		"mode", e.config.Mode.String(),
		"samples", humanize.Comma(int64(len(r.samples))),
		"loci", humanize.Comma(int64(len(r.loci))),
		"errors", len(res.Errors),
		"recombination_events", len(events),
		"duration", time.Since(start))
	return res, nil
}

// Precompute aligns every unique differing allele pair of table into the
// cache without building a matrix. Records serve every mode, so it aligns
// even when the configured mode is Hamming.
func (e *Engine) Precompute(ctx context.Context, table *profile.Table, schema *profile.Schema) (PrecomputeStats, error) {
	if e.identityOnly() {
		e.log.Info("nothing to precompute, strategy keys carry no sequence", "strategy", e.strategy.Name())
		return PrecomputeStats{}, nil
	}
	r := resolve(table, schema, e.strategy, e.config.MissingChar, true)
	if len(r.errors) > 0 {
		e.log.Warn("profile tokens could not be resolved", "count", len(r.errors))
	}
	return e.precompute(ctx, r)
}

func (e *Engine) computeFunc(r *resolved) aligncache.ComputeFunc {
	return func(a, b allele.Key) (aligner.Stats, error) {
		seqA, _ := r.sequence(a)
		seqB, _ := r.sequence(b)
		return e.aligner.Align(seqA, seqB)
	}
}

// stats fetches the record for a differing pair. Pairs without sequences are
// reported without touching the cache, so a later run with a fuller schema
// can still compute them.
func (e *Engine) stats(r *resolved, a, b allele.Key) (aligner.Stats, error) {
	if s, ok := e.cache.Get(a, b); ok {
		return s, nil
	}
	if _, ok := r.sequence(a); !ok {
		return aligner.Stats{}, fmt.Errorf("%w: %s", ErrSequenceNotFound, a)
	}
	if _, ok := r.sequence(b); !ok {
		return aligner.Stats{}, fmt.Errorf("%w: %s", ErrSequenceNotFound, b)
	}
	return e.cache.GetOrCompute(a, b, e.computeFunc(r))
}

// precompute aligns every unique differing pair not yet cached on the pool.
func (e *Engine) precompute(ctx context.Context, r *resolved) (PrecomputeStats, error) {
	start := time.Now()
	pairs := r.uniquePairs()
	stats := PrecomputeStats{UniquePairs: len(pairs)}

	var todo []allele.PairKey
	for _, p := range pairs {
		switch {
		case e.cache.Contains(p.A, p.B):
			stats.Cached++
		case !r.hasSequences(p):
			stats.Unavailable++
		default:
			todo = append(todo, p)
		}
	}

	e.log.Info("precomputing alignments",
		"unique_pairs", humanize.Comma(int64(stats.UniquePairs)),
		"cached", humanize.Comma(int64(stats.Cached)),
		"to_compute", humanize.Comma(int64(len(todo))),
		"hit_rate", fmt.Sprintf("%.1f%%", stats.HitRate()))

	var done, failed atomic.Int64
	compute := e.computeFunc(r)
	room := e.wp.CreateRoom(e.wp.WorkerCount())
	room.AsyncCollector()

	var submitErr error
	for _, p := range todo {
		p := p
		err := room.NewTaskWaitForFreeSlot(ctx, func() interface{} {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := e.cache.GetOrCompute(p.A, p.B, compute); err != nil {
				failed.Add(1)
			}
			e.progress(PhasePrecompute, int(done.Add(1)), len(todo))
			return nil
		})
		if err != nil {
			submitErr = err
			break
		}
	}
	room.GetAsyncResults()

	if submitErr != nil {
		return stats, submitErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	stats.Failed = int(failed.Load())
	stats.Computed = len(todo) - stats.Failed
	stats.Duration = time.Since(start)
	if stats.Unavailable > 0 {
		e.log.Warn("allele pairs without sequences", "pairs", stats.Unavailable)
	}
	e.log.Info("precompute finished",
		"computed", humanize.Comma(int64(stats.Computed)),
		"failed", stats.Failed,
		"cache_entries", humanize.Comma(int64(e.cache.Len())),
		"duration", stats.Duration)
	return stats, nil
}

func (r *resolved) hasSequences(p allele.PairKey) bool {
	_, okA := r.sequence(p.A)
	_, okB := r.sequence(p.B)
	return okA && okB
}

type rowResult struct {
	row    int
	values []int
	shared []int
	errors []LocusError
	events []recombination.Event
}

// matrix computes one row of the upper triangle per task.
func (e *Engine) matrix(ctx context.Context, r *resolved) (*Matrix, []LocusError, []recombination.Event, error) {
	n := len(r.samples)
	m := newMatrix(r.samples)
	var done atomic.Int64

	room := e.wp.CreateRoom(e.wp.WorkerCount())
	room.AsyncCollector()

	var submitErr error
	for i := 0; i < n-1; i++ {
		i := i
		err := room.NewTaskWaitForFreeSlot(ctx, func() interface{} {
			if ctx.Err() != nil {
				return nil
			}
			row := e.row(r, i)
			e.progress(PhaseMatrix, int(done.Add(1)), n-1)
			return row
		})
		if err != nil {
			submitErr = err
			break
		}
	}
	results := room.GetAsyncResults()
	if submitErr != nil {
		return nil, nil, nil, submitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	rows := make([]*rowResult, n)
	for _, res := range results {
		if row, ok := res.(*rowResult); ok {
			rows[row.row] = row
		}
	}

	var errs []LocusError
	var events []recombination.Event
	for i, row := range rows {
		if row == nil {
			continue
		}
		for k, v := range row.values {
			m.set(i, i+1+k, v, row.shared[k])
		}
		errs = append(errs, row.errors...)
		events = append(events, row.events...)
	}
	return m, errs, events, nil
}

func (e *Engine) row(r *resolved, i int) *rowResult {
	n := len(r.samples)
	out := &rowResult{
		row:    i,
		values: make([]int, 0, n-i-1),
		shared: make([]int, 0, n-i-1),
	}
	mode := e.config.Mode
	align := e.needsAlignment()
	var observations []recombination.Observation

	for j := i + 1; j < n; j++ {
		total, shared := 0, 0
		observations = observations[:0]
		for l, locus := range r.loci {
			a, b := r.keys[i][l], r.keys[j][l]
			if a.IsMissing() || b.IsMissing() {
				continue
			}
			if a == b {
				shared++
				continue
			}
			if !align {
				shared++
				total++
				continue
			}

			stats, err := e.stats(r, a, b)
			if err != nil {
				out.errors = append(out.errors, LocusError{SampleA: r.samples[i], SampleB: r.samples[j], Locus: locus, Err: err})
				if mode == Hamming {
					shared++
					total++
				}
				continue
			}
			shared++
			total += mode.Contribution(stats, e.config.HammingFallback)
			if e.config.Recombination != nil {
				observations = append(observations, recombination.Observation{Locus: locus, KeyA: a, KeyB: b, Stats: stats})
			}
		}

		if shared < e.config.MinSharedLoci {
			total = Insufficient
		}
		out.values = append(out.values, total)
		out.shared = append(out.shared, shared)
		if e.config.Recombination != nil && len(observations) > 0 {
			out.events = append(out.events, e.config.Recombination.Scan(r.samples[i], r.samples[j], observations)...)
		}
	}
	return out
}
