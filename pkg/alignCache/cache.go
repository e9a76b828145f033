// Package aligncache memoizes alignment statistics per unordered allele pair.
// Every distinct pair is aligned at most once for the lifetime of a Cache,
// even when many workers ask for it concurrently.
package aligncache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/i5heu/cgdist/pkg/aligner"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/prometheus/client_golang/prometheus"
)

var ErrUndefinedPair = errors.New("aligncache: pair involves missing data")

const defaultShards = 256

// ComputeFunc aligns the sequences behind a and b. It is always called with
// the pair in canonical order.
type ComputeFunc func(a, b allele.Key) (aligner.Stats, error)

type Config struct {
	Strategy   string
	Scoring    aligner.Scoring
	Strictness aligner.Strictness
	Codec      Codec // used by Save, default CodecS2
	Shards     int   // rounded up to a power of two, default 256
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type entry struct {
	done  chan struct{}
	stats atomic.Pointer[aligner.Stats]
	err   error
}

type shard struct {
	mu sync.RWMutex
	m  map[allele.PairKey]*entry
}

type Cache struct {
	config  Config
	log     *slog.Logger
	shards  []shard
	mask    uint64
	metrics *metrics

	added   atomic.Int64
	created time.Time
	note    string
}

func New(config Config) *Cache {
	if config.Logger == nil {
		config.Logger = defaultLogger()
	}
	n := 1
	for n < config.Shards {
		n <<= 1
	}
	if config.Shards <= 0 {
		n = defaultShards
	}

	c := &Cache{
		config:  config,
		log:     config.Logger,
		shards:  make([]shard, n),
		mask:    uint64(n - 1),
		metrics: newMetrics(config.Registerer),
		created: time.Now(),
	}
	for i := range c.shards {
		c.shards[i].m = make(map[allele.PairKey]*entry)
	}
	return c
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Header returns the header describing the active configuration.
func (c *Cache) Header() Header {
	return Header{
		FormatVersion: FormatVersion,
		Strategy:      c.config.Strategy,
		Scoring:       c.config.Scoring,
		Strictness:    c.config.Strictness,
		Note:          c.note,
		Created:       c.created,
	}
}

func (c *Cache) shardFor(p allele.PairKey) *shard {
	d := xxhash.New()
	_, _ = d.Write(p.A.Bytes())
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(p.B.Bytes())
	return &c.shards[d.Sum64()&c.mask]
}

// GetOrCompute returns the statistics for the pair (a, b), calling fn on the
// first request only. Concurrent requests for a pair in flight wait for it.
// Lengths in the result follow the caller's argument order.
func (c *Cache) GetOrCompute(a, b allele.Key, fn ComputeFunc) (aligner.Stats, error) {
	if a.IsMissing() || b.IsMissing() {
		return aligner.Stats{}, fmt.Errorf("%w: %s vs %s", ErrUndefinedPair, a, b)
	}
	p := allele.NewPair(a, b)
	swapped := p.A != a
	sh := c.shardFor(p)

	sh.mu.RLock()
	e, ok := sh.m[p]
	sh.mu.RUnlock()

	if !ok {
		sh.mu.Lock()
		e, ok = sh.m[p]
		if !ok {
			e = &entry{done: make(chan struct{})}
			sh.m[p] = e
		}
		sh.mu.Unlock()

		if !ok {
			c.metrics.misses.Inc()
			c.compute(e, p, fn)
			return orient(e, swapped)
		}
	}

	select {
	case <-e.done:
		c.metrics.hits.Inc()
	default:
		c.metrics.waits.Inc()
		<-e.done
	}
	return orient(e, swapped)
}

func (c *Cache) compute(e *entry, p allele.PairKey, fn ComputeFunc) {
	defer close(e.done)
	start := time.Now()
	stats, err := fn(p.A, p.B)
	c.metrics.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.errors.Inc()
		e.err = err
		return
	}
	e.stats.Store(&stats)
	c.added.Add(1)
}

func orient(e *entry, swapped bool) (aligner.Stats, error) {
	if e.err != nil {
		return aligner.Stats{}, e.err
	}
	s := *e.stats.Load()
	if swapped {
		s = s.Swap()
	}
	return s, nil
}

// Get returns a completed, successful record without computing anything.
func (c *Cache) Get(a, b allele.Key) (aligner.Stats, bool) {
	if a.IsMissing() || b.IsMissing() {
		return aligner.Stats{}, false
	}
	p := allele.NewPair(a, b)
	sh := c.shardFor(p)
	sh.mu.RLock()
	e, ok := sh.m[p]
	sh.mu.RUnlock()
	if !ok {
		return aligner.Stats{}, false
	}
	select {
	case <-e.done:
	default:
		return aligner.Stats{}, false
	}
	s, err := orient(e, p.A != a)
	return s, err == nil
}

// Contains reports whether a successful record exists for the pair.
func (c *Cache) Contains(a, b allele.Key) bool {
	_, ok := c.Get(a, b)
	return ok
}

// put stores a completed record, keeping an existing one. stats must be in
// canonical order.
func (c *Cache) put(p allele.PairKey, stats aligner.Stats) bool {
	sh := c.shardFor(p)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.m[p]; ok {
		return false
	}
	e := &entry{done: make(chan struct{})}
	e.stats.Store(&stats)
	close(e.done)
	sh.m[p] = e
	return true
}

// Len counts the successful records.
func (c *Cache) Len() int {
	n := 0
	c.rangeEntries(func(allele.PairKey, *entry) {
		n++
	})
	return n
}

// Added is the number of records computed since the cache was created or
// last saved.
func (c *Cache) Added() int64 { return c.added.Load() }

// Records returns the successful records sorted by pair.
func (c *Cache) Records() []Record {
	var records []Record
	c.rangeEntries(func(p allele.PairKey, e *entry) {
		records = append(records, Record{Pair: p, Stats: *e.stats.Load()})
	})
	sort.Slice(records, func(i, j int) bool {
		if d := records[i].Pair.A.Compare(records[j].Pair.A); d != 0 {
			return d < 0
		}
		return records[i].Pair.B.Less(records[j].Pair.B)
	})
	return records
}

// rangeEntries visits completed entries without an error.
func (c *Cache) rangeEntries(fn func(allele.PairKey, *entry)) {
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		for p, e := range sh.m {
			select {
			case <-e.done:
			default:
				continue
			}
			if e.err == nil {
				fn(p, e)
			}
		}
		sh.mu.RUnlock()
	}
}

// HasLengths reports whether any record carries sequence lengths.
func (c *Cache) HasLengths() bool {
	found := false
	c.rangeEntries(func(_ allele.PairKey, e *entry) {
		if !found && e.stats.Load().HasLengths() {
			found = true
		}
	})
	return found
}

// Enrich fills in missing sequence lengths from lengths. Lengths already set
// are kept, so enriching twice with the same data changes nothing the second
// time. It returns the number of records updated.
func (c *Cache) Enrich(lengths map[allele.Key]int) int {
	updated := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		for p, e := range sh.m {
			select {
			case <-e.done:
			default:
				continue
			}
			if e.err != nil {
				continue
			}
			cur := e.stats.Load()
			next := *cur
			if next.LengthA == 0 {
				next.LengthA = lengths[p.A]
			}
			if next.LengthB == 0 {
				next.LengthB = lengths[p.B]
			}
			if next != *cur {
				e.stats.Store(&next)
				updated++
			}
		}
		sh.mu.RUnlock()
	}
	if updated > 0 {
		c.log.Info("enriched alignment cache with sequence lengths", "records", updated)
	}
	return updated
}

// Record is one persisted cache entry in canonical pair order.
type Record struct {
	Pair  allele.PairKey
	Stats aligner.Stats
}
