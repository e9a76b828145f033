package cgdist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/i5heu/cgdist/internal/config"
	"github.com/i5heu/cgdist/internal/testutil"
	"github.com/i5heu/cgdist/pkg/aligner"
	aligncache "github.com/i5heu/cgdist/pkg/alignCache"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/distance"
	"github.com/i5heu/cgdist/pkg/keyValStore"
	"github.com/i5heu/cgdist/pkg/profile"
	"github.com/i5heu/cgdist/pkg/recombination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	refAlleles = []string{"ATCGATCGATCGATCG", "GGGGGGGGGGGGGGGG", "CCCCCCCCCCCCCCCC"}
	altAlleles = []string{"ATCGATCGATCGATGG", "GGGGGGGGGTGGGGGG", "CCCCCTTCCCCCCCCC"}
)

// inputs builds three samples over three loci: ref, alt (one substitution
// per locus, two at locus3) and sparse, which is missing at every locus.
func inputs(t testing.TB) (*profile.Table, *profile.Schema) {
	t.Helper()
	schema := profile.NewSchema()
	loci := []string{"locus1", "locus2", "locus3"}
	for i, locus := range loci {
		require.NoError(t, schema.Add(locus, "1", refAlleles[i]))
		require.NoError(t, schema.Add(locus, "2", altAlleles[i]))
	}
	table, err := profile.NewTable(loci)
	require.NoError(t, err)
	require.NoError(t, table.AddSample("ref", []string{"1", "1", "1"}))
	require.NoError(t, table.AddSample("alt", []string{"2", "2", "2"}))
	require.NoError(t, table.AddSample("sparse", []string{"-", "-", "-"}))
	return table, schema
}

func testConfig(t testing.TB) Config {
	t.Helper()
	c := DefaultConfig()
	c.Logger = testutil.QuietLogger()
	c.Workers = 2
	return c
}

func newCGDist(t testing.TB, c Config) *CGDist {
	t.Helper()
	cg, err := New(c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cg.Close() })
	return cg
}

func TestRun_ComputesAndPersists(t *testing.T) {
	table, schema := inputs(t)
	conf := testConfig(t)
	conf.CachePath = filepath.Join(t.TempDir(), "cache.cgdc")
	conf.CacheNote = "first run"

	cg := newCGDist(t, conf)
	report, err := cg.Run(context.Background(), table, schema)
	require.NoError(t, err)
	assert.True(t, report.CacheSaved)
	assert.Equal(t, distance.SNPs, report.Mode)
	assert.Equal(t, 3, report.Precompute.Computed)

	d, ok := report.Matrix.At(0, 1)
	require.True(t, ok)
	assert.Equal(t, 4, d)
	sparse, ok := report.Matrix.At(0, 2)
	require.True(t, ok)
	assert.Equal(t, 0, sparse, "no shared loci and no minimum gives zero")

	h, err := aligncache.ReadHeader(conf.CachePath)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h.Entries)
	assert.Equal(t, "first run", h.Note)
	assert.Equal(t, "CRC32", h.Strategy)

	again := newCGDist(t, conf)
	report, err = again.Run(context.Background(), table, schema)
	require.NoError(t, err)
	assert.False(t, report.CacheSaved, "nothing new to persist")
	assert.Equal(t, 3, report.Precompute.Cached)
	assert.Equal(t, 0, report.Precompute.Computed)
	d2, _ := report.Matrix.At(0, 1)
	assert.Equal(t, d, d2)
	assert.True(t, again.Cache().HasLengths())
}

func TestRun_IncompatibleCache(t *testing.T) {
	table, schema := inputs(t)
	conf := testConfig(t)
	conf.CachePath = filepath.Join(t.TempDir(), "cache.cgdc")
	_, err := newCGDist(t, conf).Run(context.Background(), table, schema)
	require.NoError(t, err)

	strict, err := aligner.LookupPreset("dna-strict")
	require.NoError(t, err)
	conf.Scoring = strict.Scoring

	_, err = newCGDist(t, conf).Run(context.Background(), table, schema)
	require.ErrorIs(t, err, aligncache.ErrIncompatibleCache)

	conf.RecomputeOnIncompatible = true
	report, err := newCGDist(t, conf).Run(context.Background(), table, schema)
	require.NoError(t, err)
	assert.True(t, report.CacheSaved)
	assert.Equal(t, 3, report.Precompute.Computed)

	h, err := aligncache.ReadHeader(conf.CachePath)
	require.NoError(t, err)
	assert.Equal(t, strict.Scoring, h.Scoring)
}

func TestRun_KeyValueStore(t *testing.T) {
	table, schema := inputs(t)
	conf := testConfig(t)
	conf.CacheKVPath = filepath.Join(t.TempDir(), "kv")

	cg, err := New(conf)
	require.NoError(t, err)
	_, err = cg.Run(context.Background(), table, schema)
	require.NoError(t, err)
	require.NoError(t, cg.Close())
	require.NoError(t, cg.Close(), "idempotent")

	_, err = cg.Run(context.Background(), table, schema)
	assert.ErrorIs(t, err, ErrClosed)

	again := newCGDist(t, conf)
	report, err := again.Run(context.Background(), table, schema)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Precompute.Cached)
}

func TestRun_FiltersAndMinimum(t *testing.T) {
	table, schema := inputs(t)
	conf := testConfig(t)
	conf.Filters.SampleThreshold = 0.5
	conf.MinSharedLoci = 3

	report, err := newCGDist(t, conf).Run(context.Background(), table, schema)
	require.NoError(t, err)
	assert.Equal(t, []string{"sparse"}, report.Filter.RemovedSamples)
	assert.Equal(t, []string{"ref", "alt"}, report.Matrix.Samples())
	assert.Equal(t, 3, report.Matrix.SharedLoci(0, 1))
}

func TestRun_Canceled(t *testing.T) {
	table, schema := inputs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newCGDist(t, testConfig(t)).Run(ctx, table, schema)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromSettings(t *testing.T) {
	s := config.Default()
	s.Hasher = "sha256"
	s.Mode = "snps+indel+bases"
	s.Cache.OnIncompatible = "recompute"
	c, err := FromSettings(s)
	require.NoError(t, err)
	assert.Equal(t, "SHA256", c.Strategy.Name())
	assert.Equal(t, distance.SNPsIndelBases, c.Mode)
	assert.True(t, c.RecomputeOnIncompatible)
	assert.Equal(t, aligncache.CodecS2, c.CacheCodec)

	s.Hasher = "nope"
	_, err = FromSettings(s)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWarm_ThenRunReusesEveryRecord(t *testing.T) {
	table, schema := inputs(t)
	conf := testConfig(t)
	conf.CachePath = filepath.Join(t.TempDir(), "cache.cgdc")
	// records serve every mode, so warming in Hamming mode still aligns
	conf.Mode = distance.Hamming

	warm, err := newCGDist(t, conf).Warm(context.Background(), table, schema)
	require.NoError(t, err)
	assert.True(t, warm.CacheSaved)
	assert.Equal(t, 3, warm.Precompute.UniquePairs)
	assert.Equal(t, 3, warm.Precompute.Computed)

	h, err := aligncache.ReadHeader(conf.CachePath)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h.Entries)

	conf.Mode = distance.SNPsIndelBases
	report, err := newCGDist(t, conf).Run(context.Background(), table, schema)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Precompute.Cached)
	assert.Zero(t, report.Precompute.Computed)
	assert.False(t, report.CacheSaved)
	d, _ := report.Matrix.At(0, 1)
	assert.Equal(t, 4, d)
}

func TestRun_ForceRecomputeIgnoresStoredCache(t *testing.T) {
	table, schema := inputs(t)
	dir := t.TempDir()
	conf := testConfig(t)
	conf.CachePath = filepath.Join(dir, "cache.cgdc")
	conf.CacheKVPath = filepath.Join(dir, "kv")

	cg, err := New(conf)
	require.NoError(t, err)
	_, err = cg.Run(context.Background(), table, schema)
	require.NoError(t, err)
	require.NoError(t, cg.Close())

	conf.ForceRecompute = true
	conf.Filters.IncludeLoci = []string{"locus1"}
	cg, err = New(conf)
	require.NoError(t, err)
	report, err := cg.Run(context.Background(), table, schema)
	require.NoError(t, err)
	assert.Zero(t, report.Precompute.Cached)
	assert.Equal(t, 1, report.Precompute.Computed)
	assert.True(t, report.CacheSaved)
	require.NoError(t, cg.Close())

	h, err := aligncache.ReadHeader(conf.CachePath)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Entries, "file replaced")

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:  []string{conf.CacheKVPath},
		Logger: testutil.QuietLogger(),
	})
	require.NoError(t, err)
	defer kv.Close()
	h, err = newCGDist(t, testConfig(t)).Cache().LoadKV(kv)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Entries, "stored records dropped")
}

func TestRun_EnrichesStoredRecordsBeforeScreening(t *testing.T) {
	table, schema := inputs(t)
	conf := testConfig(t)
	conf.CachePath = filepath.Join(t.TempDir(), "cache.cgdc")
	conf.Recombination = &recombination.Screen{Threshold: 0}

	// a store written without sequence lengths
	strategy := allele.CRC32Strategy{}
	al, err := aligner.New(conf.Scoring, conf.Strictness)
	require.NoError(t, err)
	sequences := map[allele.Key]string{}
	stored := aligncache.New(aligncache.Config{
		Strategy:   strategy.Name(),
		Scoring:    conf.Scoring,
		Strictness: conf.Strictness,
		Logger:     testutil.QuietLogger(),
	})
	for i := range refAlleles {
		a, b := strategy.HashSequence(refAlleles[i]), strategy.HashSequence(altAlleles[i])
		sequences[a], sequences[b] = refAlleles[i], altAlleles[i]
		_, err := stored.GetOrCompute(a, b, func(x, y allele.Key) (aligner.Stats, error) {
			st, err := al.Align(sequences[x], sequences[y])
			st.LengthA, st.LengthB = 0, 0
			return st, err
		})
		require.NoError(t, err)
	}
	require.False(t, stored.HasLengths())
	require.NoError(t, stored.Save(conf.CachePath, ""))

	report, err := newCGDist(t, conf).Run(context.Background(), table, schema)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Precompute.Cached)
	assert.True(t, report.CacheSaved, "enriched records are persisted")
	require.Len(t, report.Events, 3)
	for _, e := range report.Events {
		assert.Equal(t, 16, e.LengthA, e.Locus)
		assert.Equal(t, 16, e.LengthB, e.Locus)
	}
}
