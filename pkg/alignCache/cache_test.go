package aligncache

import (
	"io"
	"log/slog"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/i5heu/cgdist/pkg/aligner"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/keyValStore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(codec Codec) *Cache {
	return New(Config{
		Strategy:   "CRC32",
		Scoring:    aligner.DefaultScoring(),
		Strictness: aligner.Strict,
		Codec:      codec,
		Logger:     quietLogger(),
	})
}

// fakeStats derives deterministic stats from a canonical pair.
func fakeStats(a, b allele.Key) (aligner.Stats, error) {
	na, _ := a.Numeric()
	nb, _ := b.Numeric()
	return aligner.Stats{
		SNPs:          int(nb-na) % 7,
		IndelEvents:   int(na % 3),
		IndelBases:    int(na%3) * 2,
		AlignedLength: 100 + int(na%5),
		LengthA:       int(na),
		LengthB:       int(nb),
	}, nil
}

func TestGetOrCompute_AtMostOnceUnderConcurrency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(Config{Strategy: "CRC32", Scoring: aligner.DefaultScoring(), Shards: 4, Logger: quietLogger(), Registerer: reg})

	var calls sync.Map
	compute := func(a, b allele.Key) (aligner.Stats, error) {
		v, _ := calls.LoadOrStore(allele.NewPair(a, b), new(atomic.Int32))
		v.(*atomic.Int32).Add(1)
		return fakeStats(a, b)
	}

	const pairs = 40
	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < pairs; i++ {
				a, b := allele.NumericKey(uint64(i)), allele.NumericKey(uint64(i+1000))
				if g%2 == 1 {
					a, b = b, a
				}
				_, err := c.GetOrCompute(a, b, compute)
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	n := 0
	calls.Range(func(_, v any) bool {
		n++
		assert.Equal(t, int32(1), v.(*atomic.Int32).Load())
		return true
	})
	assert.Equal(t, pairs, n)
	assert.Equal(t, pairs, c.Len())
	assert.Equal(t, int64(pairs), c.Added())
	assert.Equal(t, float64(pairs), testutil.ToFloat64(c.metrics.misses))
	assert.Equal(t, float64(32*pairs-pairs),
		testutil.ToFloat64(c.metrics.hits)+testutil.ToFloat64(c.metrics.waits))
}

func TestGetOrCompute_OrientsLengths(t *testing.T) {
	c := newTestCache(CodecS2)
	a, b := allele.NumericKey(10), allele.NumericKey(20)

	var got []allele.Key
	fn := func(x, y allele.Key) (aligner.Stats, error) {
		got = append(got, x, y)
		return fakeStats(x, y)
	}

	s, err := c.GetOrCompute(b, a, fn)
	require.NoError(t, err)
	assert.Equal(t, []allele.Key{a, b}, got, "compute sees canonical order")
	assert.Equal(t, 20, s.LengthA)
	assert.Equal(t, 10, s.LengthB)

	s, err = c.GetOrCompute(a, b, fn)
	require.NoError(t, err)
	assert.Equal(t, 10, s.LengthA)
	assert.Equal(t, 20, s.LengthB)
	assert.Len(t, got, 2)

	s, ok := c.Get(b, a)
	require.True(t, ok)
	assert.Equal(t, 20, s.LengthA)
}

func TestGetOrCompute_UndefinedPair(t *testing.T) {
	c := newTestCache(CodecS2)
	called := false
	_, err := c.GetOrCompute(allele.Missing, allele.NumericKey(1), func(a, b allele.Key) (aligner.Stats, error) {
		called = true
		return aligner.Stats{}, nil
	})
	assert.ErrorIs(t, err, ErrUndefinedPair)
	assert.False(t, called)

	_, ok := c.Get(allele.NumericKey(1), allele.Missing)
	assert.False(t, ok)
}

func TestGetOrCompute_ErrorIsRememberedButNotPersisted(t *testing.T) {
	c := newTestCache(CodecS2)
	boom := errors.New("boom")
	calls := 0
	fn := func(a, b allele.Key) (aligner.Stats, error) {
		calls++
		return aligner.Stats{}, boom
	}
	a, b := allele.NumericKey(1), allele.NumericKey(2)
	_, err := c.GetOrCompute(a, b, fn)
	assert.ErrorIs(t, err, boom)
	_, err = c.GetOrCompute(b, a, fn)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Zero(t, c.Len())
	assert.False(t, c.Contains(a, b))
}

func TestGetOrCompute_WithAligner(t *testing.T) {
	al, err := aligner.New(aligner.DefaultScoring(), aligner.Strict)
	require.NoError(t, err)

	strategy := allele.CRC32Strategy{}
	seqs := map[allele.Key]string{}
	for _, s := range []string{"GGGGGGGGGGGGGGGG", "GGGGGGGGGGGGGG"} {
		seqs[strategy.HashSequence(s)] = s
	}
	a := strategy.HashSequence("GGGGGGGGGGGGGGGG")
	b := strategy.HashSequence("GGGGGGGGGGGGGG")

	c := newTestCache(CodecS2)
	s, err := c.GetOrCompute(a, b, func(x, y allele.Key) (aligner.Stats, error) {
		return al.Align(seqs[x], seqs[y])
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.SNPs)
	assert.Equal(t, 1, s.IndelEvents)
	assert.Equal(t, 2, s.IndelBases)
	assert.Equal(t, 16, s.LengthA)
	assert.Equal(t, 14, s.LengthB)
}

func fill(t *testing.T, c *Cache, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := c.GetOrCompute(allele.NumericKey(uint64(i)), allele.NumericKey(uint64(i*3+1)), fakeStats)
		require.NoError(t, err)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecS2, CodecZstd, CodecLZMA} {
		t.Run(codec.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "cache.cgdc")
			c := newTestCache(codec)
			fill(t, c, 500)
			require.NoError(t, c.Save(path, "outbreak 2024"))
			assert.Zero(t, c.Added())

			h, err := ReadHeader(path)
			require.NoError(t, err)
			assert.Equal(t, "CRC32", h.Strategy)
			assert.Equal(t, aligner.DefaultScoring(), h.Scoring)
			assert.Equal(t, "outbreak 2024", h.Note)
			assert.Equal(t, uint64(500), h.Entries)
			assert.Equal(t, codec, h.Codec)
			assert.Equal(t, uint32(FormatVersion), h.FormatVersion)

			loaded := newTestCache(CodecS2)
			_, err = loaded.Load(path)
			require.NoError(t, err)
			assert.Equal(t, c.Records(), loaded.Records())
			assert.Zero(t, loaded.Added())
			assert.True(t, loaded.HasLengths())
		})
	}
}

func TestLoad_IncompatibleHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.cgdc")
	c := newTestCache(CodecS2)
	fill(t, c, 10)
	require.NoError(t, c.Save(path, ""))

	other := New(Config{
		Strategy:   "SHA256",
		Scoring:    aligner.Scoring{Match: 3, Mismatch: -2, GapOpen: 8, GapExtend: 3},
		Strictness: aligner.Permissive,
		Logger:     quietLogger(),
	})
	_, err := other.Load(path)
	require.ErrorIs(t, err, ErrIncompatibleCache)

	var mismatch *HeaderMismatch
	require.True(t, errors.As(err, &mismatch))
	assert.Len(t, mismatch.Fields, 3)
	assert.Zero(t, other.Len(), "nothing merged from an incompatible store")

	// strategy names compare case-insensitively
	same := New(Config{Strategy: "crc32", Scoring: aligner.DefaultScoring(), Logger: quietLogger()})
	_, err = same.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, same.Len())
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("not a cache"), 0o644))
	_, err := newTestCache(CodecS2).Load(bad)
	assert.ErrorIs(t, err, ErrCorruptStore)

	path := filepath.Join(dir, "cache.cgdc")
	c := newTestCache(CodecS2)
	fill(t, c, 20)
	require.NoError(t, c.Save(path, ""))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-5], 0o644))
	_, err = newTestCache(CodecS2).Load(path)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestEnrich_AdditiveAndIdempotent(t *testing.T) {
	c := newTestCache(CodecS2)
	noLengths := func(a, b allele.Key) (aligner.Stats, error) {
		return aligner.Stats{SNPs: 1, AlignedLength: 10}, nil
	}
	k1, k2, k3 := allele.NumericKey(1), allele.NumericKey(2), allele.NumericKey(3)
	_, err := c.GetOrCompute(k1, k2, noLengths)
	require.NoError(t, err)
	_, err = c.GetOrCompute(k2, k3, func(a, b allele.Key) (aligner.Stats, error) {
		return aligner.Stats{SNPs: 2, AlignedLength: 10, LengthA: 99, LengthB: 98}, nil
	})
	require.NoError(t, err)
	assert.True(t, c.HasLengths())

	lengths := map[allele.Key]int{k1: 10, k2: 11, k3: 12}
	assert.Equal(t, 1, c.Enrich(lengths))
	assert.Equal(t, 0, c.Enrich(lengths))

	s, ok := c.Get(k2, k1)
	require.True(t, ok)
	assert.Equal(t, 11, s.LengthA)
	assert.Equal(t, 10, s.LengthB)
	assert.Equal(t, 1, s.SNPs)

	s, ok = c.Get(k2, k3)
	require.True(t, ok)
	assert.Equal(t, 99, s.LengthA, "existing lengths are kept")
}

func TestKV_RoundTripAndIncompatibleDrop(t *testing.T) {
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:  []string{filepath.Join(t.TempDir(), "kv")},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer kv.Close()

	c := newTestCache(CodecS2)
	fill(t, c, 50)
	require.NoError(t, c.SaveKV(kv, "first"))

	loaded := newTestCache(CodecS2)
	h, err := loaded.LoadKV(kv)
	require.NoError(t, err)
	assert.Equal(t, "first", h.Note)
	assert.Equal(t, uint64(50), h.Entries)
	assert.Equal(t, c.Records(), loaded.Records())

	// a second run adds records incrementally
	fill(t, loaded, 60)
	require.NoError(t, loaded.SaveKV(kv, "second"))
	h, err = newTestCache(CodecS2).LoadKV(kv)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), h.Entries)

	other := New(Config{Strategy: "MD5", Scoring: aligner.DefaultScoring(), Logger: quietLogger()})
	_, err = other.LoadKV(kv)
	assert.ErrorIs(t, err, ErrIncompatibleCache)

	fill(t, other, 5)
	require.NoError(t, other.SaveKV(kv, "md5"))
	h, err = New(Config{Strategy: "MD5", Scoring: aligner.DefaultScoring(), Logger: quietLogger()}).LoadKV(kv)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), h.Entries)
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"": CodecS2, "S2": CodecS2, "zstd": CodecZstd, "lzma": CodecLZMA} {
		got, err := ParseCodec(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseCodec("lz4")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestSaveLoad_RapidRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		c := newTestCache(CodecS2)
		n := rapid.IntRange(0, 50).Draw(rt, "n")
		for i := 0; i < n; i++ {
			var a, b allele.Key
			if rapid.Bool().Draw(rt, "seqKey") {
				a = allele.SequenceKey(rapid.StringMatching(`[ACGT]{1,12}`).Draw(rt, "a"))
				b = allele.SequenceKey(rapid.StringMatching(`[ACGT]{1,12}`).Draw(rt, "b"))
			} else {
				a = allele.NumericKey(rapid.Uint64().Draw(rt, "a"))
				b = allele.NumericKey(rapid.Uint64().Draw(rt, "b"))
			}
			events := rapid.IntRange(0, 5).Draw(rt, "events")
			stats := aligner.Stats{
				SNPs:          rapid.IntRange(0, 50).Draw(rt, "snps"),
				IndelEvents:   events,
				IndelBases:    events + rapid.IntRange(0, 10).Draw(rt, "extra"),
				AlignedLength: rapid.IntRange(1, 2000).Draw(rt, "aligned"),
				LengthA:       rapid.IntRange(0, 2000).Draw(rt, "lenA"),
				LengthB:       rapid.IntRange(0, 2000).Draw(rt, "lenB"),
			}
			_, err := c.GetOrCompute(a, b, func(allele.Key, allele.Key) (aligner.Stats, error) { return stats, nil })
			require.NoError(rt, err)
		}

		path := filepath.Join(dir, fmt.Sprintf("rt-%d.cgdc", n))
		require.NoError(rt, c.Save(path, "rapid"))
		loaded := newTestCache(CodecS2)
		_, err := loaded.Load(path)
		require.NoError(rt, err)
		require.Equal(rt, c.Records(), loaded.Records())
	})
}

func TestClearKV(t *testing.T) {
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:  []string{filepath.Join(t.TempDir(), "kv")},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer kv.Close()

	c := newTestCache(CodecS2)
	fill(t, c, 10)
	require.NoError(t, c.SaveKV(kv, "stale"))
	require.NoError(t, ClearKV(kv))

	_, err = newTestCache(CodecS2).LoadKV(kv)
	assert.ErrorIs(t, err, keyValStore.ErrKeyNotFound)
	assert.Zero(t, c.countKV(kv))
}
