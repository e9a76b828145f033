package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/i5heu/cgdist/pkg/aligner"
	aligncache "github.com/i5heu/cgdist/pkg/alignCache"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/logging"
	workerpool "github.com/i5heu/cgdist/pkg/workerPool"
)

// cacheBenchmark aligns random allele pairs through the cache on the worker
// pool and compares the persisted size and save/load time of every codec.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cacheBenchmark <output dir> [pairs] [allele length]")
		os.Exit(1)
	}
	dir := os.Args[1]
	pairs := argInt(2, 20000)
	length := argInt(3, 450)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Printf("Failed to create output dir: %s\n", err)
		os.Exit(1)
	}

	al, err := aligner.New(aligner.DefaultScoring(), aligner.Strict)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	strategy := allele.SHA256Strategy()
	cache := aligncache.New(aligncache.Config{
		Strategy: strategy.Name(),
		Scoring:  al.Scoring(),
		Logger:   logging.Logger,
	})

	rng := rand.New(rand.NewSource(1))
	sequences := make(map[allele.Key]string, 2*pairs)
	keys := make([][2]allele.Key, pairs)
	for i := range keys {
		a := randomSequence(rng, length)
		b := mutate(rng, a)
		ka, kb := strategy.HashSequence(a), strategy.HashSequence(b)
		sequences[ka], sequences[kb] = a, b
		keys[i] = [2]allele.Key{ka, kb}
	}
	compute := func(a, b allele.Key) (aligner.Stats, error) {
		return al.Align(sequences[a], sequences[b])
	}

	wp := workerpool.NewWorkerPool(workerpool.Config{})
	defer wp.Close()
	room := wp.CreateRoom(wp.WorkerCount())
	room.AsyncCollector()

	start := time.Now()
	for _, k := range keys {
		k := k
		if err := room.NewTaskWaitForFreeSlot(context.Background(), func() interface{} {
			_, err := cache.GetOrCompute(k[0], k[1], compute)
			return err
		}); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}
	room.GetAsyncResults()
	elapsed := time.Since(start)
	fmt.Printf("aligned %s pairs of %d bp in %s (%s pairs/s, %d workers)\n",
		humanize.Comma(int64(cache.Len())), length, elapsed.Round(time.Millisecond),
		humanize.Comma(int64(float64(cache.Len())/elapsed.Seconds())), wp.WorkerCount())

	for _, codec := range []aligncache.Codec{aligncache.CodecS2, aligncache.CodecZstd, aligncache.CodecLZMA} {
		benchCodec(cache, dir, codec, strategy.Name(), al.Scoring())
	}
}

func benchCodec(src *aligncache.Cache, dir string, codec aligncache.Codec, strategy string, scoring aligner.Scoring) {
	path := filepath.Join(dir, "bench-"+codec.String()+".cgdc")
	out := aligncache.New(aligncache.Config{Strategy: strategy, Scoring: scoring, Codec: codec, Logger: logging.Logger})
	tmp := filepath.Join(dir, "bench-src.cgdc")
	if err := src.Save(tmp, "benchmark"); err != nil {
		fmt.Println(err)
		return
	}
	if _, err := out.Load(tmp); err != nil {
		fmt.Println(err)
		return
	}

	start := time.Now()
	if err := out.Save(path, "benchmark "+codec.String()); err != nil {
		fmt.Println(err)
		return
	}
	saved := time.Since(start)
	info, err := os.Stat(path)
	if err != nil {
		fmt.Println(err)
		return
	}

	start = time.Now()
	back := aligncache.New(aligncache.Config{Strategy: strategy, Scoring: scoring, Logger: logging.Logger})
	if _, err := back.Load(path); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%-5s size %-10s save %-8s load %s\n", codec, humanize.IBytes(uint64(info.Size())),
		saved.Round(time.Millisecond), time.Since(start).Round(time.Millisecond))
}

func argInt(i, def int) int {
	if len(os.Args) <= i {
		return def
	}
	v, err := strconv.Atoi(os.Args[i])
	if err != nil || v <= 0 {
		fmt.Printf("invalid number %q\n", os.Args[i])
		os.Exit(1)
	}
	return v
}

func randomSequence(rng *rand.Rand, n int) string {
	const bases = "ACGT"
	b := make([]byte, n)
	for i := range b {
		b[i] = bases[rng.Intn(4)]
	}
	return string(b)
}

// mutate applies a few substitutions and at most one short indel.
func mutate(rng *rand.Rand, seq string) string {
	b := []byte(seq)
	for k := rng.Intn(4) + 1; k > 0; k-- {
		b[rng.Intn(len(b))] = "ACGT"[rng.Intn(4)]
	}
	if len(b) > 3 && rng.Intn(3) == 0 {
		pos := rng.Intn(len(b) - 3)
		b = append(b[:pos], b[pos+rng.Intn(3)+1:]...)
	}
	return string(b)
}
