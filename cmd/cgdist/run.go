package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/mem"
	"github.com/spf13/cobra"

	"github.com/i5heu/cgdist"
	"github.com/i5heu/cgdist/internal/config"
	"github.com/i5heu/cgdist/pkg/logging"
	"github.com/i5heu/cgdist/pkg/profile"
)

type runOptions struct {
	configPath    string
	schemaDir     string
	profiles      string
	output        string
	recombOutput  string
	metricsOutput string
	noProgress    bool
	cacheOnly     bool
	noColor       bool

	includeSamples []string
	excludeSamples []string
	includeLoci    []string
	excludeLoci    []string

	// flag targets, applied over the config file only when set
	settings  config.Config
	recombThr float64
}

func runCommand() *cobra.Command {
	return newRunCommand(&runOptions{settings: config.Default()})
}

func newRunCommand(o *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute the distance matrix for a profile table",
		Example: `  cgdist run --schema schema/ --profiles profiles.tsv --output distances.tsv
  cgdist run --config cgdist.yaml --schema schema/ --profiles profiles.tsv \
      --mode snps-indel-bases --cache cache.cgdc --output distances.tsv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	f.StringVarP(&o.schemaDir, "schema", "s", "", "directory of <locus>.fasta allele files")
	f.StringVarP(&o.profiles, "profiles", "p", "", "allelic profile table (.tsv or .csv)")
	f.StringVarP(&o.output, "output", "o", "distances.tsv", "distance matrix output")
	f.StringVar(&o.recombOutput, "recombination-output", "", "write recombination events to this TSV")
	f.StringVar(&o.metricsOutput, "metrics", "", "write cache metrics in Prometheus text format to this file")
	f.BoolVar(&o.noProgress, "no-progress", false, "disable progress bars")
	f.BoolVar(&o.cacheOnly, "cache-only", false, "only fill and save the alignment cache, write no matrix")
	f.BoolVar(&o.noColor, "no-color", false, "disable colored logs")
	f.StringSliceVar(&o.includeSamples, "include-samples", nil, "keep only these samples")
	f.StringSliceVar(&o.excludeSamples, "exclude-samples", nil, "drop these samples")
	f.StringSliceVar(&o.includeLoci, "include-loci", nil, "keep only these loci")
	f.StringSliceVar(&o.excludeLoci, "exclude-loci", nil, "drop these loci")

	s := &o.settings
	f.StringVar(&s.Hasher, "hasher", s.Hasher, "allele identity strategy (see 'cgdist presets')")
	f.StringVar(&s.MissingChar, "missing-char", s.MissingChar, "token marking missing alleles")
	f.StringVar(&s.Alignment.Preset, "preset", s.Alignment.Preset, "alignment scoring preset")
	f.StringVar(&s.Strictness, "strictness", s.Strictness, "strict or permissive handling of ambiguity codes")
	f.StringVarP(&s.Mode, "mode", "m", s.Mode, "hamming, snps, snps-indel-events or snps-indel-bases")
	f.BoolVar(&s.HammingFallback, "hamming-fallback", s.HammingFallback, "count differing alleles without SNPs as 1")
	f.IntVar(&s.MinLoci, "min-loci", s.MinLoci, "minimum shared loci for a numeric distance")
	f.Float64Var(&s.SampleThreshold, "sample-threshold", s.SampleThreshold, "minimum fraction of called loci per sample")
	f.Float64Var(&s.LocusThreshold, "locus-threshold", s.LocusThreshold, "minimum fraction of called samples per locus")
	f.Float64Var(&o.recombThr, "recombination-threshold", 0, "flag loci whose divergence exceeds this score")
	f.StringVar(&s.Recombination.Score, "recombination-score", s.Recombination.Score, "count or density")
	f.StringVar(&s.Cache.Path, "cache", s.Cache.Path, "alignment cache file")
	f.StringVar(&s.Cache.KVPath, "cache-kv", s.Cache.KVPath, "alignment cache key value directory")
	f.StringVar(&s.Cache.Note, "cache-note", s.Cache.Note, "note stored in the cache header")
	f.StringVar(&s.Cache.Codec, "cache-codec", s.Cache.Codec, "s2, zstd or lzma")
	f.StringVar(&s.Cache.OnIncompatible, "on-incompatible", s.Cache.OnIncompatible, "fail or recompute")
	f.BoolVar(&s.Cache.ForceRecompute, "force-recompute", s.Cache.ForceRecompute, "ignore the stored cache and replace it")
	f.IntVarP(&s.Workers, "workers", "t", s.Workers, "worker goroutines, 0 uses all CPUs")
	f.StringVar(&s.LogLevel, "log-level", s.LogLevel, "debug, info, warn or error")

	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("profiles")
	return cmd
}

// resolveSettings loads the config file and lays changed flags over it.
func (o *runOptions) resolveSettings(cmd *cobra.Command) (config.Config, error) {
	settings := config.Default()
	if o.configPath != "" {
		var err error
		if settings, err = config.Load(o.configPath); err != nil {
			return config.Config{}, err
		}
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	s := o.settings
	set("hasher", func() { settings.Hasher = s.Hasher })
	set("missing-char", func() { settings.MissingChar = s.MissingChar })
	set("preset", func() { settings.Alignment.Preset = s.Alignment.Preset })
	set("strictness", func() { settings.Strictness = s.Strictness })
	set("mode", func() { settings.Mode = s.Mode })
	set("hamming-fallback", func() { settings.HammingFallback = s.HammingFallback })
	set("min-loci", func() { settings.MinLoci = s.MinLoci })
	set("sample-threshold", func() { settings.SampleThreshold = s.SampleThreshold })
	set("locus-threshold", func() { settings.LocusThreshold = s.LocusThreshold })
	set("recombination-threshold", func() {
		thr := o.recombThr
		settings.Recombination.Threshold = &thr
	})
	set("recombination-score", func() { settings.Recombination.Score = s.Recombination.Score })
	set("cache", func() { settings.Cache.Path = s.Cache.Path })
	set("cache-kv", func() { settings.Cache.KVPath = s.Cache.KVPath })
	set("cache-note", func() { settings.Cache.Note = s.Cache.Note })
	set("cache-codec", func() { settings.Cache.Codec = s.Cache.Codec })
	set("on-incompatible", func() { settings.Cache.OnIncompatible = s.Cache.OnIncompatible })
	set("force-recompute", func() { settings.Cache.ForceRecompute = s.Cache.ForceRecompute })
	set("workers", func() { settings.Workers = s.Workers })
	set("log-level", func() { settings.LogLevel = s.LogLevel })
	return settings, settings.Validate()
}

func (o *runOptions) run(cmd *cobra.Command) error {
	settings, err := o.resolveSettings(cmd)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(settings.LogLevel)
	if err != nil {
		return err
	}
	log := logging.New(os.Stderr, level, o.noColor)

	if o.cacheOnly && settings.Cache.Path == "" && settings.Cache.KVPath == "" {
		return fmt.Errorf("--cache-only needs --cache or --cache-kv")
	}
	conf, err := cgdist.FromSettings(settings)
	if err != nil {
		return err
	}
	conf.Logger = log
	conf.Filters.IncludeSamples = o.includeSamples
	conf.Filters.ExcludeSamples = o.excludeSamples
	conf.Filters.IncludeLoci = o.includeLoci
	conf.Filters.ExcludeLoci = o.excludeLoci

	var registry *prometheus.Registry
	if o.metricsOutput != "" {
		registry = prometheus.NewRegistry()
		conf.Registerer = registry
	}
	var bars *progress
	if !o.noProgress {
		bars = newProgress(os.Stderr)
		conf.Progress = bars.update
	}

	schema, err := profile.ReadSchemaDir(o.schemaDir)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	table, err := profile.ReadTableFile(o.profiles)
	if err != nil {
		return fmt.Errorf("read profiles: %w", err)
	}
	log.Info("inputs loaded",
		"loci", len(schema.Loci()),
		"alleles", humanize.Comma(int64(schema.Len())),
		"samples", humanize.Comma(int64(table.NumSamples())),
		"profile_loci", table.NumLoci())
	if vm, err := mem.VirtualMemory(); err == nil {
		log.Info("host memory", "total", humanize.IBytes(vm.Total), "available", humanize.IBytes(vm.Available))
	}

	cg, err := cgdist.New(conf)
	if err != nil {
		return err
	}
	defer cg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.cacheOnly {
		warm, err := cg.Warm(ctx, table, schema)
		if bars != nil {
			bars.wait()
		}
		if err != nil {
			return err
		}
		if err := o.writeMetrics(registry); err != nil {
			return err
		}
		log.Info("alignment cache warmed",
			"unique_pairs", humanize.Comma(int64(warm.Precompute.UniquePairs)),
			"computed", humanize.Comma(int64(warm.Precompute.Computed)),
			"cache_entries", humanize.Comma(int64(cg.Cache().Len())),
			"saved", warm.CacheSaved)
		return nil
	}
	report, err := cg.Run(ctx, table, schema)
	if bars != nil {
		bars.wait()
	}
	if err != nil {
		return err
	}

	if err := writeFile(o.output, func(f *os.File) error { return writeMatrix(f, report.Matrix) }); err != nil {
		return err
	}
	if o.recombOutput != "" {
		if err := writeFile(o.recombOutput, func(f *os.File) error { return writeEvents(f, report.Events) }); err != nil {
			return err
		}
	}
	if err := o.writeMetrics(registry); err != nil {
		return err
	}
	for _, e := range report.Errors {
		log.Debug("locus skipped", "error", e)
	}
	log.Info("distance matrix written",
		"path", o.output,
		"samples", report.Matrix.Len(),
		"locus_errors", len(report.Errors),
		"cache_hit_rate", fmt.Sprintf("%.1f%%", report.Precompute.HitRate()))
	return nil
}

func (o *runOptions) writeMetrics(registry *prometheus.Registry) error {
	if registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(o.metricsOutput, registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
