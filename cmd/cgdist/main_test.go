package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/cgdist"
	"github.com/i5heu/cgdist/internal/config"
	aligncache "github.com/i5heu/cgdist/pkg/alignCache"
	"github.com/i5heu/cgdist/pkg/profile"
	"github.com/i5heu/cgdist/pkg/recombination"
)

func writeInputs(t *testing.T) (schemaDir, profiles string) {
	t.Helper()
	dir := t.TempDir()
	schemaDir = filepath.Join(dir, "schema")
	require.NoError(t, os.MkdirAll(schemaDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "locus1.fasta"),
		[]byte(">locus1_1\nATCGATCGATCGATCG\n>locus1_2\nATCGATCGATCGATGG\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "locus2.fasta"),
		[]byte(">locus2_1\nGGGGGGGGGGGGGGGG\n>locus2_2\nGGGGGGGGGGGGGG\n"), 0o644))
	profiles = filepath.Join(dir, "profiles.tsv")
	require.NoError(t, os.WriteFile(profiles,
		[]byte("sample\tlocus1\tlocus2\nS1\t1\t1\nS2\t2\t2\nS3\t-\t1\n"), 0o644))
	return schemaDir, profiles
}

func TestWriteMatrix_MarksInsufficientPairs(t *testing.T) {
	schemaDir, profiles := writeInputs(t)
	schema, err := profile.ReadSchemaDir(schemaDir)
	require.NoError(t, err)
	table, err := profile.ReadTableFile(profiles)
	require.NoError(t, err)

	conf := cgdist.DefaultConfig()
	conf.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	conf.MinSharedLoci = 2
	cg, err := cgdist.New(conf)
	require.NoError(t, err)
	defer cg.Close()
	report, err := cg.Run(context.Background(), table, schema)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeMatrix(&buf, report.Matrix))
	assert.Equal(t, "sample\tS1\tS2\tS3\n"+
		"S1\t0\t2\tNA\n"+
		"S2\t2\t0\tNA\n"+
		"S3\tNA\tNA\t0\n", buf.String())
}

func TestWriteEvents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeEvents(&buf, []recombination.Event{{
		SampleA: "S1", SampleB: "S2", Locus: "locus1",
		Score: 12, Threshold: 10, ScoreKind: recombination.Count,
		LengthA: 450, LengthB: 451,
	}}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, eventHeader, lines[0]+"\n")
	fields := strings.Split(lines[1], "\t")
	assert.Equal(t, []string{"S1", "S2", "locus1"}, fields[:3])
	assert.Equal(t, "12.00", fields[5])
	assert.Equal(t, "count", fields[6])
	assert.Equal(t, "451", fields[13])
}

func TestRunCommand_FlagsOverConfig(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "cgdist.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("mode: hamming\nmin_loci: 5\nhasher: sha256\n"), 0o644))

	o := &runOptions{settings: config.Default()}
	cmd := newRunCommand(o)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", cfg, "--mode", "snps-indel-events", "--recombination-threshold", "3",
	}))

	s, err := o.resolveSettings(cmd)
	require.NoError(t, err)
	assert.Equal(t, "snps-indel-events", s.Mode, "flag wins")
	assert.Equal(t, 5, s.MinLoci, "file value kept")
	assert.Equal(t, "sha256", s.Hasher)
	require.NotNil(t, s.Recombination.Threshold)
	assert.Equal(t, 3.0, *s.Recombination.Threshold)
}

func TestRunCommand_EndToEnd(t *testing.T) {
	schemaDir, profiles := writeInputs(t)
	out := filepath.Join(t.TempDir(), "out.tsv")
	metrics := filepath.Join(t.TempDir(), "metrics.prom")
	cache := filepath.Join(t.TempDir(), "cache.cgdc")

	cmd := runCommand()
	cmd.SetArgs([]string{
		"--schema", schemaDir, "--profiles", profiles, "--output", out,
		"--cache", cache, "--metrics", metrics, "--no-progress", "--no-color",
		"--log-level", "error", "--mode", "snps-indel-bases",
	})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "S1\t0\t3\t0\n", "one SNP plus a two base deletion")

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "cgdist_align_cache_lookups_total")
	assert.FileExists(t, cache)
}

func TestRunCommand_CacheOnlyWarmsCache(t *testing.T) {
	schemaDir, profiles := writeInputs(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.tsv")
	cache := filepath.Join(dir, "cache.cgdc")

	cmd := runCommand()
	cmd.SetArgs([]string{
		"--schema", schemaDir, "--profiles", profiles, "--output", out,
		"--cache", cache, "--cache-only", "--no-progress", "--log-level", "error",
	})
	require.NoError(t, cmd.Execute())
	assert.NoFileExists(t, out, "no matrix in cache-only mode")

	h, err := aligncache.ReadHeader(cache)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.Entries)

	cmd = runCommand()
	cmd.SetArgs([]string{
		"--schema", schemaDir, "--profiles", profiles, "--cache-only", "--no-progress",
	})
	assert.Error(t, cmd.Execute(), "cache-only needs somewhere to save")
}

func TestRunCommand_ForceRecomputeFlag(t *testing.T) {
	o := &runOptions{settings: config.Default()}
	cmd := newRunCommand(o)
	require.NoError(t, cmd.ParseFlags([]string{"--force-recompute"}))
	s, err := o.resolveSettings(cmd)
	require.NoError(t, err)
	assert.True(t, s.Cache.ForceRecompute)
}
