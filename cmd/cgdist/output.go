package main

import (
	"bufio"
	"io"
	"strconv"

	"github.com/i5heu/cgdist/pkg/distance"
	"github.com/i5heu/cgdist/pkg/recombination"
)

// writeMatrix writes a square TSV matrix. Pairs without enough shared loci
// are written as NA.
func writeMatrix(w io.Writer, m *distance.Matrix) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("sample")
	for _, s := range m.Samples() {
		bw.WriteByte('\t')
		bw.WriteString(s)
	}
	bw.WriteByte('\n')

	for i, s := range m.Samples() {
		bw.WriteString(s)
		for j := range m.Samples() {
			bw.WriteByte('\t')
			if d, ok := m.At(i, j); ok {
				bw.WriteString(strconv.Itoa(d))
			} else {
				bw.WriteString("NA")
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

var eventHeader = "sample_a\tsample_b\tlocus\tallele_a\tallele_b\tscore\tscore_kind\tthreshold\tdivergence_pct\tsnps\tindel_events\tindel_bases\tlength_a\tlength_b\n"

func writeEvents(w io.Writer, events []recombination.Event) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(eventHeader)
	for _, e := range events {
		fields := []string{
			e.SampleA, e.SampleB, e.Locus,
			e.KeyA.String(), e.KeyB.String(),
			strconv.FormatFloat(e.Score, 'f', 2, 64),
			e.ScoreKind.String(),
			strconv.FormatFloat(e.Threshold, 'f', 2, 64),
			strconv.FormatFloat(e.Divergence, 'f', 2, 64),
			strconv.Itoa(e.Stats.SNPs),
			strconv.Itoa(e.Stats.IndelEvents),
			strconv.Itoa(e.Stats.IndelBases),
			strconv.Itoa(e.LengthA),
			strconv.Itoa(e.LengthB),
		}
		for k, f := range fields {
			if k > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(f)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
