package profile

import (
	"errors"
	"fmt"

	"github.com/i5heu/cgdist/pkg/allele"
)

var ErrInvalidFilter = errors.New("profile: invalid filter")

// Filters remove whole samples and loci before any distance is computed.
// Thresholds are completeness fractions in [0, 1]; 0 disables the check.
type Filters struct {
	SampleThreshold float64
	LocusThreshold  float64
	IncludeSamples  []string
	ExcludeSamples  []string
	IncludeLoci     []string
	ExcludeLoci     []string
}

func (f Filters) Validate() error {
	if f.SampleThreshold < 0 || f.SampleThreshold > 1 {
		return fmt.Errorf("%w: sample threshold %g not in [0,1]", ErrInvalidFilter, f.SampleThreshold)
	}
	if f.LocusThreshold < 0 || f.LocusThreshold > 1 {
		return fmt.Errorf("%w: locus threshold %g not in [0,1]", ErrInvalidFilter, f.LocusThreshold)
	}
	return nil
}

type FilterReport struct {
	SamplesBefore  int
	SamplesAfter   int
	LociBefore     int
	LociAfter      int
	RemovedSamples []string
	RemovedLoci    []string
}

func set(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func keep(name string, include, exclude map[string]struct{}) bool {
	if include != nil {
		if _, ok := include[name]; !ok {
			return false
		}
	}
	_, excluded := exclude[name]
	return !excluded
}

// Filter applies the name sets first, then sample completeness over the
// remaining loci, then locus completeness over the remaining samples.
func (t *Table) Filter(f Filters, missingChar string) (*Table, FilterReport, error) {
	report := FilterReport{SamplesBefore: len(t.samples), LociBefore: len(t.loci)}
	if err := f.Validate(); err != nil {
		return nil, report, err
	}

	incL, excL := set(f.IncludeLoci), set(f.ExcludeLoci)
	var loci []int
	for j, l := range t.loci {
		if keep(l, incL, excL) {
			loci = append(loci, j)
		} else {
			report.RemovedLoci = append(report.RemovedLoci, l)
		}
	}

	incS, excS := set(f.IncludeSamples), set(f.ExcludeSamples)
	var samples []int
	for i, s := range t.samples {
		if !keep(s, incS, excS) {
			report.RemovedSamples = append(report.RemovedSamples, s)
			continue
		}
		if f.SampleThreshold > 0 && len(loci) > 0 {
			present := 0
			for _, j := range loci {
				if !allele.IsMissingToken(t.tokens[i][j], missingChar) {
					present++
				}
			}
			if float64(present)/float64(len(loci)) < f.SampleThreshold {
				report.RemovedSamples = append(report.RemovedSamples, s)
				continue
			}
		}
		samples = append(samples, i)
	}

	if f.LocusThreshold > 0 && len(samples) > 0 {
		kept := loci[:0:0]
		for _, j := range loci {
			present := 0
			for _, i := range samples {
				if !allele.IsMissingToken(t.tokens[i][j], missingChar) {
					present++
				}
			}
			if float64(present)/float64(len(samples)) < f.LocusThreshold {
				report.RemovedLoci = append(report.RemovedLoci, t.loci[j])
				continue
			}
			kept = append(kept, j)
		}
		loci = kept
	}

	report.SamplesAfter = len(samples)
	report.LociAfter = len(loci)
	if len(samples) == 0 || len(loci) == 0 {
		return nil, report, fmt.Errorf("%w: %d samples and %d loci remain after filtering",
			ErrEmpty, len(samples), len(loci))
	}
	return t.subset(samples, loci), report, nil
}
