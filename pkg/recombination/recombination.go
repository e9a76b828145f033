// Package recombination flags loci whose divergence between two samples is
// too high to be explained by point mutation alone.
package recombination

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/i5heu/cgdist/pkg/aligner"
	"github.com/i5heu/cgdist/pkg/allele"
)

var ErrInvalidScreen = errors.New("recombination: invalid screen")

// ScoreKind selects how a locus divergence is scored.
type ScoreKind uint8

const (
	// Count scores a locus by SNPs plus indel bases.
	Count ScoreKind = iota
	// Density scores a locus by Count as a percentage of the aligned length.
	Density
)

func (k ScoreKind) String() string {
	if k == Density {
		return "density"
	}
	return "count"
}

func ParseScoreKind(s string) (ScoreKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "count":
		return Count, nil
	case "density", "percent":
		return Density, nil
	}
	return 0, fmt.Errorf("%w: unknown score %q", ErrInvalidScreen, s)
}

// Screen holds nothing but its threshold, so one value can be shared by all
// workers.
type Screen struct {
	Threshold float64
	Score     ScoreKind
}

func (s Screen) Validate() error {
	if s.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be >= 0, got %g", ErrInvalidScreen, s.Threshold)
	}
	if s.Score == Density && s.Threshold >= 100 {
		return fmt.Errorf("%w: density threshold must be below 100, got %g", ErrInvalidScreen, s.Threshold)
	}
	return nil
}

// Observation is one locus shared by a sample pair, with its alignment record.
type Observation struct {
	Locus string
	KeyA  allele.Key
	KeyB  allele.Key
	Stats aligner.Stats
}

type Event struct {
	SampleA   string
	SampleB   string
	Locus     string
	KeyA      allele.Key
	KeyB      allele.Key
	Score     float64
	Threshold float64
	ScoreKind ScoreKind
	// Divergence is the raw difference count as a percentage of the aligned length.
	Divergence float64
	LengthA    int
	LengthB    int
	Stats      aligner.Stats
}

// LocusScore scores one alignment record.
func (s Screen) LocusScore(stats aligner.Stats) float64 {
	if s.Score == Density {
		return density(stats)
	}
	return float64(stats.Differences())
}

func density(stats aligner.Stats) float64 {
	if stats.AlignedLength <= 0 {
		return 0
	}
	return float64(stats.Differences()) / float64(stats.AlignedLength) * 100
}

// Scan returns an event for every observation with differing keys whose
// score exceeds the threshold, ordered by locus.
func (s Screen) Scan(sampleA, sampleB string, observations []Observation) []Event {
	var events []Event
	for _, o := range observations {
		if o.KeyA == o.KeyB || o.KeyA.IsMissing() || o.KeyB.IsMissing() {
			continue
		}
		score := s.LocusScore(o.Stats)
		if score <= s.Threshold {
			continue
		}
		events = append(events, Event{
			SampleA:    sampleA,
			SampleB:    sampleB,
			Locus:      o.Locus,
			KeyA:       o.KeyA,
			KeyB:       o.KeyB,
			Score:      score,
			Threshold:  s.Threshold,
			ScoreKind:  s.Score,
			Divergence: density(o.Stats),
			LengthA:    o.Stats.LengthA,
			LengthB:    o.Stats.LengthB,
			Stats:      o.Stats,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Locus < events[j].Locus })
	return events
}
