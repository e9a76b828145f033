// Package profile holds the inputs of a distance run: the allelic profile
// table (sample x locus tokens) and the schema (locus x allele sequences),
// together with their readers and quality filters.
package profile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrShape           = errors.New("profile: row does not match the loci header")
	ErrDuplicateSample = errors.New("profile: duplicate sample")
	ErrDuplicateLocus  = errors.New("profile: duplicate locus")
	ErrEmpty           = errors.New("profile: no samples or loci")
)

// Table is a dense sample x locus matrix of trimmed allele tokens.
type Table struct {
	loci        []string
	samples     []string
	tokens      [][]string
	sampleIndex map[string]int
	locusIndex  map[string]int
}

func NewTable(loci []string) (*Table, error) {
	t := &Table{
		loci:        make([]string, len(loci)),
		sampleIndex: make(map[string]int),
		locusIndex:  make(map[string]int, len(loci)),
	}
	for i, l := range loci {
		l = strings.TrimSpace(l)
		if _, ok := t.locusIndex[l]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateLocus, l)
		}
		t.loci[i] = l
		t.locusIndex[l] = i
	}
	return t, nil
}

// AddSample appends a row; tokens are given in loci order.
func (t *Table) AddSample(id string, tokens []string) error {
	id = strings.TrimSpace(id)
	if len(tokens) != len(t.loci) {
		return fmt.Errorf("%w: sample %q has %d tokens, expected %d", ErrShape, id, len(tokens), len(t.loci))
	}
	if _, ok := t.sampleIndex[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateSample, id)
	}
	row := make([]string, len(tokens))
	for i, tok := range tokens {
		row[i] = strings.TrimSpace(tok)
	}
	t.sampleIndex[id] = len(t.samples)
	t.samples = append(t.samples, id)
	t.tokens = append(t.tokens, row)
	return nil
}

func (t *Table) Loci() []string { return t.loci }

func (t *Table) Samples() []string { return t.samples }

func (t *Table) NumSamples() int { return len(t.samples) }

func (t *Table) NumLoci() int { return len(t.loci) }

// Token returns the token of sample i at locus j.
func (t *Table) Token(i, j int) string { return t.tokens[i][j] }

// subset builds a new table restricted to the given sample and locus indices.
func (t *Table) subset(samples, loci []int) *Table {
	names := make([]string, len(loci))
	for j, l := range loci {
		names[j] = t.loci[l]
	}
	out, _ := NewTable(names)
	for _, i := range samples {
		row := make([]string, len(loci))
		for j, l := range loci {
			row[j] = t.tokens[i][l]
		}
		_ = out.AddSample(t.samples[i], row)
	}
	return out
}
