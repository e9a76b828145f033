package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrDuplicateAllele = errors.New("profile: allele id maps to two sequences")

type Allele struct {
	ID       string
	Sequence string
}

// Schema maps locus -> allele id -> sequence.
type Schema struct {
	loci  map[string]map[string]string
	count int
}

func NewSchema() *Schema {
	return &Schema{loci: make(map[string]map[string]string)}
}

// Add registers a sequence. Re-adding the same id with the same sequence is a
// no-op; a different sequence is an error.
func (s *Schema) Add(locus, id, sequence string) error {
	sequence = strings.TrimSpace(sequence)
	alleles, ok := s.loci[locus]
	if !ok {
		alleles = make(map[string]string)
		s.loci[locus] = alleles
	}
	if old, ok := alleles[id]; ok {
		if old != sequence {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateAllele, locus, id)
		}
		return nil
	}
	alleles[id] = sequence
	s.count++
	return nil
}

// Sequence resolves a profile token within a locus. Besides the exact FASTA
// id, the "<locus>_<token>" naming of allele-calling schemas is accepted.
func (s *Schema) Sequence(locus, token string) (string, bool) {
	alleles, ok := s.loci[locus]
	if !ok {
		return "", false
	}
	if seq, ok := alleles[token]; ok {
		return seq, true
	}
	seq, ok := alleles[locus+"_"+token]
	return seq, ok
}

func (s *Schema) Loci() []string {
	loci := make([]string, 0, len(s.loci))
	for l := range s.loci {
		loci = append(loci, l)
	}
	sort.Strings(loci)
	return loci
}

// Alleles returns the alleles of a locus sorted by id.
func (s *Schema) Alleles(locus string) []Allele {
	alleles := make([]Allele, 0, len(s.loci[locus]))
	for id, seq := range s.loci[locus] {
		alleles = append(alleles, Allele{ID: id, Sequence: seq})
	}
	sort.Slice(alleles, func(i, j int) bool { return alleles[i].ID < alleles[j].ID })
	return alleles
}

// Len is the total number of sequences over all loci.
func (s *Schema) Len() int { return s.count }
