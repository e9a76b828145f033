package distance

import (
	"fmt"

	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/profile"
)

// resolved is a profile table turned into keys, plus the locus-agnostic
// key -> sequence index alignments are computed from.
type resolved struct {
	samples   []string
	loci      []string
	keys      [][]allele.Key
	sequences map[allele.Key]string
	errors    []LocusError
}

func (r *resolved) sequence(k allele.Key) (string, bool) {
	if seq, ok := r.sequences[k]; ok {
		return seq, true
	}
	if k.Kind() == allele.KindSequence {
		return k.String(), true
	}
	return "", false
}

// resolve maps every token to a key. A token naming a schema allele is keyed
// by hashing its sequence; other tokens are parsed by the strategy. Tokens
// that fail to parse or whose sequence fails validation become Missing and
// are reported.
func resolve(table *profile.Table, schema *profile.Schema, strategy allele.Strategy, missingChar string, indexSequences bool) *resolved {
	r := &resolved{
		samples:   table.Samples(),
		loci:      table.Loci(),
		keys:      make([][]allele.Key, table.NumSamples()),
		sequences: make(map[allele.Key]string),
	}

	validated := make(map[allele.Key]error)
	validate := func(k allele.Key, seq string) error {
		err, ok := validated[k]
		if !ok {
			err = strategy.ValidateSequence(seq)
			validated[k] = err
		}
		return err
	}

	if schema != nil && indexSequences {
		for _, locus := range schema.Loci() {
			for _, a := range schema.Alleles(locus) {
				r.sequences[strategy.HashSequence(a.Sequence)] = a.Sequence
			}
		}
	}

	for i, sample := range r.samples {
		row := make([]allele.Key, len(r.loci))
		for j, locus := range r.loci {
			token := table.Token(i, j)
			if allele.IsMissingToken(token, missingChar) {
				continue
			}

			var key allele.Key
			if seq, ok := schemaSequence(schema, locus, token); ok {
				key = strategy.HashSequence(seq)
				if indexSequences {
					r.sequences[key] = seq
				}
			} else {
				k, err := strategy.ParseToken(token, missingChar)
				if err != nil {
					r.errors = append(r.errors, LocusError{SampleA: sample, Locus: locus, Err: err})
					continue
				}
				key = k
			}

			if indexSequences {
				if seq, ok := r.sequence(key); ok {
					if err := validate(key, seq); err != nil {
						r.errors = append(r.errors, LocusError{
							SampleA: sample,
							Locus:   locus,
							Err:     fmt.Errorf("allele %s: %w", token, err),
						})
						continue
					}
				}
			}
			row[j] = key
		}
		r.keys[i] = row
	}
	return r
}

func schemaSequence(schema *profile.Schema, locus, token string) (string, bool) {
	if schema == nil {
		return "", false
	}
	return schema.Sequence(locus, token)
}

// uniquePairs collects every unordered pair of distinct keys that co-occur at
// a locus. Any two distinct keys present at one locus belong to two different
// samples, so this is exactly the set of pairs the matrix will ask for.
func (r *resolved) uniquePairs() []allele.PairKey {
	seen := make(map[allele.PairKey]struct{})
	var pairs []allele.PairKey
	distinct := make(map[allele.Key]struct{})
	var keys []allele.Key
	for j := range r.loci {
		clear(distinct)
		keys = keys[:0]
		for i := range r.samples {
			k := r.keys[i][j]
			if k.IsMissing() {
				continue
			}
			if _, ok := distinct[k]; !ok {
				distinct[k] = struct{}{}
				keys = append(keys, k)
			}
		}
		for a := 0; a < len(keys); a++ {
			for b := a + 1; b < len(keys); b++ {
				p := allele.NewPair(keys[a], keys[b])
				if _, ok := seen[p]; !ok {
					seen[p] = struct{}{}
					pairs = append(pairs, p)
				}
			}
		}
	}
	return pairs
}
