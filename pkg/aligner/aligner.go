// Package aligner computes global pairwise alignments with affine gap
// penalties (Gotoh) and classifies the optimal path into substitutions and
// insertion/deletion events.
//
// Ties in the recurrence are broken in a fixed order so that every run picks
// the same path:
//   - a cell's diagonal predecessor is taken from the match state first, then
//     the gap-in-B state, then the gap-in-A state;
//   - a gap state prefers extending an open gap over opening a new one, and
//     opening from the match state over opening from the other gap state;
//   - the final state is chosen as match, then gap-in-B, then gap-in-A.
package aligner

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/i5heu/cgdist/pkg/allele"
)

var (
	ErrEmptySequence = errors.New("aligner: empty sequence")
	ErrAmbiguousBase = errors.New("aligner: ambiguous base in strict mode")
)

// traceback states, two bits each
const (
	stateM byte = iota // diagonal: match or mismatch
	stateX             // gap in B, consumes a base of A
	stateY             // gap in A, consumes a base of B
)

const negInf = math.MinInt32 / 4

// Aligner is safe for concurrent use.
type Aligner struct {
	scoring    Scoring
	strictness Strictness
	traces     sync.Pool
}

func New(scoring Scoring, strictness Strictness) (*Aligner, error) {
	if err := scoring.Validate(); err != nil {
		return nil, err
	}
	return &Aligner{scoring: scoring, strictness: strictness}, nil
}

func (a *Aligner) Scoring() Scoring { return a.scoring }

func (a *Aligner) Strictness() Strictness { return a.strictness }

// Align returns the statistics of the optimal global alignment of seqA and seqB.
func (a *Aligner) Align(seqA, seqB string) (Stats, error) {
	x, y, err := a.prepare(seqA, seqB)
	if err != nil {
		return Stats{}, err
	}
	if string(x) == string(y) && a.allCanonical(x) {
		return Stats{AlignedLength: len(x), LengthA: len(x), LengthB: len(y)}, nil
	}
	al := a.align(x, y, false)
	return al.Stats, nil
}

// AlignDetailed also returns the gapped sequences and the optimal score.
func (a *Aligner) AlignDetailed(seqA, seqB string) (Alignment, error) {
	x, y, err := a.prepare(seqA, seqB)
	if err != nil {
		return Alignment{}, err
	}
	return a.align(x, y, true), nil
}

func (a *Aligner) prepare(seqA, seqB string) ([]byte, []byte, error) {
	if len(seqA) == 0 || len(seqB) == 0 {
		return nil, nil, fmt.Errorf("%w: lengths %d and %d", ErrEmptySequence, len(seqA), len(seqB))
	}
	x, err := a.normalize(seqA)
	if err != nil {
		return nil, nil, err
	}
	y, err := a.normalize(seqB)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func (a *Aligner) normalize(seq string) ([]byte, error) {
	check := allele.ValidateNucleotides
	if a.strictness == Strict {
		check = allele.ValidateCanonical
	}
	if err := check(seq); err != nil {
		if a.strictness == Strict {
			return nil, fmt.Errorf("%w: %w", ErrAmbiguousBase, err)
		}
		return nil, err
	}
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out, nil
}

func (a *Aligner) allCanonical(s []byte) bool {
	if a.strictness == Strict {
		return true
	}
	for _, c := range s {
		if !allele.IsCanonicalBase(c) {
			return false
		}
	}
	return true
}

// pair scores one aligned column and reports whether it is a substitution.
func (a *Aligner) pair(c, d byte) (int, bool) {
	if a.strictness == Permissive && (!allele.IsCanonicalBase(c) || !allele.IsCanonicalBase(d)) {
		return 0, false
	}
	if c == d {
		return a.scoring.Match, false
	}
	return a.scoring.Mismatch, true
}

func (a *Aligner) traceBuffer(size int) []byte {
	if v, ok := a.traces.Get().(*[]byte); ok && cap(*v) >= size {
		return (*v)[:size]
	}
	return make([]byte, size)
}

func (a *Aligner) align(x, y []byte, detailed bool) Alignment {
	n, m := len(x), len(y)
	w := m + 1
	open, ext := a.scoring.GapOpen, a.scoring.GapExtend

	trace := a.traceBuffer((n + 1) * w)
	defer a.traces.Put(&trace)

	prevM, prevX, prevY := make([]int, w), make([]int, w), make([]int, w)
	curM, curX, curY := make([]int, w), make([]int, w), make([]int, w)

	prevM[0], prevX[0], prevY[0] = 0, negInf, negInf
	for j := 1; j <= m; j++ {
		prevM[j], prevX[j] = negInf, negInf
		if j == 1 {
			prevY[j] = prevM[0] - open
			trace[j] = stateM << 4
		} else {
			prevY[j] = prevY[j-1] - ext
			trace[j] = stateY << 4
		}
	}

	for i := 1; i <= n; i++ {
		row := i * w
		curM[0], curY[0] = negInf, negInf
		if i == 1 {
			curX[0] = prevM[0] - open
			trace[row] = stateM << 2
		} else {
			curX[0] = prevX[0] - ext
			trace[row] = stateX << 2
		}

		xi := x[i-1]
		for j := 1; j <= m; j++ {
			best, mFrom := prevM[j-1], stateM
			if prevX[j-1] > best {
				best, mFrom = prevX[j-1], stateX
			}
			if prevY[j-1] > best {
				best, mFrom = prevY[j-1], stateY
			}
			s, _ := a.pair(xi, y[j-1])
			curM[j] = best + s

			bx, xFrom := prevX[j]-ext, stateX
			if v := prevM[j] - open; v > bx {
				bx, xFrom = v, stateM
			}
			if v := prevY[j] - open; v > bx {
				bx, xFrom = v, stateY
			}
			curX[j] = bx

			by, yFrom := curY[j-1]-ext, stateY
			if v := curM[j-1] - open; v > by {
				by, yFrom = v, stateM
			}
			if v := curX[j-1] - open; v > by {
				by, yFrom = v, stateX
			}
			curY[j] = by

			trace[row+j] = mFrom | xFrom<<2 | yFrom<<4
		}
		prevM, curM = curM, prevM
		prevX, curX = curX, prevX
		prevY, curY = curY, prevY
	}

	score, state := prevM[m], stateM
	if prevX[m] > score {
		score, state = prevX[m], stateX
	}
	if prevY[m] > score {
		score, state = prevY[m], stateY
	}

	out := Alignment{Score: score}
	out.LengthA, out.LengthB = n, m

	var alA, alB []byte
	if detailed {
		alA = make([]byte, 0, n+m)
		alB = make([]byte, 0, n+m)
	}

	var gapStrand byte // 0 none, else stateX or stateY
	i, j := n, m
	for i > 0 || j > 0 {
		t := trace[i*w+j]
		out.AlignedLength++
		switch state {
		case stateM:
			if _, snp := a.pair(x[i-1], y[j-1]); snp {
				out.SNPs++
			}
			gapStrand = 0
			if detailed {
				alA = append(alA, x[i-1])
				alB = append(alB, y[j-1])
			}
			state = t & 3
			i--
			j--
		case stateX:
			if gapStrand != stateX {
				out.IndelEvents++
				gapStrand = stateX
			}
			out.IndelBases++
			if detailed {
				alA = append(alA, x[i-1])
				alB = append(alB, '-')
			}
			state = (t >> 2) & 3
			i--
		case stateY:
			if gapStrand != stateY {
				out.IndelEvents++
				gapStrand = stateY
			}
			out.IndelBases++
			if detailed {
				alA = append(alA, '-')
				alB = append(alB, y[j-1])
			}
			state = (t >> 4) & 3
			j--
		}
	}

	if detailed {
		reverse(alA)
		reverse(alB)
		out.AlignedA, out.AlignedB = string(alA), string(alB)
	}
	return out
}

func reverse(b []byte) {
	for l, r := 0, len(b)-1; l < r; l, r = l+1, r-1 {
		b[l], b[r] = b[r], b[l]
	}
}
