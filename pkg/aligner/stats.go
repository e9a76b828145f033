package aligner

// Stats classifies one optimal alignment. IndelBases >= IndelEvents always holds.
// LengthA and LengthB are the source sequence lengths, 0 when unknown.
type Stats struct {
	SNPs          int
	IndelEvents   int
	IndelBases    int
	AlignedLength int
	LengthA       int
	LengthB       int
}

// Swap exchanges the per-sequence fields.
func (s Stats) Swap() Stats {
	s.LengthA, s.LengthB = s.LengthB, s.LengthA
	return s
}

func (s Stats) HasLengths() bool { return s.LengthA > 0 || s.LengthB > 0 }

// Differences is SNPs plus indel bases, the raw divergence of the pair.
func (s Stats) Differences() int { return s.SNPs + s.IndelBases }

// Alignment is the full result of AlignDetailed.
type Alignment struct {
	Stats
	Score    int
	AlignedA string
	AlignedB string
}
