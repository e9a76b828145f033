package distance

import (
	"fmt"
	"strings"

	"github.com/i5heu/cgdist/pkg/aligner"
)

// Mode selects how one locus contributes to a pair distance.
type Mode uint8

const (
	Hamming Mode = iota
	SNPs
	SNPsIndelEvents
	SNPsIndelBases
)

var modeNames = []string{"hamming", "snps", "snps-indel-events", "snps-indel-bases"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "_", "-")
	for i, name := range modeNames {
		if s == name {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown distance mode %q (want one of %s)",
		ErrInvalidConfig, s, strings.Join(modeNames, ", "))
}

// Modes lists every mode in increasing order of resolution.
func Modes() []Mode { return []Mode{Hamming, SNPs, SNPsIndelEvents, SNPsIndelBases} }

// needsAlignment reports whether contributions depend on alignment records.
func (m Mode) needsAlignment() bool { return m != Hamming }

// Contribution converts the record of a locus whose keys differ into that
// locus' share of the distance. With fallback a real allelic difference never
// counts as 0. The floor applies in every alignment mode, not only SNPs, so a
// locus with differing keys contributes at least 1 in SNPsIndelEvents and
// SNPsIndelBases too and each mode stays at least as large as the one before.
func (m Mode) Contribution(stats aligner.Stats, fallback bool) int {
	var d int
	switch m {
	case Hamming:
		return 1
	case SNPs:
		d = stats.SNPs
	case SNPsIndelEvents:
		d = stats.SNPs + stats.IndelEvents
	case SNPsIndelBases:
		d = stats.SNPs + stats.IndelBases
	}
	if d == 0 && fallback {
		return 1
	}
	return d
}
