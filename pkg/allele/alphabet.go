package allele

import "fmt"

// iupac holds the nucleotide codes accepted in schema sequences:
// A, C, G, T plus the IUPAC ambiguity codes, upper and lower case.
var iupac [256]bool

// canonical marks A, C, G and T in either case.
var canonical [256]bool

func init() {
	for _, c := range "ACGT" {
		canonical[c] = true
		canonical[c+'a'-'A'] = true
	}
	for _, c := range "ACGTURYSWKMBDHVN" {
		iupac[c] = true
		iupac[c+'a'-'A'] = true
	}
}

// IsCanonicalBase reports whether c is A, C, G or T (any case).
func IsCanonicalBase(c byte) bool { return canonical[c] }

// IsNucleotide reports whether c is a nucleotide or IUPAC ambiguity code.
func IsNucleotide(c byte) bool { return iupac[c] }

// ValidateNucleotides returns ErrInvalidAlphabet naming the first offending
// position, or nil. Ambiguity codes are accepted.
func ValidateNucleotides(seq string) error {
	for i := 0; i < len(seq); i++ {
		if !iupac[seq[i]] {
			return fmt.Errorf("%w: %q at position %d", ErrInvalidAlphabet, seq[i], i)
		}
	}
	return nil
}

// ValidateCanonical is the strict variant of ValidateNucleotides.
func ValidateCanonical(seq string) error {
	for i := 0; i < len(seq); i++ {
		if !canonical[seq[i]] {
			return fmt.Errorf("%w: %q at position %d", ErrInvalidAlphabet, seq[i], i)
		}
	}
	return nil
}
