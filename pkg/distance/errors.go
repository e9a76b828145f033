package distance

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig    = errors.New("distance: invalid configuration")
	ErrSequenceNotFound = errors.New("distance: no sequence for allele")
)

// LocusError ties a non-fatal failure to its coordinates. SampleB is empty for
// errors found while resolving a single sample's token.
type LocusError struct {
	SampleA string
	SampleB string
	Locus   string
	Err     error
}

func (e LocusError) Error() string {
	if e.SampleB == "" {
		return fmt.Sprintf("sample %s locus %s: %v", e.SampleA, e.Locus, e.Err)
	}
	return fmt.Sprintf("samples %s/%s locus %s: %v", e.SampleA, e.SampleB, e.Locus, e.Err)
}

func (e LocusError) Unwrap() error { return e.Err }
