package aligner

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidScoring = errors.New("aligner: invalid scoring parameters")

// Scoring is the affine scoring model. GapOpen and GapExtend are penalty
// magnitudes: a gap of length k costs GapOpen + (k-1)*GapExtend.
type Scoring struct {
	Match     int `yaml:"match"`
	Mismatch  int `yaml:"mismatch"`
	GapOpen   int `yaml:"gap_open"`
	GapExtend int `yaml:"gap_extend"`
}

func (s Scoring) Validate() error {
	if s.Match <= 0 {
		return fmt.Errorf("%w: match score must be positive, got %d", ErrInvalidScoring, s.Match)
	}
	if s.Mismatch > 0 {
		return fmt.Errorf("%w: mismatch penalty must be <= 0, got %d", ErrInvalidScoring, s.Mismatch)
	}
	if s.GapOpen < 0 || s.GapExtend < 0 {
		return fmt.Errorf("%w: gap penalties are magnitudes and must be >= 0, got open=%d extend=%d",
			ErrInvalidScoring, s.GapOpen, s.GapExtend)
	}
	return nil
}

func (s Scoring) String() string {
	return fmt.Sprintf("match=%d mismatch=%d gap_open=%d gap_extend=%d", s.Match, s.Mismatch, s.GapOpen, s.GapExtend)
}

type Preset struct {
	Name        string
	Scoring     Scoring
	Description string
}

var presets = map[string]Preset{
	"dna": {
		Name:        "dna",
		Scoring:     Scoring{Match: 2, Mismatch: -1, GapOpen: 5, GapExtend: 2},
		Description: "Standard DNA alignment",
	},
	"dna-strict": {
		Name:        "dna-strict",
		Scoring:     Scoring{Match: 3, Mismatch: -2, GapOpen: 8, GapExtend: 3},
		Description: "Strict DNA alignment (higher penalties)",
	},
	"dna-permissive": {
		Name:        "dna-permissive",
		Scoring:     Scoring{Match: 1, Mismatch: 0, GapOpen: 3, GapExtend: 1},
		Description: "Permissive DNA alignment (lower penalties)",
	},
}

// DefaultScoring is the "dna" preset.
func DefaultScoring() Scoring { return presets["dna"].Scoring }

func LookupPreset(name string) (Preset, error) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidScoring, name)
	}
	return p, nil
}

func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Strictness decides how ambiguity codes are handled.
type Strictness uint8

const (
	// Strict rejects any base other than A, C, G, T.
	Strict Strictness = iota
	// Permissive lets IUPAC ambiguity codes match anything at zero score.
	Permissive
)

func (s Strictness) String() string {
	switch s {
	case Strict:
		return "strict"
	case Permissive:
		return "permissive"
	}
	return "unknown"
}

func ParseStrictness(s string) (Strictness, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "permissive":
		return Permissive, nil
	}
	return Strict, fmt.Errorf("%w: unknown strictness %q", ErrInvalidScoring, s)
}
