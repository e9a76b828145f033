package aligncache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/i5heu/cgdist/pkg/aligner"
	"google.golang.org/protobuf/encoding/protowire"
)

// FormatVersion is bumped whenever the record layout changes.
const FormatVersion = 1

var (
	ErrIncompatibleCache = errors.New("aligncache: incompatible cache")
	ErrCorruptStore      = errors.New("aligncache: corrupt cache store")
)

// Header describes the parameters a store was computed with. Only records
// produced under an identical strategy, scoring and strictness may be reused.
type Header struct {
	FormatVersion uint32
	Strategy      string
	Scoring       aligner.Scoring
	Strictness    aligner.Strictness
	Note          string
	Created       time.Time
	Modified      time.Time
	Entries       uint64
	Codec         Codec
}

// HeaderMismatch lists every field that differs between a stored header and
// the active configuration.
type HeaderMismatch struct {
	Fields []string
}

func (m *HeaderMismatch) Error() string {
	return fmt.Sprintf("%s: %s", ErrIncompatibleCache.Error(), strings.Join(m.Fields, "; "))
}

func (m *HeaderMismatch) Unwrap() error { return ErrIncompatibleCache }

// CheckCompatible returns a *HeaderMismatch when h was not produced under want's
// parameters. Note, timestamps, entry count and codec are informational.
func (h Header) CheckCompatible(want Header) error {
	var fields []string
	if h.FormatVersion != want.FormatVersion {
		fields = append(fields, fmt.Sprintf("format version %d != %d", h.FormatVersion, want.FormatVersion))
	}
	if !strings.EqualFold(h.Strategy, want.Strategy) {
		fields = append(fields, fmt.Sprintf("strategy %q != %q", h.Strategy, want.Strategy))
	}
	if h.Scoring != want.Scoring {
		fields = append(fields, fmt.Sprintf("scoring {%s} != {%s}", h.Scoring, want.Scoring))
	}
	if h.Strictness != want.Strictness {
		fields = append(fields, fmt.Sprintf("strictness %s != %s", h.Strictness, want.Strictness))
	}
	if len(fields) == 0 {
		return nil
	}
	return &HeaderMismatch{Fields: fields}
}

const (
	hdrFormatVersion protowire.Number = iota + 1
	hdrStrategy
	hdrMatch
	hdrMismatch
	hdrGapOpen
	hdrGapExtend
	hdrStrictness
	hdrNote
	hdrCreated
	hdrModified
	hdrEntries
	hdrCodec
)

func appendSint(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func (h Header) marshal() []byte {
	var b []byte
	b = appendUint(b, hdrFormatVersion, uint64(h.FormatVersion))
	b = appendString(b, hdrStrategy, h.Strategy)
	b = appendSint(b, hdrMatch, h.Scoring.Match)
	b = appendSint(b, hdrMismatch, h.Scoring.Mismatch)
	b = appendSint(b, hdrGapOpen, h.Scoring.GapOpen)
	b = appendSint(b, hdrGapExtend, h.Scoring.GapExtend)
	b = appendUint(b, hdrStrictness, uint64(h.Strictness))
	b = appendString(b, hdrNote, h.Note)
	b = appendSint(b, hdrCreated, int(h.Created.UnixNano()))
	b = appendSint(b, hdrModified, int(h.Modified.UnixNano()))
	b = appendUint(b, hdrEntries, h.Entries)
	b = appendUint(b, hdrCodec, uint64(h.Codec))
	return b
}

func unmarshalHeader(b []byte) (Header, error) {
	var h Header
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) {
		switch num {
		case hdrFormatVersion:
			h.FormatVersion = uint32(v)
		case hdrStrategy:
			h.Strategy = string(raw)
		case hdrMatch:
			h.Scoring.Match = int(protowire.DecodeZigZag(v))
		case hdrMismatch:
			h.Scoring.Mismatch = int(protowire.DecodeZigZag(v))
		case hdrGapOpen:
			h.Scoring.GapOpen = int(protowire.DecodeZigZag(v))
		case hdrGapExtend:
			h.Scoring.GapExtend = int(protowire.DecodeZigZag(v))
		case hdrStrictness:
			h.Strictness = aligner.Strictness(v)
		case hdrNote:
			h.Note = string(raw)
		case hdrCreated:
			h.Created = time.Unix(0, protowire.DecodeZigZag(v))
		case hdrModified:
			h.Modified = time.Unix(0, protowire.DecodeZigZag(v))
		case hdrEntries:
			h.Entries = v
		case hdrCodec:
			h.Codec = Codec(v)
		}
	})
	if err != nil {
		return Header{}, fmt.Errorf("%w: header: %w", ErrCorruptStore, err)
	}
	return h, nil
}

// consumeFields walks a protobuf message that only uses varint and bytes
// fields. Unknown fields are skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			fn(num, typ, v, nil)
			b = b[n:]
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			fn(num, typ, 0, raw)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
