// Package allele maps allele sequences and profile tokens to compact,
// comparable identity keys.
//
// A Key is produced by a Strategy. Downstream code only relies on key
// equality, the total order defined by Compare and the strategy name that
// is written into persisted cache headers.
package allele

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// Kind tells how the value of a Key is represented.
type Kind uint8

const (
	// KindMissing is the zero Kind so that the zero Key is Missing.
	KindMissing Kind = iota
	KindNumeric
	KindDigest
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "Missing"
	case KindNumeric:
		return "Numeric"
	case KindDigest:
		return "Digest"
	case KindSequence:
		return "Sequence"
	}
	return "Unknown"
}

// Key identifies one allele. Keys are comparable and can be used as map keys.
type Key struct {
	kind Kind
	num  uint64
	str  string
}

// Missing represents absent data. It never equals a key produced by a strategy.
var Missing = Key{}

var ErrInvalidKeyBytes = errors.New("allele: invalid key encoding")

func NumericKey(v uint64) Key { return Key{kind: KindNumeric, num: v} }

func DigestKey(hex string) Key { return Key{kind: KindDigest, str: hex} }

func SequenceKey(seq string) Key { return Key{kind: KindSequence, str: seq} }

func (k Key) Kind() Kind { return k.kind }

func (k Key) IsMissing() bool { return k.kind == KindMissing }

// Numeric returns the numeric value and whether the key is numeric.
func (k Key) Numeric() (uint64, bool) {
	return k.num, k.kind == KindNumeric
}

func (k Key) String() string {
	switch k.kind {
	case KindMissing:
		return "MISSING"
	case KindNumeric:
		return strconv.FormatUint(k.num, 10)
	default:
		return k.str
	}
}

// Compare orders keys by kind, then numeric value, then string value.
// Missing sorts before every other key.
func (k Key) Compare(o Key) int {
	switch {
	case k.kind < o.kind:
		return -1
	case k.kind > o.kind:
		return 1
	case k.num < o.num:
		return -1
	case k.num > o.num:
		return 1
	case k.str < o.str:
		return -1
	case k.str > o.str:
		return 1
	}
	return 0
}

func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

// Bytes encodes the key as kind byte, uvarint number and the raw string.
func (k Key) Bytes() []byte {
	buf := make([]byte, 1, 1+binary.MaxVarintLen64+len(k.str))
	buf[0] = byte(k.kind)
	buf = binary.AppendUvarint(buf, k.num)
	return append(buf, k.str...)
}

// KeyFromBytes is the inverse of Key.Bytes.
func KeyFromBytes(b []byte) (Key, error) {
	if len(b) < 2 {
		return Key{}, fmt.Errorf("%w: %d bytes", ErrInvalidKeyBytes, len(b))
	}
	kind := Kind(b[0])
	if kind > KindSequence {
		return Key{}, fmt.Errorf("%w: kind %d", ErrInvalidKeyBytes, b[0])
	}
	num, n := binary.Uvarint(b[1:])
	if n <= 0 {
		return Key{}, fmt.Errorf("%w: bad varint", ErrInvalidKeyBytes)
	}
	return Key{kind: kind, num: num, str: string(b[1+n:])}, nil
}

// PairKey is an unordered pair of keys stored in canonical order (A <= B).
type PairKey struct {
	A Key
	B Key
}

// NewPair canonicalizes (a, b) so that NewPair(a, b) == NewPair(b, a).
func NewPair(a, b Key) PairKey {
	if b.Less(a) {
		return PairKey{A: b, B: a}
	}
	return PairKey{A: a, B: b}
}

func (p PairKey) HasMissing() bool { return p.A.IsMissing() || p.B.IsMissing() }

func (p PairKey) Identical() bool { return p.A == p.B }

func (p PairKey) String() string { return p.A.String() + ":" + p.B.String() }
