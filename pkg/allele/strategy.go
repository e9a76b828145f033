package allele

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidToken    = errors.New("allele: invalid token")
	ErrInvalidAlphabet = errors.New("allele: sequence outside nucleotide alphabet")
	ErrUnknownStrategy = errors.New("allele: unknown identity strategy")
)

// Strategy turns sequences and profile tokens into keys.
type Strategy interface {
	// Name is written into cache headers; two strategies with the same name
	// must produce identical keys.
	Name() string
	Description() string
	// HashSequence is total and deterministic.
	HashSequence(seq string) Key
	// ParseToken resolves a profile token. Empty, "NA" and missingChar map to Missing.
	ParseToken(token, missingChar string) (Key, error)
	ValidateSequence(seq string) error
}

// IsMissingToken reports whether a trimmed profile token denotes absent data.
func IsMissingToken(token, missingChar string) bool {
	return token == "" || token == "NA" || token == missingChar
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// CRC32Strategy keys alleles by the IEEE CRC32 of their sequence, the
// identifier chewBBACA writes into hashed profiles. Collisions are possible.
type CRC32Strategy struct{}

func (CRC32Strategy) Name() string { return "CRC32" }

func (CRC32Strategy) Description() string {
	return "CRC32 checksum compatible with chewBBACA hashed profiles"
}

func (CRC32Strategy) HashSequence(seq string) Key {
	return NumericKey(uint64(crc32.ChecksumIEEE([]byte(seq))))
}

func (CRC32Strategy) ParseToken(token, missingChar string) (Key, error) {
	return parseCRC32(token, missingChar)
}

func (CRC32Strategy) ValidateSequence(seq string) error { return ValidateNucleotides(seq) }

func parseCRC32(token, missingChar string) (Key, error) {
	cleaned := strings.TrimSpace(token)
	if IsMissingToken(cleaned, missingChar) {
		return Missing, nil
	}
	v, err := strconv.ParseUint(cleaned, 10, 32)
	if err != nil {
		return Missing, fmt.Errorf("%w: %q is not a CRC32 value", ErrInvalidToken, cleaned)
	}
	return NumericKey(v), nil
}

// HammingStrategy uses CRC32 keys. It exists for allele-level comparison runs
// where no sequence is ever aligned.
type HammingStrategy struct{}

func (HammingStrategy) Name() string { return "Hamming" }

func (HammingStrategy) Description() string {
	return "CRC32 keys compared at allele level (different keys = 1, same keys = 0)"
}

func (HammingStrategy) HashSequence(seq string) Key { return CRC32Strategy{}.HashSequence(seq) }

func (HammingStrategy) ParseToken(token, missingChar string) (Key, error) {
	return parseCRC32(token, missingChar)
}

// ValidateSequence accepts anything; keys are never aligned.
func (HammingStrategy) ValidateSequence(string) error { return nil }

// XXHash64Strategy keys alleles by the 64-bit xxHash of the sequence.
type XXHash64Strategy struct{}

func (XXHash64Strategy) Name() string { return "XXHASH64" }

func (XXHash64Strategy) Description() string {
	return "64-bit xxHash checksum, fast with a small collision probability"
}

func (XXHash64Strategy) HashSequence(seq string) Key {
	return NumericKey(xxhash.Sum64String(seq))
}

func (s XXHash64Strategy) ParseToken(token, missingChar string) (Key, error) {
	cleaned := strings.TrimSpace(token)
	if IsMissingToken(cleaned, missingChar) {
		return Missing, nil
	}
	v, err := strconv.ParseUint(cleaned, 10, 64)
	if err != nil {
		return Missing, fmt.Errorf("%w: %q is not a 64-bit value", ErrInvalidToken, cleaned)
	}
	return NumericKey(v), nil
}

func (XXHash64Strategy) ValidateSequence(seq string) error { return ValidateNucleotides(seq) }

// digestStrategy covers the hex digest strategies. Tokens that already look
// like a digest are kept, anything else is treated as a raw sequence.
type digestStrategy struct {
	name        string
	description string
	hexLen      int
	sum         func([]byte) []byte
}

func (d digestStrategy) Name() string { return d.name }

func (d digestStrategy) Description() string { return d.description }

func (d digestStrategy) HashSequence(seq string) Key {
	return DigestKey(hex.EncodeToString(d.sum([]byte(seq))))
}

func (d digestStrategy) ParseToken(token, missingChar string) (Key, error) {
	cleaned := strings.TrimSpace(token)
	if IsMissingToken(cleaned, missingChar) {
		return Missing, nil
	}
	if len(cleaned) == d.hexLen && isHex(cleaned) {
		return DigestKey(strings.ToLower(cleaned)), nil
	}
	return d.HashSequence(cleaned), nil
}

func (digestStrategy) ValidateSequence(seq string) error { return ValidateNucleotides(seq) }

func MD5Strategy() Strategy {
	return digestStrategy{
		name:        "MD5",
		description: "MD5 digest for legacy compatibility",
		hexLen:      md5.Size * 2,
		sum: func(b []byte) []byte {
			s := md5.Sum(b)
			return s[:]
		},
	}
}

func SHA256Strategy() Strategy {
	return digestStrategy{
		name:        "SHA256",
		description: "SHA256 digest, collision-free in practice",
		hexLen:      sha256.Size * 2,
		sum: func(b []byte) []byte {
			s := sha256.Sum256(b)
			return s[:]
		},
	}
}

func Blake2bStrategy() Strategy {
	return digestStrategy{
		name:        "BLAKE2B",
		description: "BLAKE2b-256 digest, collision-free in practice and faster than SHA256",
		hexLen:      blake2b.Size256 * 2,
		sum: func(b []byte) []byte {
			s := blake2b.Sum256(b)
			return s[:]
		},
	}
}

// SequenceStrategy uses the sequence itself as the key.
type SequenceStrategy struct{}

func (SequenceStrategy) Name() string { return "SEQUENCE" }

func (SequenceStrategy) Description() string {
	return "Uses the sequence itself as identifier (no hashing)"
}

func (SequenceStrategy) HashSequence(seq string) Key { return SequenceKey(seq) }

func (SequenceStrategy) ParseToken(token, missingChar string) (Key, error) {
	cleaned := strings.TrimSpace(token)
	if IsMissingToken(cleaned, missingChar) {
		return Missing, nil
	}
	return SequenceKey(cleaned), nil
}

func (SequenceStrategy) ValidateSequence(seq string) error { return ValidateNucleotides(seq) }
