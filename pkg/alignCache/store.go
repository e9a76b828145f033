package aligncache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/cgdist/pkg/aligner"
	"github.com/i5heu/cgdist/pkg/allele"
	"google.golang.org/protobuf/encoding/protowire"
)

// File layout: magic, format version byte, codec byte, uvarint header length,
// header message, compressed body. The body is a sequence of length-delimited
// record messages under field 1. The header stays uncompressed so ReadHeader
// does not need to touch the body.
var magic = [4]byte{'C', 'G', 'D', 'C'}

const (
	recKeyA protowire.Number = iota + 1
	recKeyB
	recSNPs
	recIndelEvents
	recIndelBases
	recAlignedLength
	recLengthA
	recLengthB
)

const bodyRecord protowire.Number = 1

func marshalRecord(b []byte, r Record) []byte {
	b = protowire.AppendTag(b, recKeyA, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Pair.A.Bytes())
	b = protowire.AppendTag(b, recKeyB, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Pair.B.Bytes())
	b = appendUint(b, recSNPs, uint64(r.Stats.SNPs))
	b = appendUint(b, recIndelEvents, uint64(r.Stats.IndelEvents))
	b = appendUint(b, recIndelBases, uint64(r.Stats.IndelBases))
	b = appendUint(b, recAlignedLength, uint64(r.Stats.AlignedLength))
	if r.Stats.LengthA > 0 {
		b = appendUint(b, recLengthA, uint64(r.Stats.LengthA))
	}
	if r.Stats.LengthB > 0 {
		b = appendUint(b, recLengthB, uint64(r.Stats.LengthB))
	}
	return b
}

func unmarshalRecord(b []byte) (Record, error) {
	var (
		r          Record
		keyErr     error
		haveA      bool
		haveB      bool
		statsValue aligner.Stats
	)
	err := consumeFields(b, func(num protowire.Number, _ protowire.Type, v uint64, raw []byte) {
		switch num {
		case recKeyA, recKeyB:
			k, err := allele.KeyFromBytes(raw)
			if err != nil {
				keyErr = err
				return
			}
			if num == recKeyA {
				r.Pair.A, haveA = k, true
			} else {
				r.Pair.B, haveB = k, true
			}
		case recSNPs:
			statsValue.SNPs = int(v)
		case recIndelEvents:
			statsValue.IndelEvents = int(v)
		case recIndelBases:
			statsValue.IndelBases = int(v)
		case recAlignedLength:
			statsValue.AlignedLength = int(v)
		case recLengthA:
			statsValue.LengthA = int(v)
		case recLengthB:
			statsValue.LengthB = int(v)
		}
	})
	if err == nil {
		err = keyErr
	}
	if err == nil && (!haveA || !haveB) {
		err = fmt.Errorf("record without both keys")
	}
	if err == nil && (r.Pair.HasMissing() || r.Pair.B.Less(r.Pair.A)) {
		err = fmt.Errorf("record pair %s is not canonical", r.Pair)
	}
	if err == nil && statsValue.IndelBases < statsValue.IndelEvents {
		err = fmt.Errorf("record %s has fewer indel bases than events", r.Pair)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}
	r.Stats = statsValue
	return r, nil
}

// Save writes every successful record to path with the configured codec.
// The file is written next to path and renamed into place.
func (c *Cache) Save(path, note string) error {
	start := time.Now()
	codec := c.codec()
	records := c.Records()

	h := c.Header()
	h.Note = note
	h.Modified = time.Now()
	h.Entries = uint64(len(records))
	h.Codec = codec

	var body []byte
	var rec []byte
	for _, r := range records {
		rec = marshalRecord(rec[:0], r)
		body = protowire.AppendTag(body, bodyRecord, protowire.BytesType)
		body = protowire.AppendBytes(body, rec)
	}
	compressed, err := codec.compress(body)
	if err != nil {
		return fmt.Errorf("compress cache with %s: %w", codec, err)
	}

	hdr := h.marshal()
	var out bytes.Buffer
	out.Grow(len(magic) + 2 + binary.MaxVarintLen64 + len(hdr) + len(compressed))
	out.Write(magic[:])
	out.WriteByte(FormatVersion)
	out.WriteByte(byte(codec))
	out.Write(binary.AppendUvarint(nil, uint64(len(hdr))))
	out.Write(hdr)
	out.Write(compressed)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}

	c.note = note
	c.added.Store(0)
	c.log.Info("saved alignment cache",
		"path", path,
		"entries", humanize.Comma(int64(len(records))),
		"raw", humanize.IBytes(uint64(len(body))),
		"compressed", humanize.IBytes(uint64(out.Len())),
		"codec", codec.String(),
		"duration", time.Since(start))
	return nil
}

func (c *Cache) codec() Codec {
	if c.config.Codec == 0 {
		return CodecS2
	}
	return c.config.Codec
}

// ReadHeader reads only the header of a persisted store.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	h, _, err := readPrefix(bufio.NewReader(f))
	return h, err
}

func readPrefix(r *bufio.Reader) (Header, Codec, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil || m != magic {
		return Header{}, 0, fmt.Errorf("%w: bad magic", ErrCorruptStore)
	}
	version, err := r.ReadByte()
	if err != nil {
		return Header{}, 0, fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}
	codecByte, err := r.ReadByte()
	if err != nil {
		return Header{}, 0, fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}
	n, err := binary.ReadUvarint(r)
	if err != nil || n > 1<<20 {
		return Header{}, 0, fmt.Errorf("%w: bad header length", ErrCorruptStore)
	}
	hdr := make([]byte, n)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Header{}, 0, fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}
	h, err := unmarshalHeader(hdr)
	if err != nil {
		return Header{}, 0, err
	}
	if uint32(version) != h.FormatVersion {
		return Header{}, 0, fmt.Errorf("%w: format version byte %d disagrees with header %d",
			ErrCorruptStore, version, h.FormatVersion)
	}
	return h, Codec(codecByte), nil
}

// Load reads a persisted store and merges its records. The stored header is
// validated first; on mismatch nothing is merged and the returned error wraps
// ErrIncompatibleCache and a *HeaderMismatch.
func (c *Cache) Load(path string) (Header, error) {
	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, codec, err := readPrefix(r)
	if err != nil {
		return Header{}, err
	}
	if err := h.CheckCompatible(c.Header()); err != nil {
		return h, fmt.Errorf("load %s: %w", path, err)
	}

	compressed, err := io.ReadAll(r)
	if err != nil {
		return h, fmt.Errorf("read cache body: %w", err)
	}
	body, err := codec.decompress(compressed)
	if err != nil {
		return h, fmt.Errorf("%w: decompress with %s: %w", ErrCorruptStore, codec, err)
	}

	records := make([]Record, 0, min(h.Entries, 1<<20))
	var recErr error
	err = consumeFields(body, func(num protowire.Number, _ protowire.Type, _ uint64, raw []byte) {
		if num != bodyRecord || recErr != nil {
			return
		}
		rec, err := unmarshalRecord(raw)
		if err != nil {
			recErr = err
			return
		}
		records = append(records, rec)
	})
	if err == nil {
		err = recErr
	}
	if err != nil {
		return h, fmt.Errorf("load %s: %w", path, err)
	}
	if uint64(len(records)) != h.Entries {
		return h, fmt.Errorf("%w: header announces %d entries, body has %d", ErrCorruptStore, h.Entries, len(records))
	}

	merged := c.merge(records)
	c.note = h.Note
	if !h.Created.IsZero() && h.Created.Before(c.created) {
		c.created = h.Created
	}
	c.log.Info("loaded alignment cache",
		"path", path,
		"entries", humanize.Comma(int64(merged)),
		"compressed", humanize.IBytes(uint64(len(compressed))),
		"codec", codec.String(),
		"note", h.Note,
		"duration", time.Since(start))
	return h, nil
}

func (c *Cache) merge(records []Record) int {
	merged := 0
	for _, r := range records {
		if c.put(r.Pair, r.Stats) {
			merged++
		}
	}
	return merged
}
