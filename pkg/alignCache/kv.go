package aligncache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/i5heu/cgdist/pkg/keyValStore"
)

var (
	kvPrefix       = []byte("cgdist:")
	kvHeaderKey    = []byte("cgdist:header")
	kvRecordPrefix = []byte("cgdist:rec:")
)

const kvBatchSize = 10000

func kvRecordKey(r Record) []byte {
	a, b := r.Pair.A.Bytes(), r.Pair.B.Bytes()
	key := make([]byte, 0, len(kvRecordPrefix)+binary.MaxVarintLen64+len(a)+len(b))
	key = append(key, kvRecordPrefix...)
	key = binary.AppendUvarint(key, uint64(len(a)))
	key = append(key, a...)
	return append(key, b...)
}

// SaveKV writes the header and every successful record into kv. Records
// written by an incompatible configuration are dropped first, so the store
// always holds one consistent parameter set.
func (c *Cache) SaveKV(kv *keyValStore.KeyValStore, note string) error {
	start := time.Now()
	want := c.Header()

	if raw, err := kv.Read(kvHeaderKey); err == nil {
		old, err := unmarshalHeader(raw)
		if err != nil || old.CheckCompatible(want) != nil {
			c.log.Warn("dropping incompatible records from key value cache store")
			if err := kv.DropPrefix(kvRecordPrefix); err != nil {
				return fmt.Errorf("drop incompatible records: %w", err)
			}
		} else {
			want.Created = old.Created
		}
	} else if !errors.Is(err, keyValStore.ErrKeyNotFound) {
		return err
	}

	records := c.Records()
	batch := make([][2][]byte, 0, kvBatchSize)
	for _, r := range records {
		batch = append(batch, [2][]byte{kvRecordKey(r), marshalRecord(nil, r)})
		if len(batch) == kvBatchSize {
			if err := kv.WriteBatch(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := kv.WriteBatch(batch); err != nil {
			return err
		}
	}

	want.Note = note
	want.Modified = time.Now()
	want.Entries = uint64(c.countKV(kv))
	if err := kv.Write(kvHeaderKey, want.marshal()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	c.note = note
	c.added.Store(0)
	c.log.Info("saved alignment cache to key value store",
		"written", humanize.Comma(int64(len(records))),
		"entries", humanize.Comma(int64(want.Entries)),
		"duration", time.Since(start))
	return nil
}

func (c *Cache) countKV(kv *keyValStore.KeyValStore) int {
	n := 0
	_ = kv.IterateWithPrefix(kvRecordPrefix, func(_, _ []byte) error {
		n++
		return nil
	})
	return n
}

// LoadKV merges the records stored in kv after validating its header, with
// the same error contract as Load.
func (c *Cache) LoadKV(kv *keyValStore.KeyValStore) (Header, error) {
	start := time.Now()
	raw, err := kv.Read(kvHeaderKey)
	if err != nil {
		return Header{}, err
	}
	h, err := unmarshalHeader(raw)
	if err != nil {
		return Header{}, err
	}
	if err := h.CheckCompatible(c.Header()); err != nil {
		return h, fmt.Errorf("load key value store: %w", err)
	}

	merged := 0
	err = kv.IterateWithPrefix(kvRecordPrefix, func(_, value []byte) error {
		r, err := unmarshalRecord(value)
		if err != nil {
			return err
		}
		if c.put(r.Pair, r.Stats) {
			merged++
		}
		return nil
	})
	if err != nil {
		return h, fmt.Errorf("load key value store: %w", err)
	}

	c.note = h.Note
	if !h.Created.IsZero() && h.Created.Before(c.created) {
		c.created = h.Created
	}
	c.log.Info("loaded alignment cache from key value store",
		"entries", humanize.Comma(int64(merged)),
		"duration", time.Since(start))
	return h, nil
}

// ClearKV removes the header and every record from kv.
func ClearKV(kv *keyValStore.KeyValStore) error {
	if err := kv.DropPrefix(kvPrefix); err != nil {
		return fmt.Errorf("clear key value cache store: %w", err)
	}
	return nil
}
