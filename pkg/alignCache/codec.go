package aligncache

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

var ErrUnknownCodec = errors.New("aligncache: unknown codec")

// Codec selects the block compression of a persisted store body.
type Codec uint8

const (
	CodecS2 Codec = iota + 1
	CodecZstd
	CodecLZMA
)

func (c Codec) String() string {
	switch c {
	case CodecS2:
		return "s2"
	case CodecZstd:
		return "zstd"
	case CodecLZMA:
		return "lzma"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "s2":
		return CodecS2, nil
	case "zstd":
		return CodecZstd, nil
	case "lzma":
		return CodecLZMA, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
}

func (c Codec) compress(data []byte) ([]byte, error) {
	switch c {
	case CodecS2:
		return s2.EncodeBetter(nil, data), nil
	case CodecZstd:
		return compressWithZstd(data)
	case CodecLZMA:
		return compressWithLzma(data)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, uint8(c))
}

func (c Codec) decompress(data []byte) ([]byte, error) {
	switch c {
	case CodecS2:
		return s2.Decode(nil, data)
	case CodecZstd:
		return decompressWithZstd(data)
	case CodecLZMA:
		return decompressWithLzma(data)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, uint8(c))
}

func compressWithZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	compressed := encoder.EncodeAll(data, nil)
	err = encoder.Close()
	if err != nil {
		return nil, errors.New("failed to close zstd encoder: " + err.Error())
	}
	return compressed, nil
}

func decompressWithZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

func compressWithLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(data)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressWithLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
