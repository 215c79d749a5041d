package psb

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Unwrapped is a block with its mdf layer removed.
type Unwrapped struct {
	Header BlockHeader
	Data   []byte

	// Wrapped is false when the block carried no mdf signature and Data is the
	// input unchanged.
	Wrapped bool

	// Mismatch is set when the inflated length differs from the length the
	// header declares. The inflated bytes are still returned.
	Mismatch bool
}

// Unwrap removes the XOR keystream and the zlib compression from an mdf block.
// Blocks without the mdf signature (including plain "PSB\0" containers) are
// returned unchanged. The input is never modified.
func Unwrap(block []byte, key Key) (*Unwrapped, error) {
	if len(block) < BlockHeaderSize {
		return &Unwrapped{Data: block}, nil
	}

	h, err := ParseBlockHeader(block)
	if err != nil {
		return nil, err
	}
	if !h.IsMdf() {
		return &Unwrapped{Header: h, Data: block}, nil
	}

	body := make([]byte, len(block)-BlockHeaderSize)
	copy(body, block[BlockHeaderSize:])
	key.XOR(body)

	data, err := Inflate(body)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate mdf block: %w", err)
	}

	return &Unwrapped{
		Header:   h,
		Data:     data,
		Wrapped:  true,
		Mismatch: uint64(len(data)) != uint64(h.UncompressedLength),
	}, nil
}

// Wrap compresses payload at the given zlib level, prepends an mdf header
// declaring the uncompressed length, and obfuscates everything after the
// header with key.
func Wrap(payload []byte, key Key, level int) ([]byte, error) {
	compressed, err := Compress(payload, level)
	if err != nil {
		return nil, err
	}

	out := make([]byte, BlockHeaderSize+len(compressed))
	BlockHeader{Signature: MdfSignature, UncompressedLength: uint32(len(payload))}.Put(out)
	copy(out[BlockHeaderSize:], compressed)
	key.XOR(out[BlockHeaderSize:])
	return out, nil
}

// Compress returns the zlib stream of data at the given level.
func Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressed data: %w", err)
	}
	return buf.Bytes(), nil
}

// Inflate decompresses a zlib stream. Bytes after the end of the stream, such
// as alignment padding in the companion blob, are ignored.
func Inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open zlib stream: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read zlib stream: %w", err)
	}
	return out, nil
}

// LevelFor returns the compression level used for a resource. JPEG payloads
// are already compressed and are stored at level 0.
func LevelFor(name string, level int) int {
	if strings.Contains(name, ".jpg.m") {
		return 0
	}
	return level
}
