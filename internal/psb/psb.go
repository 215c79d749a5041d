package psb

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotPSB is returned when a decoded buffer does not start with Magic.
var ErrNotPSB = errors.New("not a PSB container")

// Header is the fixed 40-byte header of a decoded PSB container.
// All offsets are relative to the start of the decoded buffer.
type Header struct {
	Magic              [4]byte // "PSB\0"
	Type               uint32
	Unknown1           uint32
	OffsetNames        uint32
	OffsetStrings      uint32
	OffsetStringsData  uint32
	OffsetChunkOffsets uint32
	OffsetChunkLengths uint32
	OffsetChunkData    uint32
	OffsetEntries      uint32
}

// ParseHeader decodes a Header from the start of buf.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, &DecodeError{
			Section:  "header",
			Offset:   0,
			Expected: fmt.Sprintf("%d bytes", HeaderSize),
			Found:    fmt.Sprintf("%d bytes", len(buf)),
		}
	}

	h := &Header{}
	copy(h.Magic[:], buf[:4])
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: expected magic %q, got %q", ErrNotPSB, Magic, h.Magic)
	}

	fields := h.fields()
	for i, f := range fields {
		*f = binary.LittleEndian.Uint32(buf[4+4*i:])
	}

	return h, nil
}

// Bytes encodes the header into its 40-byte wire form.
func (h *Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, Magic[:])
	for i, f := range h.fields() {
		binary.LittleEndian.PutUint32(buf[4+4*i:], *f)
	}
	return buf
}

// Validate checks that every section offset points inside a buffer of size n.
// The two blob sections may sit at the very end when they are empty.
func (h *Header) Validate(n int) error {
	sections := []struct {
		name string
		off  uint32
		blob bool
	}{
		{"names", h.OffsetNames, false},
		{"strings", h.OffsetStrings, false},
		{"strings_data", h.OffsetStringsData, true},
		{"chunk_offsets", h.OffsetChunkOffsets, false},
		{"chunk_lengths", h.OffsetChunkLengths, false},
		{"chunk_data", h.OffsetChunkData, true},
		{"entries", h.OffsetEntries, false},
	}
	for _, s := range sections {
		limit := int64(n)
		if !s.blob {
			limit--
		}
		if int64(s.off) > limit {
			return &DecodeError{
				Section:  "header",
				Expected: fmt.Sprintf("%s offset at most 0x%X", s.name, limit),
				Found:    fmt.Sprintf("0x%X", s.off),
			}
		}
	}
	return nil
}

func (h *Header) fields() []*uint32 {
	return []*uint32{
		&h.Type,
		&h.Unknown1,
		&h.OffsetNames,
		&h.OffsetStrings,
		&h.OffsetStringsData,
		&h.OffsetChunkOffsets,
		&h.OffsetChunkLengths,
		&h.OffsetChunkData,
		&h.OffsetEntries,
	}
}

// BlockHeader is the 8-byte "mdf" header preceding every compressed unit.
// The signature is big-endian on disk, the length little-endian.
type BlockHeader struct {
	Signature          [4]byte
	UncompressedLength uint32
}

// ParseBlockHeader reads a BlockHeader from the start of buf.
func ParseBlockHeader(buf []byte) (BlockHeader, error) {
	var h BlockHeader
	if len(buf) < BlockHeaderSize {
		return h, &DecodeError{
			Section:  "mdf",
			Expected: fmt.Sprintf("%d bytes", BlockHeaderSize),
			Found:    fmt.Sprintf("%d bytes", len(buf)),
		}
	}
	copy(h.Signature[:], buf[:4])
	h.UncompressedLength = binary.LittleEndian.Uint32(buf[4:8])
	return h, nil
}

// IsMdf reports whether the block is compressed and obfuscated.
func (h BlockHeader) IsMdf() bool {
	return h.Signature == MdfSignature
}

// Put writes the header into the first 8 bytes of buf.
func (h BlockHeader) Put(buf []byte) {
	copy(buf[:4], h.Signature[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.UncompressedLength)
}

// DecodeError describes malformed input found while decoding a section.
type DecodeError struct {
	Section  string
	Offset   int
	Expected string
	Found    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("corrupt %s data at offset 0x%X: expected %s, found %s",
		e.Section, e.Offset, e.Expected, e.Found)
}
