package parser

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/ossyrian/psbtool/internal/psb"
	psbtypes "github.com/ossyrian/psbtool/internal/types"
)

// PsbReader decodes a fully buffered, already unwrapped PSB container.
type PsbReader struct {
	buf    []byte
	logger *slog.Logger
	header *psb.Header // container header

	names   []string
	strings []string
	chunks  [][]byte
}

// NewReader returns a reader over buf. A nil logger falls back to
// slog.Default.
func NewReader(buf []byte, logger *slog.Logger) *PsbReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PsbReader{buf: buf, logger: logger}
}

// ReadHeader reads the 40-byte container header and checks that every
// section offset points inside the buffer.
func (r *PsbReader) ReadHeader() (*psb.Header, error) {
	h, err := psb.ParseHeader(r.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := h.Validate(len(r.buf)); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	r.logger.Info("header is valid",
		"type", h.Type,
		"unknown1", h.Unknown1,
		"names", h.OffsetNames,
		"strings", h.OffsetStrings,
		"strings_data", h.OffsetStringsData,
		"chunk_offsets", h.OffsetChunkOffsets,
		"chunk_lengths", h.OffsetChunkLengths,
		"chunk_data", h.OffsetChunkData,
		"entries", h.OffsetEntries,
	)

	r.header = h
	return h, nil
}

// ReadNames decodes the name trie into the name table.
func (r *PsbReader) ReadNames() ([]string, error) {
	c, err := psb.NewCursor(r.buf, "names", int(r.header.OffsetNames))
	if err != nil {
		return nil, err
	}
	trie, err := psb.ReadNameTrie(c)
	if err != nil {
		return nil, err
	}
	names, err := trie.Names()
	if err != nil {
		return nil, err
	}

	r.logger.Debug("read names", "count", len(names), "trie_nodes", len(trie.Tree))

	r.names = names
	return names, nil
}

// ReadStrings reads the string offset table and the NUL-terminated strings
// it points at.
func (r *PsbReader) ReadStrings() ([]string, error) {
	c, err := psb.NewCursor(r.buf, "strings", int(r.header.OffsetStrings))
	if err != nil {
		return nil, err
	}
	offsets, err := psb.ReadVarArray(c)
	if err != nil {
		return nil, fmt.Errorf("failed to read string offsets: %w", err)
	}

	data, err := psb.NewCursor(r.buf, "strings_data", int(r.header.OffsetStringsData))
	if err != nil {
		return nil, err
	}
	span := psb.Span{Base: int(r.header.OffsetStringsData), Limit: len(r.buf)}

	strs := make([]string, len(offsets))
	for i, off := range offsets {
		pos, err := span.Resolve(off)
		if err != nil {
			return nil, fmt.Errorf("failed to locate string %d: %w", i, err)
		}
		if err := data.Seek(pos); err != nil {
			return nil, err
		}
		if strs[i], err = data.ReadCString(); err != nil {
			return nil, fmt.Errorf("failed to read string %d: %w", i, err)
		}
	}

	r.logger.Debug("read strings", "count", len(strs))

	r.strings = strs
	return strs, nil
}

// ReadChunks reads the chunk offset and length tables and slices every chunk
// out of the chunk data section.
func (r *PsbReader) ReadChunks() ([][]byte, error) {
	c, err := psb.NewCursor(r.buf, "chunk_offsets", int(r.header.OffsetChunkOffsets))
	if err != nil {
		return nil, err
	}
	offsets, err := psb.ReadVarArray(c)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk offsets: %w", err)
	}

	if c, err = psb.NewCursor(r.buf, "chunk_lengths", int(r.header.OffsetChunkLengths)); err != nil {
		return nil, err
	}
	lengths, err := psb.ReadVarArray(c)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk lengths: %w", err)
	}

	if len(offsets) != len(lengths) {
		return nil, &psb.DecodeError{
			Section:  "chunk_lengths",
			Offset:   int(r.header.OffsetChunkLengths),
			Expected: fmt.Sprintf("%d lengths", len(offsets)),
			Found:    fmt.Sprintf("%d", len(lengths)),
		}
	}

	base := uint64(r.header.OffsetChunkData)
	chunks := make([][]byte, len(offsets))
	for i := range offsets {
		start := base + offsets[i]
		if start < base || start+lengths[i] < start || start+lengths[i] > uint64(len(r.buf)) {
			return nil, &psb.DecodeError{
				Section:  "chunk_data",
				Offset:   int(r.header.OffsetChunkData),
				Expected: fmt.Sprintf("chunk %d inside buffer of 0x%X bytes", i, len(r.buf)),
				Found:    fmt.Sprintf("0x%X+0x%X", offsets[i], lengths[i]),
			}
		}
		chunks[i] = bytes.Clone(r.buf[start : start+lengths[i]])
	}

	r.logger.Debug("read chunks", "count", len(chunks))

	r.chunks = chunks
	return chunks, nil
}

// ReadEntries decodes the entries tree. Names, strings and chunks must have
// been read first.
func (r *PsbReader) ReadEntries() (psbtypes.Value, error) {
	c, err := psb.NewCursor(r.buf, "entries", int(r.header.OffsetEntries))
	if err != nil {
		return nil, err
	}
	root, err := r.ReadValue(c)
	if err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return root, nil
}

// ReadValue decodes one tagged value at the cursor position, recursing into
// arrays and maps up to psb.MaxDepth levels.
func (r *PsbReader) ReadValue(c *psb.Cursor) (psbtypes.Value, error) {
	return r.readValue(c, 0)
}

// readValue decodes the value at the cursor; depth counts the arrays and maps
// enclosing it.
func (r *PsbReader) readValue(c *psb.Cursor, depth int) (psbtypes.Value, error) {
	pos := c.Pos()
	t, err := c.ReadByte()
	if err != nil {
		return nil, err
	}

	switch {
	case t >= psb.TagNullMin && t <= psb.TagNullMax:
		return &psbtypes.Null{Tag: t}, nil

	case t >= psb.TagIntMin && t <= psb.TagIntMax:
		width := int(t - psb.TagIntMin)
		v, err := c.ReadUint(width)
		if err != nil {
			return nil, err
		}
		return &psbtypes.Int{Value: v, Width: width}, nil

	case t >= psb.TagIntArrayMin && t <= psb.TagIntArrayMax:
		// the tag doubles as the count width of the array
		if err := c.Seek(pos); err != nil {
			return nil, err
		}
		values, err := psb.ReadVarArray(c)
		if err != nil {
			return nil, err
		}
		return &psbtypes.IntArray{Values: values}, nil

	case t >= psb.TagStringMin && t <= psb.TagStringMax:
		idx, err := c.ReadUint(int(t - psb.TagStringMin + 1))
		if err != nil {
			return nil, err
		}
		if idx >= uint64(len(r.strings)) {
			return nil, &psb.DecodeError{
				Section:  "entries",
				Offset:   pos,
				Expected: fmt.Sprintf("string index below %d", len(r.strings)),
				Found:    fmt.Sprintf("%d", idx),
			}
		}
		return &psbtypes.StringRef{Value: r.strings[idx]}, nil

	case t >= psb.TagChunkMin && t <= psb.TagChunkMax:
		idx, err := c.ReadUint(int(t - psb.TagChunkMin + 1))
		if err != nil {
			return nil, err
		}
		if idx >= uint64(len(r.chunks)) {
			return nil, &psb.DecodeError{
				Section:  "entries",
				Offset:   pos,
				Expected: fmt.Sprintf("chunk index below %d", len(r.chunks)),
				Found:    fmt.Sprintf("%d", idx),
			}
		}
		return &psbtypes.ChunkRef{Data: r.chunks[idx]}, nil

	case t == psb.TagFloatZero:
		return &psbtypes.FloatZero{}, nil

	case t == psb.TagFloat32:
		v, err := c.ReadUint(4)
		if err != nil {
			return nil, err
		}
		return &psbtypes.Float32{Bits: uint32(v)}, nil

	case t == psb.TagFloat64:
		v, err := c.ReadUint(8)
		if err != nil {
			return nil, err
		}
		return &psbtypes.Float64{Bits: v}, nil

	case (t == psb.TagArray || t == psb.TagMap) && depth >= psb.MaxDepth:
		return nil, &psb.DecodeError{
			Section:  "entries",
			Offset:   pos,
			Expected: fmt.Sprintf("nesting depth below %d", psb.MaxDepth),
			Found:    fmt.Sprintf("%d", depth),
		}

	case t == psb.TagArray:
		offsets, err := psb.ReadVarArray(c)
		if err != nil {
			return nil, fmt.Errorf("failed to read array offsets at 0x%X: %w", pos, err)
		}
		items, err := r.readChildren(c, offsets, depth+1)
		if err != nil {
			return nil, fmt.Errorf("failed to read array at 0x%X: %w", pos, err)
		}
		return &psbtypes.Array{Items: items}, nil

	case t == psb.TagMap:
		nameIdx, err := psb.ReadVarArray(c)
		if err != nil {
			return nil, fmt.Errorf("failed to read map names at 0x%X: %w", pos, err)
		}
		offsets, err := psb.ReadVarArray(c)
		if err != nil {
			return nil, fmt.Errorf("failed to read map offsets at 0x%X: %w", pos, err)
		}
		if len(nameIdx) != len(offsets) {
			return nil, &psb.DecodeError{
				Section:  "entries",
				Offset:   pos,
				Expected: fmt.Sprintf("%d map offsets", len(nameIdx)),
				Found:    fmt.Sprintf("%d", len(offsets)),
			}
		}

		pairs := make([]psbtypes.Pair, len(nameIdx))
		for i, ni := range nameIdx {
			if ni >= uint64(len(r.names)) {
				return nil, &psb.DecodeError{
					Section:  "entries",
					Offset:   pos,
					Expected: fmt.Sprintf("name index below %d", len(r.names)),
					Found:    fmt.Sprintf("%d", ni),
				}
			}
			pairs[i].Name = r.names[ni]
		}

		values, err := r.readChildren(c, offsets, depth+1)
		if err != nil {
			return nil, fmt.Errorf("failed to read map at 0x%X: %w", pos, err)
		}
		for i := range pairs {
			pairs[i].Value = values[i]
		}
		return &psbtypes.Map{Pairs: pairs}, nil

	default:
		return nil, &psb.DecodeError{
			Section:  "entries",
			Offset:   pos,
			Expected: "value tag 1-33",
			Found:    fmt.Sprintf("%d", t),
		}
	}
}

// readChildren decodes the values addressed by an offset table. Offsets are
// relative to the byte right after the table, which is the cursor position.
func (r *PsbReader) readChildren(c *psb.Cursor, offsets []uint64, depth int) ([]psbtypes.Value, error) {
	span := psb.Span{Base: c.Pos(), Limit: c.Len()}
	values := make([]psbtypes.Value, len(offsets))
	for i, off := range offsets {
		pos, err := span.Resolve(off)
		if err != nil {
			return nil, fmt.Errorf("failed to locate child %d: %w", i, err)
		}
		if err := c.Seek(pos); err != nil {
			return nil, err
		}
		if values[i], err = r.readValue(c, depth); err != nil {
			return nil, fmt.Errorf("failed to read child %d: %w", i, err)
		}
	}
	return values, nil
}

// Parse decodes a whole container buffer. The buffer must already have its
// mdf layer removed.
func Parse(buf []byte, logger *slog.Logger) (*psbtypes.Tree, error) {
	reader := NewReader(buf, logger)

	h, err := reader.ReadHeader()
	if err != nil {
		return nil, err
	}
	names, err := reader.ReadNames()
	if err != nil {
		return nil, err
	}
	strs, err := reader.ReadStrings()
	if err != nil {
		return nil, err
	}
	chunks, err := reader.ReadChunks()
	if err != nil {
		return nil, err
	}
	root, err := reader.ReadEntries()
	if err != nil {
		return nil, err
	}

	reader.logger.Info("decoded container",
		"names", len(names),
		"strings", len(strs),
		"chunks", len(chunks),
		"bytes", len(buf),
	)

	return &psbtypes.Tree{
		Type:     h.Type,
		Unknown1: h.Unknown1,
		Names:    names,
		Strings:  strs,
		Chunks:   chunks,
		Root:     root,
	}, nil
}
