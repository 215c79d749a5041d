package packer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/ossyrian/psbtool/internal/psb"
	psbtypes "github.com/ossyrian/psbtool/internal/types"
)

// Options controls how a tree is laid out.
type Options struct {
	// SortNames stores the name table sorted bytewise instead of in the order
	// names are first seen in the tree.
	SortNames bool

	// Align pads every resource in the companion blob to a multiple of Align
	// bytes. Zero or one disables padding.
	Align int
}

// ResourceSource supplies the stored bytes (mdf header included) of the
// resource behind a file_info entry. old is the range recorded in the tree.
type ResourceSource interface {
	Resource(name string, old psbtypes.Range) ([]byte, error)
}

// Relocation records a file_info entry whose range changed during packing.
type Relocation struct {
	Name string
	Old  psbtypes.Range
	New  psbtypes.Range
}

// Result is the output of Encode.
type Result struct {
	Container []byte
	Header    psb.Header

	// Blob is the rebuilt companion blob. It is nil when no ResourceSource
	// was given, in which case file_info ranges are written unchanged.
	Blob []byte

	// Ranges holds the final range of every file_info entry by name.
	Ranges      map[string]psbtypes.Range
	Relocations []Relocation

	Names   []string
	Strings []string
	Chunks  [][]byte
}

type encoder struct {
	b      *Builder
	opts   Options
	src    ResourceSource
	logger *slog.Logger

	blob   []byte
	ranges map[string]psbtypes.Range
	moved  []Relocation
}

// Encode serializes tree into a container buffer. When src is non-nil, the
// companion blob is rebuilt from it and file_info ranges are rewritten to
// match; every range that differs from the one in the tree is logged and
// reported in Result.Relocations.
func Encode(tree *psbtypes.Tree, src ResourceSource, opts Options, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tree == nil || tree.Root == nil {
		return nil, errors.New("cannot encode an empty tree")
	}

	names, err := CollectNames(tree.Root, opts.SortNames)
	if err != nil {
		return nil, fmt.Errorf("failed to collect names: %w", err)
	}
	e := &encoder{
		b:      NewBuilder(names),
		opts:   opts,
		src:    src,
		logger: logger,
		ranges: make(map[string]psbtypes.Range),
	}

	entries, err := e.value(nil, tree.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entries: %w", err)
	}

	h := psb.Header{
		Magic:    psb.Magic,
		Type:     tree.Type,
		Unknown1: tree.Unknown1,
	}
	buf := make([]byte, psb.HeaderSize)

	h.OffsetNames = uint32(len(buf))
	if buf, err = e.b.appendNames(buf); err != nil {
		return nil, err
	}

	stringTable, stringData := e.b.stringSections()
	h.OffsetStrings = uint32(len(buf))
	buf = append(buf, stringTable...)
	h.OffsetStringsData = uint32(len(buf))
	buf = append(buf, stringData...)

	chunkOffsets, chunkLengths, chunkData := e.b.chunkSections()
	h.OffsetChunkOffsets = uint32(len(buf))
	buf = append(buf, chunkOffsets...)
	h.OffsetChunkLengths = uint32(len(buf))
	buf = append(buf, chunkLengths...)
	h.OffsetChunkData = uint32(len(buf))
	buf = append(buf, chunkData...)

	h.OffsetEntries = uint32(len(buf))
	buf = append(buf, entries...)

	copy(buf, h.Bytes())

	logger.Info("encoded container",
		"names", len(e.b.Names()),
		"strings", len(e.b.Strings()),
		"chunks", len(e.b.Chunks()),
		"bytes", len(buf),
		"blob_bytes", len(e.blob),
		"relocations", len(e.moved),
	)

	return &Result{
		Container:   buf,
		Header:      h,
		Blob:        e.blob,
		Ranges:      e.ranges,
		Relocations: e.moved,
		Names:       e.b.Names(),
		Strings:     e.b.Strings(),
		Chunks:      e.b.Chunks(),
	}, nil
}

// CollectNames returns every distinct map key under root, in first-seen
// order or sorted bytewise. Keys must not contain NUL.
func CollectNames(root psbtypes.Value, sorted bool) ([]string, error) {
	var all []string
	err := psbtypes.Walk(root, func(path []string, v psbtypes.Value) error {
		m, ok := v.(*psbtypes.Map)
		if !ok {
			return nil
		}
		for _, p := range m.Pairs {
			if strings.IndexByte(p.Name, 0) >= 0 {
				return fmt.Errorf("name %q at /%s contains NUL", p.Name, strings.Join(path, "/"))
			}
			all = append(all, p.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := lo.Uniq(all)
	if sorted {
		sort.Strings(names)
	}
	return names, nil
}

// value encodes v. path locates v in the tree; the pairs of the root
// file_info map are blob ranges and go through resource first.
func (e *encoder) value(path []string, v psbtypes.Value) ([]byte, error) {
	switch v := v.(type) {
	case *psbtypes.Null:
		tag := v.Tag
		if tag < psb.TagNullMin || tag > psb.TagNullMax {
			tag = psb.TagNullMin
		}
		return []byte{tag}, nil

	case *psbtypes.Int:
		width := max(v.Width, psb.IntWidth(v.Value))
		if width > 8 {
			width = 8
		}
		return psb.AppendUint([]byte{byte(psb.TagIntMin + width)}, v.Value, width), nil

	case *psbtypes.IntArray:
		return psb.AppendVarArray(nil, v.Values), nil

	case *psbtypes.StringRef:
		return refTag(psb.TagStringMin, e.b.AddString(v.Value), path)

	case *psbtypes.ChunkRef:
		return refTag(psb.TagChunkMin, e.b.AddChunk(v.Data), path)

	case *psbtypes.FloatZero:
		return []byte{psb.TagFloatZero}, nil

	case *psbtypes.Float32:
		return psb.AppendUint([]byte{psb.TagFloat32}, uint64(v.Bits), 4), nil

	case *psbtypes.Float64:
		return psb.AppendUint([]byte{psb.TagFloat64}, v.Bits, 8), nil

	case *psbtypes.Array:
		children := make([][]byte, len(v.Items))
		for i, item := range v.Items {
			data, err := e.value(append(path, fmt.Sprint(i)), item)
			if err != nil {
				return nil, err
			}
			children[i] = data
		}
		out := []byte{psb.TagArray}
		return appendChildren(out, children), nil

	case *psbtypes.Map:
		isFileInfo := len(path) == 1 && path[0] == psb.FileInfoKey
		indices := make([]uint64, len(v.Pairs))
		children := make([][]byte, len(v.Pairs))
		for i, p := range v.Pairs {
			idx, err := e.b.NameIndex(p.Name)
			if err != nil {
				return nil, err
			}
			indices[i] = idx

			child := p.Value
			if isFileInfo {
				if child, err = e.resource(p.Name, child); err != nil {
					return nil, err
				}
			}
			data, err := e.value(append(path, p.Name), child)
			if err != nil {
				return nil, err
			}
			children[i] = data
		}
		out := psb.AppendVarArray([]byte{psb.TagMap}, indices)
		return appendChildren(out, children), nil

	case nil:
		return nil, fmt.Errorf("nil value at %v", path)

	default:
		return nil, fmt.Errorf("unsupported value %T at %v", v, path)
	}
}

// resource relocates one file_info entry into the rebuilt blob and returns
// the value to encode in its place.
func (e *encoder) resource(name string, v psbtypes.Value) (psbtypes.Value, error) {
	old, err := psbtypes.AsRange(v)
	if e.src == nil {
		// nothing to relocate; keep whatever the tree holds
		if err == nil {
			e.ranges[name] = old
		}
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid file_info entry %q: %w", name, err)
	}

	data, err := e.src.Resource(name, old)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource %q: %w", name, err)
	}

	r := psbtypes.Range{Offset: uint64(len(e.blob)), Length: uint64(len(data))}
	e.blob = append(e.blob, data...)
	if e.opts.Align > 1 {
		if pad := len(e.blob) % e.opts.Align; pad != 0 {
			e.blob = append(e.blob, make([]byte, e.opts.Align-pad)...)
		}
	}

	e.ranges[name] = r
	if r != old {
		e.logger.Warn("file_info entry relocated",
			"name", name,
			"old_offset", old.Offset,
			"new_offset", r.Offset,
			"old_length", old.Length,
			"new_length", r.Length,
		)
		e.moved = append(e.moved, Relocation{Name: name, Old: old, New: r})
	}
	return r.Value(), nil
}

// refTag encodes a table reference with the smallest index width.
func refTag(base byte, idx uint64, path []string) ([]byte, error) {
	width := psb.VarWidth(idx)
	if width > psb.MaxRefWidth {
		return nil, fmt.Errorf("table index %d at %v does not fit in 4 bytes", idx, path)
	}
	return psb.AppendUint([]byte{base + byte(width) - 1}, idx, width), nil
}

// appendChildren appends the offset table of children followed by their
// concatenated encodings. Offsets are relative to the end of the table.
func appendChildren(dst []byte, children [][]byte) []byte {
	offsets := make([]uint64, len(children))
	var next uint64
	for i, c := range children {
		offsets[i] = next
		next += uint64(len(c))
	}
	dst = psb.AppendVarArray(dst, offsets)
	for _, c := range children {
		dst = append(dst, c...)
	}
	return dst
}
