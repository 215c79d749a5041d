package parser_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/ossyrian/psbtool/internal/parser"
	"github.com/ossyrian/psbtool/internal/psb"
	psbtypes "github.com/ossyrian/psbtool/internal/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// buildContainer lays out a container by hand from its tables and a
// pre-encoded entries section
func buildContainer(t *testing.T, names, strs []string, chunks [][]byte, entries []byte) []byte {
	t.Helper()

	trie, err := psb.BuildNameTrie(names)
	if err != nil {
		t.Fatalf("BuildNameTrie() failed: %v", err)
	}

	var stringOffsets []uint64
	var stringData []byte
	for _, s := range strs {
		stringOffsets = append(stringOffsets, uint64(len(stringData)))
		stringData = append(append(stringData, s...), 0)
	}
	var chunkOffsets, chunkLengths []uint64
	var chunkData []byte
	for _, c := range chunks {
		chunkOffsets = append(chunkOffsets, uint64(len(chunkData)))
		chunkLengths = append(chunkLengths, uint64(len(c)))
		chunkData = append(chunkData, c...)
	}

	var h psb.Header
	h.Magic = psb.Magic
	h.Type = 2
	buf := make([]byte, psb.HeaderSize)

	h.OffsetNames = uint32(len(buf))
	buf = trie.Append(buf)
	h.OffsetStrings = uint32(len(buf))
	buf = psb.AppendVarArray(buf, stringOffsets)
	h.OffsetStringsData = uint32(len(buf))
	buf = append(buf, stringData...)
	h.OffsetChunkOffsets = uint32(len(buf))
	buf = psb.AppendVarArray(buf, chunkOffsets)
	h.OffsetChunkLengths = uint32(len(buf))
	buf = psb.AppendVarArray(buf, chunkLengths)
	h.OffsetChunkData = uint32(len(buf))
	buf = append(buf, chunkData...)
	h.OffsetEntries = uint32(len(buf))
	buf = append(buf, entries...)

	copy(buf, h.Bytes())
	return buf
}

// collection encodes an array (tag 32) or, with names, a map (tag 33)
func collection(names []uint64, children ...[]byte) []byte {
	var out []byte
	if names == nil {
		out = []byte{psb.TagArray}
	} else {
		out = psb.AppendVarArray([]byte{psb.TagMap}, names)
	}
	var offsets []uint64
	var next uint64
	for _, c := range children {
		offsets = append(offsets, next)
		next += uint64(len(c))
	}
	out = psb.AppendVarArray(out, offsets)
	for _, c := range children {
		out = append(out, c...)
	}
	return out
}

func TestParse_StringEntry(t *testing.T) {
	// {"a": "hello"}
	entries := []byte{33, 13, 1, 13, 0, 13, 1, 13, 0, 21, 0}
	buf := buildContainer(t, []string{"a"}, []string{"hello"}, nil, entries)

	tree, err := parser.Parse(buf, discard)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	want := &psbtypes.Map{Pairs: []psbtypes.Pair{
		{Name: "a", Value: &psbtypes.StringRef{Value: "hello"}},
	}}
	if !reflect.DeepEqual(tree.Root, want) {
		t.Errorf("Parse() root = %#v, want %#v", tree.Root, want)
	}
	if tree.Type != 2 || !reflect.DeepEqual(tree.Names, []string{"a"}) || !reflect.DeepEqual(tree.Strings, []string{"hello"}) {
		t.Errorf("Parse() tables = type %d names %q strings %q", tree.Type, tree.Names, tree.Strings)
	}
}

func TestPsbReader_ReadValue(t *testing.T) {
	chunk := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	strs := []string{"zero", "one"}

	tests := []struct {
		name  string
		input []byte
		want  psbtypes.Value
	}{
		{name: "null tag 1", input: []byte{1}, want: &psbtypes.Null{Tag: 1}},
		{name: "null tag 3", input: []byte{3}, want: &psbtypes.Null{Tag: 3}},
		{name: "zero-width int", input: []byte{4}, want: &psbtypes.Int{Value: 0, Width: 0}},
		{name: "two-byte int", input: []byte{6, 0x34, 0x12}, want: &psbtypes.Int{Value: 0x1234, Width: 2}},
		{name: "five-byte int", input: []byte{9, 1, 0, 0, 0, 0x80}, want: &psbtypes.Int{Value: 0x8000000001, Width: 5}},
		{name: "eight-byte int", input: []byte{12, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, want: &psbtypes.Int{Value: 1<<64 - 1, Width: 8}},
		{name: "int array", input: []byte{13, 2, 14, 5, 0, 0, 1}, want: &psbtypes.IntArray{Values: []uint64{5, 256}}},
		{name: "string index 1", input: []byte{21, 1}, want: &psbtypes.StringRef{Value: "one"}},
		{name: "wide string index", input: []byte{22, 0, 0}, want: &psbtypes.StringRef{Value: "zero"}},
		{name: "chunk", input: []byte{25, 0}, want: &psbtypes.ChunkRef{Data: chunk}},
		{name: "float zero", input: []byte{29}, want: &psbtypes.FloatZero{}},
		{name: "float32", input: []byte{30, 0, 0, 0x80, 0x3F}, want: psbtypes.NewFloat32(1)},
		{name: "float64", input: []byte{31, 0, 0, 0, 0, 0, 0, 0xF0, 0x3F}, want: psbtypes.NewFloat64(1)},
		{name: "empty array", input: collection(nil), want: &psbtypes.Array{Items: []psbtypes.Value{}}},
		{
			name:  "nested array",
			input: collection(nil, []byte{4}, collection(nil, []byte{29}), []byte{21, 0}),
			want: &psbtypes.Array{Items: []psbtypes.Value{
				&psbtypes.Int{},
				&psbtypes.Array{Items: []psbtypes.Value{&psbtypes.FloatZero{}}},
				&psbtypes.StringRef{Value: "zero"},
			}},
		},
		{
			name:  "map keeps source order",
			input: collection([]uint64{1, 0}, []byte{5, 7}, []byte{2}),
			want: &psbtypes.Map{Pairs: []psbtypes.Pair{
				{Name: "b", Value: &psbtypes.Int{Value: 7, Width: 1}},
				{Name: "a", Value: &psbtypes.Null{Tag: 2}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := buildContainer(t, []string{"a", "b"}, strs, [][]byte{chunk}, tt.input)
			tree, err := parser.Parse(buf, discard)
			if err != nil {
				t.Fatalf("Parse() failed: %v", err)
			}
			if !reflect.DeepEqual(tree.Root, tt.want) {
				t.Errorf("Parse() root = %#v, want %#v", tree.Root, tt.want)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		input   func(t *testing.T) []byte
		wantErr string
		decode  bool // error must be a *psb.DecodeError
	}{
		{
			name:    "unknown tag 0",
			input:   func(t *testing.T) []byte { return buildContainer(t, nil, nil, nil, []byte{0}) },
			wantErr: "expected value tag 1-33, found 0",
			decode:  true,
		},
		{
			name:    "unknown tag 34",
			input:   func(t *testing.T) []byte { return buildContainer(t, nil, nil, nil, []byte{34}) },
			wantErr: "expected value tag 1-33, found 34",
			decode:  true,
		},
		{
			name:    "string index out of range",
			input:   func(t *testing.T) []byte { return buildContainer(t, nil, []string{"x"}, nil, []byte{21, 1}) },
			wantErr: "string index below 1",
			decode:  true,
		},
		{
			name:    "chunk index out of range",
			input:   func(t *testing.T) []byte { return buildContainer(t, nil, nil, nil, []byte{25, 0}) },
			wantErr: "chunk index below 0",
			decode:  true,
		},
		{
			name: "name index out of range",
			input: func(t *testing.T) []byte {
				return buildContainer(t, []string{"a"}, nil, nil, collection([]uint64{3}, []byte{1}))
			},
			wantErr: "name index below 1",
			decode:  true,
		},
		{
			name: "child offset outside buffer",
			input: func(t *testing.T) []byte {
				entries := append([]byte{psb.TagArray}, psb.AppendVarArray(nil, []uint64{200})...)
				return buildContainer(t, nil, nil, nil, append(entries, 1))
			},
			wantErr: "failed to locate child 0",
			decode:  true,
		},
		{
			name: "truncated int",
			input: func(t *testing.T) []byte {
				return buildContainer(t, nil, nil, nil, []byte{8, 1, 2})
			},
			wantErr: "expected 4 bytes",
			decode:  true,
		},
		{
			name: "bad magic",
			input: func(t *testing.T) []byte {
				buf := buildContainer(t, nil, nil, nil, []byte{1})
				copy(buf, "XSB\x00")
				return buf
			},
			wantErr: "not a PSB container",
		},
		{
			name: "entries offset past end",
			input: func(t *testing.T) []byte {
				buf := buildContainer(t, nil, nil, nil, []byte{1})
				binary.LittleEndian.PutUint32(buf[36:], uint32(len(buf)))
				return buf
			},
			wantErr: "invalid header",
			decode:  true,
		},
		{
			name:    "truncated header",
			input:   func(t *testing.T) []byte { return []byte("PSB\x00\x02") },
			wantErr: "failed to read header",
			decode:  true,
		},
		{
			name: "nesting too deep",
			input: func(t *testing.T) []byte {
				return buildContainer(t, nil, nil, nil, nested(psb.MaxDepth+1))
			},
			wantErr: fmt.Sprintf("expected nesting depth below %d, found %d", psb.MaxDepth, psb.MaxDepth),
			decode:  true,
		},
		{
			name: "chunk past end of buffer",
			input: func(t *testing.T) []byte {
				buf := buildContainer(t, nil, nil, [][]byte{{1, 2}}, []byte{1})
				// bump the only chunk length from 2 to 200
				off := binary.LittleEndian.Uint32(buf[28:])
				buf[off+3] = 200
				return buf
			},
			wantErr: "chunk 0 inside buffer",
			decode:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(tt.input(t), discard)
			if err == nil {
				t.Fatal("Parse() succeeded unexpectedly, wanted error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, should contain %q", err, tt.wantErr)
			}
			var de *psb.DecodeError
			if tt.decode && !errors.As(err, &de) {
				t.Errorf("Parse() error = %T, want *psb.DecodeError in chain", err)
			}
		})
	}
}

// nested wraps a null in n single-item arrays
func nested(n int) []byte {
	entries := []byte{psb.TagNullMin}
	for range n {
		entries = collection(nil, entries)
	}
	return entries
}

func TestParse_MaxDepth(t *testing.T) {
	tree, err := parser.Parse(buildContainer(t, nil, nil, nil, nested(psb.MaxDepth)), discard)
	if err != nil {
		t.Fatalf("Parse() failed at the nesting limit: %v", err)
	}

	depth := 0
	v := tree.Root
	for {
		a, ok := v.(*psbtypes.Array)
		if !ok {
			break
		}
		depth++
		v = a.Items[0]
	}
	if depth != psb.MaxDepth {
		t.Errorf("decoded depth = %d, want %d", depth, psb.MaxDepth)
	}
}

func TestPsbReader_ReadHeader(t *testing.T) {
	buf := buildContainer(t, []string{"a"}, []string{"hello"}, nil, []byte{1})
	r := parser.NewReader(buf, discard)

	h, err := r.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader() failed: %v", err)
	}
	if h.Magic != psb.Magic || h.OffsetNames != psb.HeaderSize {
		t.Errorf("ReadHeader() = %+v", h)
	}
	if !bytes.Equal(h.Bytes(), buf[:psb.HeaderSize]) {
		t.Error("header does not re-encode to the same bytes")
	}
	if int(h.OffsetEntries) != len(buf)-1 {
		t.Errorf("entries offset = %d, want %d", h.OffsetEntries, len(buf)-1)
	}
}
