package packer

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/ossyrian/psbtool/internal/psb"
)

// Builder owns the tables a container is packed from. Every add method
// returns a stable index: adding the same content twice returns the same index.
type Builder struct {
	names     []string
	nameIndex map[string]uint64

	strings     []string
	stringIndex map[string]uint64

	chunks     [][]byte
	chunkIndex map[uint64][]uint64 // xxhash of content -> candidate indices
}

// NewBuilder returns a builder whose name table is fixed to names. Names are
// not added during encoding: a map key missing from the table is an error.
func NewBuilder(names []string) *Builder {
	b := &Builder{
		names:       names,
		nameIndex:   make(map[string]uint64, len(names)),
		stringIndex: make(map[string]uint64),
		chunkIndex:  make(map[uint64][]uint64),
	}
	for i, n := range names {
		b.nameIndex[n] = uint64(i)
	}
	return b
}

// NameIndex returns the index of a name in the fixed name table.
func (b *Builder) NameIndex(name string) (uint64, error) {
	i, ok := b.nameIndex[name]
	if !ok {
		return 0, fmt.Errorf("name %q missing from name table", name)
	}
	return i, nil
}

// AddString returns the index of s, appending it on first use.
func (b *Builder) AddString(s string) uint64 {
	if i, ok := b.stringIndex[s]; ok {
		return i
	}
	i := uint64(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIndex[s] = i
	return i
}

// AddChunk returns the index of data, appending it on first use. Identical
// payloads share one index.
func (b *Builder) AddChunk(data []byte) uint64 {
	h := xxhash.Sum64(data)
	for _, i := range b.chunkIndex[h] {
		if bytes.Equal(b.chunks[i], data) {
			return i
		}
	}
	i := uint64(len(b.chunks))
	b.chunks = append(b.chunks, data)
	b.chunkIndex[h] = append(b.chunkIndex[h], i)
	return i
}

// Names returns the name table.
func (b *Builder) Names() []string { return b.names }

// Strings returns the string table in index order.
func (b *Builder) Strings() []string { return b.strings }

// Chunks returns the chunk table in index order.
func (b *Builder) Chunks() [][]byte { return b.chunks }

// appendNames appends the names section.
func (b *Builder) appendNames(dst []byte) ([]byte, error) {
	trie, err := psb.BuildNameTrie(b.names)
	if err != nil {
		return nil, fmt.Errorf("failed to build name trie: %w", err)
	}
	return trie.Append(dst), nil
}

// stringSections returns the string offset table and the string data blob.
func (b *Builder) stringSections() (table, data []byte) {
	offsets := make([]uint64, len(b.strings))
	for i, s := range b.strings {
		offsets[i] = uint64(len(data))
		data = append(data, s...)
		data = append(data, 0)
	}
	return psb.AppendVarArray(nil, offsets), data
}

// chunkSections returns the chunk offset table, the chunk length table and
// the chunk data blob.
func (b *Builder) chunkSections() (offsetTable, lengthTable, data []byte) {
	offsets := make([]uint64, len(b.chunks))
	lengths := make([]uint64, len(b.chunks))
	for i, c := range b.chunks {
		offsets[i] = uint64(len(data))
		lengths[i] = uint64(len(c))
		data = append(data, c...)
	}
	return psb.AppendVarArray(nil, offsets), psb.AppendVarArray(nil, lengths), data
}
