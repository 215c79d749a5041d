package psbtypes

import (
	"fmt"
	"math"
)

// Kind identifies the variant of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindIntArray
	KindString
	KindChunk
	KindFloatZero
	KindFloat32
	KindFloat64
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindInt:
		return "Int"
	case KindIntArray:
		return "IntArray"
	case KindString:
		return "String"
	case KindChunk:
		return "Chunk"
	case KindFloatZero:
		return "FloatZero"
	case KindFloat32:
		return "Float32"
	case KindFloat64:
		return "Float64"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	default:
		return "Unknown"
	}
}

// Value is a node of the entries tree. The set of implementations is closed:
// only the types in this package satisfy it.
type Value interface {
	Kind() Kind
	isValue()
}

// Null is a payload-free marker. Tag is the original tag byte (1-3), kept
// as-is because its meaning is not known.
type Null struct {
	Tag byte
}

// Int is an unsigned little-endian integer of 0-8 bytes.
//
// Width is the number of bytes the value was stored with. Zero means "pick the
// smallest width", which is what the encoder does for constructed values; a
// decoded width is kept so fixed-width bit patterns survive a round trip.
type Int struct {
	Value uint64
	Width int
}

// IntArray is a counted array of unsigned integers of uniform width.
type IntArray struct {
	Values []uint64
}

// StringRef is a string stored in the string table and referenced by index.
type StringRef struct {
	Value string
}

// ChunkRef is an opaque payload stored in the chunk table and referenced by index.
type ChunkRef struct {
	Data []byte
}

// FloatZero is a payload-free 0.0.
type FloatZero struct{}

// Float32 is a 4-byte IEEE-754 value. Bits holds the raw pattern so NaN
// payloads are preserved.
type Float32 struct {
	Bits uint32
}

// Float64 is an 8-byte IEEE-754 value.
type Float64 struct {
	Bits uint64
}

// Array is an ordered sequence of values.
type Array struct {
	Items []Value
}

// Map is an ordered sequence of named values. Order is significant and is
// reproduced on encode.
type Map struct {
	Pairs []Pair
}

// Pair is one entry of a Map.
type Pair struct {
	Name  string
	Value Value
}

func (*Null) Kind() Kind      { return KindNull }
func (*Int) Kind() Kind       { return KindInt }
func (*IntArray) Kind() Kind  { return KindIntArray }
func (*StringRef) Kind() Kind { return KindString }
func (*ChunkRef) Kind() Kind  { return KindChunk }
func (*FloatZero) Kind() Kind { return KindFloatZero }
func (*Float32) Kind() Kind   { return KindFloat32 }
func (*Float64) Kind() Kind   { return KindFloat64 }
func (*Array) Kind() Kind     { return KindArray }
func (*Map) Kind() Kind       { return KindMap }

func (*Null) isValue()      {}
func (*Int) isValue()       {}
func (*IntArray) isValue()  {}
func (*StringRef) isValue() {}
func (*ChunkRef) isValue()  {}
func (*FloatZero) isValue() {}
func (*Float32) isValue()   {}
func (*Float64) isValue()   {}
func (*Array) isValue()     {}
func (*Map) isValue()       {}

// NewFloat32 returns a Float32 holding f.
func NewFloat32(f float32) *Float32 { return &Float32{Bits: math.Float32bits(f)} }

// NewFloat64 returns a Float64 holding f.
func NewFloat64(f float64) *Float64 { return &Float64{Bits: math.Float64bits(f)} }

// Float returns the value as a float32.
func (f *Float32) Float() float32 { return math.Float32frombits(f.Bits) }

// Float returns the value as a float64.
func (f *Float64) Float() float64 { return math.Float64frombits(f.Bits) }

// Get returns the value of the first pair with the given name.
func (m *Map) Get(name string) (Value, bool) {
	for _, p := range m.Pairs {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of the first pair with the given name, or appends a
// new pair when there is none.
func (m *Map) Set(name string, v Value) {
	for i := range m.Pairs {
		if m.Pairs[i].Name == name {
			m.Pairs[i].Value = v
			return
		}
	}
	m.Pairs = append(m.Pairs, Pair{Name: name, Value: v})
}

// Range is an [offset, length) range inside the companion blob, as stored in
// a file_info entry.
type Range struct {
	Offset uint64
	Length uint64
}

// AsRange interprets v as a file_info value: an Array of exactly two Ints.
func AsRange(v Value) (Range, error) {
	arr, ok := v.(*Array)
	if !ok {
		return Range{}, fmt.Errorf("file_info value is %s, expected Array", kindOf(v))
	}
	if len(arr.Items) != 2 {
		return Range{}, fmt.Errorf("file_info array has %d items, expected 2", len(arr.Items))
	}
	off, ok := arr.Items[0].(*Int)
	if !ok {
		return Range{}, fmt.Errorf("file_info offset is %s, expected Int", kindOf(arr.Items[0]))
	}
	length, ok := arr.Items[1].(*Int)
	if !ok {
		return Range{}, fmt.Errorf("file_info length is %s, expected Int", kindOf(arr.Items[1]))
	}
	return Range{Offset: off.Value, Length: length.Value}, nil
}

// Value returns the file_info form of r.
func (r Range) Value() *Array {
	return &Array{Items: []Value{&Int{Value: r.Offset}, &Int{Value: r.Length}}}
}

func kindOf(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}
