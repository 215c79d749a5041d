package psb

import (
	"fmt"

	"github.com/samber/lo"
)

// Cursor reads little-endian values from a fully buffered container.
// Every read is bounds-checked and reports a DecodeError naming the section.
type Cursor struct {
	buf     []byte
	pos     int
	section string
}

// NewCursor returns a cursor over buf positioned at pos.
func NewCursor(buf []byte, section string, pos int) (*Cursor, error) {
	c := &Cursor{buf: buf, section: section}
	if err := c.Seek(pos); err != nil {
		return nil, err
	}
	return c, nil
}

// Pos returns the absolute position of the cursor.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the size of the underlying buffer.
func (c *Cursor) Len() int { return len(c.buf) }

// Seek moves the cursor to an absolute position. Seeking to the end of the
// buffer is allowed; reading from there is not.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return c.errorf(pos, "position inside buffer", fmt.Sprintf("0x%X of 0x%X", pos, len(c.buf)))
	}
	c.pos = pos
	return nil
}

// Peek returns the next byte without consuming it.
func (c *Cursor) Peek() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, c.errorf(c.pos, "1 byte", "end of buffer")
	}
	return c.buf[c.pos], nil
}

// ReadByte consumes one byte.
func (c *Cursor) ReadByte() (byte, error) {
	b, err := c.Peek()
	if err != nil {
		return 0, err
	}
	c.pos++
	return b, nil
}

// ReadBytes consumes n bytes. The returned slice aliases the buffer.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > len(c.buf)-c.pos {
		return nil, c.errorf(c.pos, fmt.Sprintf("%d bytes", n), fmt.Sprintf("%d bytes remaining", len(c.buf)-c.pos))
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadUint consumes an unsigned little-endian integer of width bytes (0-8).
func (c *Cursor) ReadUint(width int) (uint64, error) {
	if width < 0 || width > maxIntWidth {
		return 0, c.errorf(c.pos, "integer width 0-8", fmt.Sprintf("%d", width))
	}
	b, err := c.ReadBytes(width)
	if err != nil {
		return 0, err
	}
	return decodeUint(b), nil
}

// ReadCString consumes a NUL-terminated string, without the terminator.
func (c *Cursor) ReadCString() (string, error) {
	start := c.pos
	for i := start; i < len(c.buf); i++ {
		if c.buf[i] == 0 {
			c.pos = i + 1
			return string(c.buf[start:i]), nil
		}
	}
	return "", c.errorf(start, "NUL-terminated string", "end of buffer")
}

func (c *Cursor) errorf(offset int, expected, found string) *DecodeError {
	return &DecodeError{
		Section:  c.section,
		Offset:   offset,
		Expected: expected,
		Found:    found,
	}
}

// Span anchors offsets that are relative to a fixed base position, such as
// the children of an array or map, which are addressed relative to the byte
// immediately after their offset table.
type Span struct {
	Base  int
	Limit int
}

// Resolve converts a relative offset into an absolute position inside the span.
func (s Span) Resolve(rel uint64) (int, error) {
	if rel >= uint64(s.Limit-s.Base) || s.Base >= s.Limit {
		return 0, &DecodeError{
			Section:  "span",
			Offset:   s.Base,
			Expected: fmt.Sprintf("relative offset below 0x%X", s.Limit-s.Base),
			Found:    fmt.Sprintf("0x%X", rel),
		}
	}
	return s.Base + int(rel), nil
}

// ReadVarArray reads a counted integer array.
//
// Layout:
//
//	[count width + 12][count (LE)][element width + 12][elements (LE) ...]
//
// Both widths must be in the range 1-8.
func ReadVarArray(c *Cursor) ([]uint64, error) {
	start := c.Pos()

	countWidth, err := c.readWidth()
	if err != nil {
		return nil, fmt.Errorf("failed to read array count width: %w", err)
	}
	count, err := c.ReadUint(countWidth)
	if err != nil {
		return nil, fmt.Errorf("failed to read array count: %w", err)
	}
	valueWidth, err := c.readWidth()
	if err != nil {
		return nil, fmt.Errorf("failed to read array element width: %w", err)
	}

	remaining := uint64(c.Len() - c.Pos())
	if count > remaining/uint64(valueWidth) {
		return nil, c.errorf(start,
			fmt.Sprintf("%d elements of %d bytes", count, valueWidth),
			fmt.Sprintf("%d bytes remaining", remaining))
	}

	values := make([]uint64, count)
	for i := range values {
		if values[i], err = c.ReadUint(valueWidth); err != nil {
			return nil, fmt.Errorf("failed to read array element %d: %w", i, err)
		}
	}
	return values, nil
}

func (c *Cursor) readWidth() (int, error) {
	pos := c.Pos()
	b, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	w := int(b) - varWidthBias
	if w < 1 || w > maxVarWidth {
		return 0, c.errorf(pos, "width tag 13-20", fmt.Sprintf("%d", b))
	}
	return w, nil
}

// AppendVarArray appends the encoded form of values to dst using the
// smallest widths that represent the count and the largest element.
func AppendVarArray(dst []byte, values []uint64) []byte {
	count := uint64(len(values))
	countWidth := VarWidth(count)
	dst = append(dst, byte(countWidth+varWidthBias))
	dst = AppendUint(dst, count, countWidth)

	valueWidth := VarWidth(lo.Max(values))
	dst = append(dst, byte(valueWidth+varWidthBias))
	for _, v := range values {
		dst = AppendUint(dst, v, valueWidth)
	}
	return dst
}

// VarWidth returns the smallest number of bytes (at least 1) that holds v.
func VarWidth(v uint64) int {
	return max(IntWidth(v), 1)
}

// IntWidth returns the smallest number of bytes that holds v; zero needs none.
func IntWidth(v uint64) int {
	w := 0
	for v != 0 {
		w++
		v >>= 8
	}
	return w
}

// AppendUint appends v as a little-endian integer of exactly width bytes.
func AppendUint(dst []byte, v uint64, width int) []byte {
	for i := 0; i < width; i++ {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

func decodeUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
