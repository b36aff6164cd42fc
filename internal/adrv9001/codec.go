package adrv9001

import (
	"fmt"
)

// Field is one little-endian integer of a firmware parameter block.
type Field struct {
	Name   string // empty for reserved bytes, always packed as zero
	Offset int    // byte offset, or -1 to follow the previous field
	Width  int    // 1, 2, 4 or 8
}

// U8, U16, U32 and U64 declare a field that follows the previous one.
func U8(name string) Field  { return Field{Name: name, Offset: -1, Width: 1} }
func U16(name string) Field { return Field{Name: name, Offset: -1, Width: 2} }
func U32(name string) Field { return Field{Name: name, Offset: -1, Width: 4} }
func U64(name string) Field { return Field{Name: name, Offset: -1, Width: 8} }

// Reserved declares n zero bytes.
func Reserved(n int) Field { return Field{Offset: -1, Width: n} }

// at pins the field to an explicit offset.
func (f Field) at(offset int) Field {
	f.Offset = offset
	return f
}

const lengthHeaderSize = 4

// Layout is an ordered, resolved list of fields.
type Layout struct {
	fields       []Field
	index        map[string]int
	size         int
	lengthHeader bool
}

// NewLayout resolves field offsets. Overlapping fields or bad widths are
// programming errors and panic.
func NewLayout(fields ...Field) *Layout {
	return newLayout(false, fields)
}

// NewConfigLayout is NewLayout with a 4-byte length header in front. Pack
// fills the header with the size of the rest of the block.
func NewConfigLayout(fields ...Field) *Layout {
	return newLayout(true, fields)
}

func newLayout(header bool, fields []Field) *Layout {
	l := &Layout{index: make(map[string]int), lengthHeader: header}
	next := 0
	if header {
		next = lengthHeaderSize
	}
	for _, f := range fields {
		if f.Offset < 0 {
			f.Offset = next
		}
		if f.Offset < next {
			panic(fmt.Sprintf("adrv9001: field %q at offset %d overlaps previous field ending at %d", f.Name, f.Offset, next))
		}
		if f.Name != "" {
			switch f.Width {
			case 1, 2, 4, 8:
			default:
				panic(fmt.Sprintf("adrv9001: field %q has unsupported width %d", f.Name, f.Width))
			}
			if _, dup := l.index[f.Name]; dup {
				panic(fmt.Sprintf("adrv9001: duplicate field %q", f.Name))
			}
			l.index[f.Name] = len(l.fields)
		}
		l.fields = append(l.fields, f)
		next = f.Offset + f.Width
	}
	l.size = next
	return l
}

// Size is the packed size in bytes, length header included.
func (l *Layout) Size() int { return l.size }

// BodySize is the size without the length header. Config reads return
// blocks of this size.
func (l *Layout) BodySize() int {
	if l.lengthHeader {
		return l.size - lengthHeaderSize
	}
	return l.size
}

// Values holds field values by name.
type Values map[string]uint64

func (v Values) U8(name string) uint8   { return uint8(v[name]) }
func (v Values) U16(name string) uint16 { return uint16(v[name]) }
func (v Values) U32(name string) uint32 { return uint32(v[name]) }
func (v Values) U64(name string) uint64 { return v[name] }
func (v Values) Bool(name string) bool  { return v[name] != 0 }

func boolValue(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Pack encodes values. Unknown names or values wider than their field are
// rejected; missing fields pack as zero.
func (l *Layout) Pack(values Values) ([]byte, error) {
	for name, val := range values {
		i, ok := l.index[name]
		if !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		if w := l.fields[i].Width; w < 8 && val>>(8*uint(w)) != 0 {
			return nil, fmt.Errorf("value %d does not fit %d-byte field %q", val, w, name)
		}
	}

	buf := make([]byte, l.size)
	if l.lengthHeader {
		putLE(buf[:lengthHeaderSize], uint64(l.size-lengthHeaderSize))
	}
	for _, f := range l.fields {
		if f.Name == "" {
			continue
		}
		putLE(buf[f.Offset:f.Offset+f.Width], values[f.Name])
	}
	return buf, nil
}

// Unpack decodes a full block as produced by Pack.
func (l *Layout) Unpack(buf []byte) (Values, error) {
	return l.unpack(buf, 0, l.size)
}

// UnpackBody decodes a block returned without its length header.
func (l *Layout) UnpackBody(buf []byte) (Values, error) {
	if !l.lengthHeader {
		return l.Unpack(buf)
	}
	return l.unpack(buf, lengthHeaderSize, l.BodySize())
}

func (l *Layout) unpack(buf []byte, base, need int) (Values, error) {
	if len(buf) < need {
		return nil, fmt.Errorf("buffer of %d bytes is shorter than layout size %d", len(buf), need)
	}
	values := make(Values, len(l.index))
	for _, f := range l.fields {
		if f.Name == "" {
			continue
		}
		off := f.Offset - base
		values[f.Name] = getLE(buf[off : off+f.Width])
	}
	return values, nil
}

func putLE(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
