package nbt

import (
	"encoding/binary"
	"fmt"
)

// Lists and compounds nested deeper than this are rejected instead of recursed into.
const maxDepth = 512

// Reader gives positioned access to an encoded tag tree. The data is never modified, so one
// Reader may be shared by any number of goroutines.
type Reader struct {
	data []byte
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len is the size of the underlying data.
func (r *Reader) Len() int { return len(r.data) }

func (r *Reader) need(pos, n int) error {
	if pos < 0 || n < 0 || pos > len(r.data)-n {
		return ErrTruncated
	}
	return nil
}

// Root reads the header of the root tag, which must be a compound, and returns the position of
// its payload along with its name.
func (r *Reader) Root() (payload int, name string, err error) {
	kind, name, payload, err := r.header(0)
	if err != nil {
		return 0, "", err
	}
	if kind != TagCompound {
		return 0, "", fmt.Errorf("%w: root is %s", ErrWrongKind, TagName(kind))
	}
	return payload, name, nil
}

// header reads a named tag header at pos: the type byte and, unless it is TagEnd, the name.
func (r *Reader) header(pos int) (kind byte, name string, payload int, err error) {
	if err = r.need(pos, 1); err != nil {
		return
	}
	kind = r.data[pos]
	pos++
	if kind == TagEnd {
		return kind, "", pos, nil
	}
	if kind > TagLongArray {
		return 0, "", 0, fmt.Errorf("%w: %d at %d", ErrUnknownTag, kind, pos-1)
	}
	name, payload, err = r.String(pos)
	return
}

// Next reads the entry of a compound at pos. It returns the entry's type, name and payload
// position; at the end of the compound it returns TagEnd and the position after the end marker.
func (r *Reader) Next(pos int) (kind byte, name string, payload int, err error) {
	return r.header(pos)
}

// Child looks for the direct child of the compound whose payload starts at compound and returns
// the child's payload position. The search never leaves the compound.
func (r *Reader) Child(compound int, kind byte, name string) (int, error) {
	pos := compound
	for {
		k, n, payload, err := r.header(pos)
		if err != nil {
			return 0, err
		}
		if k == TagEnd {
			return 0, fmt.Errorf("%w: %s %q", ErrTagNotFound, TagName(kind), name)
		}
		if k == kind && n == name {
			return payload, nil
		}
		if pos, err = r.skip(k, payload, 0); err != nil {
			return 0, err
		}
	}
}

// Seek searches depth first for a named tag of the given kind inside the compound payload that
// starts at pos, descending into nested compounds and lists of compounds, and never looking at
// bytes at or after end. It returns the payload position of the first match.
func (r *Reader) Seek(pos, end int, kind byte, name string) (int, error) {
	if end > len(r.data) || end < 0 {
		end = len(r.data)
	}
	found, _, err := r.seekCompound(pos, end, kind, name, 0)
	if err != nil {
		return 0, err
	}
	if found < 0 {
		return 0, fmt.Errorf("%w: %s %q", ErrTagNotFound, TagName(kind), name)
	}
	return found, nil
}

// seekCompound returns the payload of the match (or -1) and the position after the compound.
func (r *Reader) seekCompound(pos, end int, kind byte, name string, depth int) (int, int, error) {
	if depth > maxDepth {
		return -1, 0, ErrTooDeep
	}
	for {
		if pos >= end {
			return -1, pos, ErrTruncated
		}
		k, n, payload, err := r.header(pos)
		if err != nil {
			return -1, 0, err
		}
		if k == TagEnd {
			return -1, payload, nil
		}
		if k == kind && n == name {
			return payload, 0, nil
		}
		switch k {
		case TagCompound:
			found, after, err := r.seekCompound(payload, end, kind, name, depth+1)
			if err != nil || found >= 0 {
				return found, 0, err
			}
			pos = after
		case TagList:
			elem, count, first, err := r.List(payload)
			if err != nil {
				return -1, 0, err
			}
			if elem != TagCompound {
				if pos, err = r.skip(k, payload, depth); err != nil {
					return -1, 0, err
				}
				continue
			}
			pos = first
			for i := 0; i < count; i++ {
				found, after, err := r.seekCompound(pos, end, kind, name, depth+1)
				if err != nil || found >= 0 {
					return found, 0, err
				}
				pos = after
			}
		default:
			if pos, err = r.skip(k, payload, depth); err != nil {
				return -1, 0, err
			}
		}
	}
}

// Skip returns the position just past a payload of the given kind starting at pos.
func (r *Reader) Skip(kind byte, pos int) (int, error) {
	return r.skip(kind, pos, 0)
}

func (r *Reader) skip(kind byte, pos, depth int) (int, error) {
	if depth > maxDepth {
		return 0, ErrTooDeep
	}
	var fixed int
	switch kind {
	case TagByte:
		fixed = 1
	case TagShort:
		fixed = 2
	case TagInt, TagFloat:
		fixed = 4
	case TagLong, TagDouble:
		fixed = 8
	case TagByteArray, TagIntArray, TagLongArray:
		n, next, err := r.length(pos)
		if err != nil {
			return 0, err
		}
		width := 1
		switch kind {
		case TagIntArray:
			width = 4
		case TagLongArray:
			width = 8
		}
		if n > (len(r.data)-next)/width {
			return 0, ErrTruncated
		}
		return next + n*width, nil
	case TagString:
		_, next, err := r.String(pos)
		return next, err
	case TagList:
		elem, count, next, err := r.List(pos)
		if err != nil {
			return 0, err
		}
		for i := 0; i < count; i++ {
			if next, err = r.skip(elem, next, depth+1); err != nil {
				return 0, err
			}
		}
		return next, nil
	case TagCompound:
		for {
			k, _, payload, err := r.header(pos)
			if err != nil {
				return 0, err
			}
			if k == TagEnd {
				return payload, nil
			}
			if pos, err = r.skip(k, payload, depth+1); err != nil {
				return 0, err
			}
		}
	default:
		return 0, fmt.Errorf("%w: %d at %d", ErrUnknownTag, kind, pos)
	}
	if err := r.need(pos, fixed); err != nil {
		return 0, err
	}
	return pos + fixed, nil
}

// End returns the position just past the end marker of the compound whose payload starts at pos.
func (r *Reader) End(compound int) (int, error) {
	return r.skip(TagCompound, compound, 0)
}

// List reads a list header: element type and count, and the position of the first element.
func (r *Reader) List(pos int) (elem byte, count int, first int, err error) {
	if err = r.need(pos, 5); err != nil {
		return
	}
	elem = r.data[pos]
	count, first, err = r.length(pos + 1)
	if err != nil {
		return 0, 0, 0, err
	}
	if elem > TagLongArray {
		return 0, 0, 0, fmt.Errorf("%w: list of %d at %d", ErrUnknownTag, elem, pos)
	}
	if elem == TagEnd && count > 0 {
		return 0, 0, 0, fmt.Errorf("%w: list of End with %d entries", ErrWrongKind, count)
	}
	return elem, count, first, nil
}

func (r *Reader) length(pos int) (int, int, error) {
	v, next, err := r.Int(pos)
	if err != nil {
		return 0, 0, err
	}
	if v < 0 {
		return 0, 0, ErrBadLength
	}
	return int(v), next, nil
}

func (r *Reader) Byte(pos int) (int8, int, error) {
	if err := r.need(pos, 1); err != nil {
		return 0, 0, err
	}
	return int8(r.data[pos]), pos + 1, nil
}

func (r *Reader) Short(pos int) (int16, int, error) {
	if err := r.need(pos, 2); err != nil {
		return 0, 0, err
	}
	return int16(binary.BigEndian.Uint16(r.data[pos:])), pos + 2, nil
}

func (r *Reader) Int(pos int) (int32, int, error) {
	if err := r.need(pos, 4); err != nil {
		return 0, 0, err
	}
	return int32(binary.BigEndian.Uint32(r.data[pos:])), pos + 4, nil
}

func (r *Reader) Long(pos int) (int64, int, error) {
	if err := r.need(pos, 8); err != nil {
		return 0, 0, err
	}
	return int64(binary.BigEndian.Uint64(r.data[pos:])), pos + 8, nil
}

// String reads a string payload: an unsigned 16-bit length and that many bytes.
func (r *Reader) String(pos int) (string, int, error) {
	if err := r.need(pos, 2); err != nil {
		return "", 0, err
	}
	n := int(binary.BigEndian.Uint16(r.data[pos:]))
	pos += 2
	if err := r.need(pos, n); err != nil {
		return "", 0, err
	}
	return string(r.data[pos : pos+n]), pos + n, nil
}

// ByteArray returns a view of a byte array payload.
func (r *Reader) ByteArray(pos int) ([]byte, int, error) {
	n, next, err := r.length(pos)
	if err != nil {
		return nil, 0, err
	}
	if err := r.need(next, n); err != nil {
		return nil, 0, err
	}
	return r.data[next : next+n], next + n, nil
}

// LongArray decodes a long array payload. The stored words are big-endian; the returned values
// are in host order.
func (r *Reader) LongArray(pos int) ([]uint64, int, error) {
	n, next, err := r.length(pos)
	if err != nil {
		return nil, 0, err
	}
	if n > (len(r.data)-next)/8 {
		return nil, 0, ErrTruncated
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(r.data[next+8*i:])
	}
	return words, next + 8*n, nil
}
