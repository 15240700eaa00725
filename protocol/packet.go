// Package protocol implements the network framing: varints, a bounded packet buffer with typed
// accessors, header parsing and frame finalization.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/astei/chowder/fault"
)

// DefaultMaxLength bounds a whole frame: the largest length a three byte varint can declare plus
// the three bytes of that varint.
const DefaultMaxLength = 1<<21 - 1 + 3

var (
	ErrBufferOverflow  = fmt.Errorf("%w: packet buffer full", fault.ErrResourceLimit)
	ErrPacketTooLarge  = fmt.Errorf("%w: declared packet length above limit", fault.ErrResourceLimit)
	ErrStringTooLong   = fmt.Errorf("%w: string longer than allowed", fault.ErrResourceLimit)
	ErrPositionRange   = fmt.Errorf("%w: position outside the packable range", fault.ErrResourceLimit)
	ErrEndOfBuffer     = fmt.Errorf("%w: end of packet buffer", fault.ErrShortRead)
	ErrTruncatedBody   = fmt.Errorf("%w: packet body shorter than declared", fault.ErrShortRead)
	ErrLengthMismatch  = fmt.Errorf("%w: declared length exceeds remaining bytes", fault.ErrMalformedInput)
	ErrMalformedLength = fmt.Errorf("%w: invalid declared length", fault.ErrMalformedInput)
	ErrInvalidString   = fmt.Errorf("%w: string is not valid UTF-8", fault.ErrMalformedInput)

	// ErrWrongMode is returned when a read-mode packet is written to or the other way around.
	ErrWrongMode = errors.New("protocol: operation not valid in this packet mode")
)

type mode uint8

const (
	modeWrite mode = iota
	modeRead
	modeFramed
)

// Packet is a single message buffer. It is either being written (and later framed) or being read;
// the two are never mixed. A Packet belongs to one connection at a time.
type Packet struct {
	ID int32

	buf    []byte
	cursor int
	max    int
	mode   mode
}

// NewPacket creates an empty packet in write mode. maxLength bounds the frame it can produce;
// values <= 0 select DefaultMaxLength.
func NewPacket(id int32, maxLength int) *Packet {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Packet{ID: id, max: maxLength}
}

// Reset returns the packet to write mode with an empty body, keeping its backing array.
func (p *Packet) Reset(id int32) {
	p.ID = id
	p.buf = p.buf[:0]
	p.cursor = 0
	p.mode = modeWrite
}

// Len is the number of bytes held: the body, or the whole frame once finalized.
func (p *Packet) Len() int { return len(p.buf) }

// Remaining is the number of unread body bytes in read mode.
func (p *Packet) Remaining() int { return len(p.buf) - p.cursor }

// Bytes returns the body, or the complete frame after Finalize. The slice aliases the buffer.
func (p *Packet) Bytes() []byte { return p.buf }

// Framed reports whether Finalize has run.
func (p *Packet) Framed() bool { return p.mode == modeFramed }

func (p *Packet) reserve(n int) error {
	if p.mode != modeWrite {
		return ErrWrongMode
	}
	if len(p.buf)+n > p.max {
		return ErrBufferOverflow
	}
	return nil
}

func (p *Packet) WriteByte(b byte) error {
	if err := p.reserve(1); err != nil {
		return err
	}
	p.buf = append(p.buf, b)
	return nil
}

// WriteBytes appends b verbatim, without a length prefix.
func (p *Packet) WriteBytes(b []byte) error {
	if err := p.reserve(len(b)); err != nil {
		return err
	}
	p.buf = append(p.buf, b...)
	return nil
}

func (p *Packet) WriteBool(v bool) error {
	if v {
		return p.WriteByte(1)
	}
	return p.WriteByte(0)
}

func (p *Packet) WriteUint16(v uint16) error {
	if err := p.reserve(2); err != nil {
		return err
	}
	p.buf = binary.BigEndian.AppendUint16(p.buf, v)
	return nil
}

func (p *Packet) WriteInt16(v int16) error { return p.WriteUint16(uint16(v)) }

func (p *Packet) WriteInt32(v int32) error {
	if err := p.reserve(4); err != nil {
		return err
	}
	p.buf = binary.BigEndian.AppendUint32(p.buf, uint32(v))
	return nil
}

func (p *Packet) WriteInt64(v int64) error {
	if err := p.reserve(8); err != nil {
		return err
	}
	p.buf = binary.BigEndian.AppendUint64(p.buf, uint64(v))
	return nil
}

// WriteFloat32 writes the IEEE 754 bits big-endian, whatever the host byte order.
func (p *Packet) WriteFloat32(v float32) error { return p.WriteInt32(int32(math.Float32bits(v))) }

func (p *Packet) WriteFloat64(v float64) error { return p.WriteInt64(int64(math.Float64bits(v))) }

func (p *Packet) WriteVarint(v int32) error {
	if err := p.reserve(VarintSize(v)); err != nil {
		return err
	}
	p.buf = AppendVarint(p.buf, v)
	return nil
}

// WriteString writes a varint byte length followed by the raw UTF-8 bytes.
func (p *Packet) WriteString(s string) error {
	if len(s) > math.MaxInt32 {
		return ErrStringTooLong
	}
	if err := p.reserve(VarintSize(int32(len(s))) + len(s)); err != nil {
		return err
	}
	p.buf = AppendVarint(p.buf, int32(len(s)))
	p.buf = append(p.buf, s...)
	return nil
}

// WritePosition packs a block position into one big-endian word: 26 bits X, 26 bits Z, 12 bits Y.
func (p *Packet) WritePosition(pos Position) error {
	v, err := pos.Pack()
	if err != nil {
		return err
	}
	return p.WriteInt64(int64(v))
}

func (p *Packet) next(n int) ([]byte, error) {
	if p.mode != modeRead {
		return nil, ErrWrongMode
	}
	if n < 0 || len(p.buf)-p.cursor < n {
		return nil, ErrEndOfBuffer
	}
	b := p.buf[p.cursor : p.cursor+n]
	p.cursor += n
	return b, nil
}

func (p *Packet) ReadByte() (byte, error) {
	b, err := p.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes returns the next n body bytes. The slice aliases the buffer.
func (p *Packet) ReadBytes(n int) ([]byte, error) {
	return p.next(n)
}

func (p *Packet) ReadBool() (bool, error) {
	b, err := p.ReadByte()
	return b != 0, err
}

func (p *Packet) ReadUint16() (uint16, error) {
	b, err := p.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (p *Packet) ReadInt16() (int16, error) {
	v, err := p.ReadUint16()
	return int16(v), err
}

func (p *Packet) ReadInt32() (int32, error) {
	b, err := p.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (p *Packet) ReadInt64() (int64, error) {
	b, err := p.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (p *Packet) ReadFloat32() (float32, error) {
	v, err := p.ReadInt32()
	return math.Float32frombits(uint32(v)), err
}

func (p *Packet) ReadFloat64() (float64, error) {
	v, err := p.ReadInt64()
	return math.Float64frombits(uint64(v)), err
}

func (p *Packet) ReadVarint() (int32, error) {
	if p.mode != modeRead {
		return 0, ErrWrongMode
	}
	v, _, err := ReadVarint(p)
	return v, err
}

// ReadString reads a length-prefixed string of at most maxLen bytes. A declared length above
// maxLen fails with ErrStringTooLong and one above the remaining body with ErrLengthMismatch; in
// both cases nothing is returned.
func (p *Packet) ReadString(maxLen int) (string, error) {
	n, err := p.ReadVarint()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", ErrMalformedLength
	}
	if int(n) > maxLen {
		return "", ErrStringTooLong
	}
	if int(n) > p.Remaining() {
		return "", ErrLengthMismatch
	}
	b, err := p.next(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidString
	}
	return string(b), nil
}

func (p *Packet) ReadPosition() (Position, error) {
	v, err := p.ReadInt64()
	if err != nil {
		return Position{}, err
	}
	return UnpackPosition(uint64(v)), nil
}

// ParseHeader reads one frame from r into a new read-mode packet.
func ParseHeader(r io.Reader, maxLength int) (*Packet, error) {
	p := NewPacket(0, maxLength)
	if err := p.ReadFrame(r); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadFrame reads a frame from r into p, reusing its buffer, and leaves p in read mode with the
// cursor at the start of the body. The declared length counts the encoded packet id, so the body
// is length minus the id's varint size. An io.EOF in the chain of a "header length" failure with
// no bytes consumed means the peer closed the connection cleanly.
func (p *Packet) ReadFrame(r io.Reader) error {
	src := ByteSource(r)
	length, _, err := ReadVarint(src)
	if err != nil {
		return fault.Op("header length", err)
	}
	if length < 1 {
		return fault.Op("header length", ErrMalformedLength)
	}
	if int(length)+VarintSize(length) > p.max {
		return fault.Op("header length", ErrPacketTooLarge)
	}

	id, idLen, err := ReadVarint(src)
	if err != nil {
		return fault.Op("packet id", err)
	}
	if idLen > int(length) {
		return fault.Op("packet id", ErrMalformedLength)
	}

	bodyLen := int(length) - idLen
	p.buf = slices.Grow(p.buf[:0], bodyLen)[:bodyLen]
	if _, err := io.ReadFull(r, p.buf); err != nil {
		p.buf = p.buf[:0]
		return fault.Op("packet body", fmt.Errorf("%w: %w", ErrTruncatedBody, err))
	}
	p.ID = id
	p.cursor = 0
	p.mode = modeRead
	return nil
}

// Finalize frames a write-mode packet in place as varint(length) ++ varint(id) ++ body. Calling it
// again on a framed packet does nothing. It fails with ErrBufferOverflow when the frame would not
// fit the packet's limit; the body is left untouched in that case.
func (p *Packet) Finalize() error {
	switch p.mode {
	case modeFramed:
		return nil
	case modeRead:
		return ErrWrongMode
	}

	bodyLen := len(p.buf)
	idLen := VarintSize(p.ID)
	total := idLen + bodyLen
	if total > math.MaxInt32 {
		return ErrBufferOverflow
	}
	shift := VarintSize(int32(total)) + idLen
	if bodyLen+shift > p.max {
		return ErrBufferOverflow
	}

	p.buf = slices.Grow(p.buf, shift)[:bodyLen+shift]
	copy(p.buf[shift:], p.buf[:bodyLen])
	n := PutVarint(p.buf, int32(total))
	PutVarint(p.buf[n:], p.ID)
	p.mode = modeFramed
	return nil
}

// WriteTo writes the frame to w. The packet must have been finalized.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	if p.mode != modeFramed {
		return 0, ErrWrongMode
	}
	n, err := w.Write(p.buf)
	if err == nil && n != len(p.buf) {
		err = io.ErrShortWrite
	}
	return int64(n), err
}
