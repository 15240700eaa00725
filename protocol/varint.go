package protocol

import (
	"fmt"
	"io"

	"github.com/astei/chowder/fault"
)

// MaxVarintLen is the longest encoding of a 32-bit varint.
const MaxVarintLen = 5

// Same bound bufio uses before giving up on a reader that keeps returning (0, nil).
const maxEmptyReads = 100

var ErrVarintTooLong = fmt.Errorf("%w: varint longer than %d bytes", fault.ErrResourceLimit, MaxVarintLen)
var ErrSourceExhausted = fmt.Errorf("%w: byte source exhausted inside varint", fault.ErrShortRead)

// ReadVarint decodes one varint from src. A fifth byte that still carries the continuation bit
// fails with ErrVarintTooLong without reading further. It returns the value and the number of bytes
// consumed. When src fails before the terminating byte, the error wraps both ErrSourceExhausted and the
// error src returned, so an orderly close (io.EOF) can still be told apart from a broken socket.
func ReadVarint(src io.ByteReader) (value int32, n int, err error) {
	var result uint32
	for {
		b, err := src.ReadByte()
		if err != nil {
			return 0, n, fmt.Errorf("%w: %w", ErrSourceExhausted, err)
		}
		result |= uint32(b&0x7f) << (7 * n)
		n++
		if b&0x80 == 0 {
			return int32(result), n, nil
		}
		if n == MaxVarintLen {
			return 0, n, ErrVarintTooLong
		}
	}
}

// VarintSize reports how many bytes AppendVarint will emit for v.
func VarintSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// PutVarint encodes v into dst, which must hold at least VarintSize(v) bytes, and returns the
// number of bytes written.
func PutVarint(dst []byte, v int32) int {
	u := uint32(v)
	n := 0
	for u >= 0x80 {
		dst[n] = byte(u) | 0x80
		u >>= 7
		n++
	}
	dst[n] = byte(u)
	return n + 1
}

// AppendVarint appends the encoding of v to dst.
func AppendVarint(dst []byte, v int32) []byte {
	var buf [MaxVarintLen]byte
	n := PutVarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// ByteSource adapts r to io.ByteReader. Readers that already implement it are returned as is;
// anything else is read one byte per call so nothing past the current packet is consumed.
func ByteSource(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	for i := 0; i < maxEmptyReads; i++ {
		n, err := s.r.Read(s.buf[:])
		if n == 1 {
			return s.buf[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, io.ErrNoProgress
}
