package region

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/astei/chowder/fault"
)

// Compression is the scheme byte stored in front of each chunk payload.
type Compression byte

const (
	CompressionGzip Compression = 1
	CompressionZlib Compression = 2
	CompressionNone Compression = 3
)

// DefaultMaxChunkSize bounds a decompressed chunk unless the caller picks another limit.
const DefaultMaxChunkSize = 16 << 20

var (
	ErrDecompression = fmt.Errorf("%w: corrupt compressed chunk", fault.ErrMalformedInput)
	ErrChunkTooLarge = fmt.Errorf("%w: chunk larger than allowed", fault.ErrResourceLimit)
)

func (c Compression) Supported() bool {
	return c == CompressionGzip || c == CompressionZlib || c == CompressionNone
}

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	}
	return fmt.Sprintf("compression(%d)", byte(c))
}

// Decompressor inflates chunk payloads into a buffer that grows as needed, up to MaxSize bytes.
// The buffer is reused between calls, so a Decompressor belongs to one goroutine.
type Decompressor struct {
	// MaxSize bounds the output; zero means DefaultMaxChunkSize.
	MaxSize int

	buf bytes.Buffer
}

// Decompress inflates data. The returned slice aliases the scratch buffer and is overwritten by
// the next call. A stream fault fails with ErrDecompression; output above MaxSize fails with
// ErrChunkTooLarge.
func (d *Decompressor) Decompress(scheme Compression, data []byte) ([]byte, error) {
	limit := d.MaxSize
	if limit <= 0 {
		limit = DefaultMaxChunkSize
	}
	d.buf.Reset()

	var src io.Reader
	switch scheme {
	case CompressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fault.Op("decompress", fmt.Errorf("%w: %w", ErrDecompression, err))
		}
		defer zr.Close()
		src = zr
	case CompressionGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fault.Op("decompress", fmt.Errorf("%w: %w", ErrDecompression, err))
		}
		gr.Multistream(false)
		defer gr.Close()
		src = gr
	case CompressionNone:
		src = bytes.NewReader(data)
	default:
		return nil, fault.Op("decompress", fmt.Errorf("%w: %d", ErrUnsupportedCompression, byte(scheme)))
	}

	if d.buf.Cap() < 4*len(data) {
		d.buf.Grow(4 * len(data))
	}
	if _, err := d.buf.ReadFrom(io.LimitReader(src, int64(limit)+1)); err != nil {
		return nil, fault.Op("decompress", fmt.Errorf("%w: %w", ErrDecompression, err))
	}
	if d.buf.Len() > limit {
		return nil, fault.Op("decompress", fmt.Errorf("%w: more than %d bytes", ErrChunkTooLarge, limit))
	}
	return d.buf.Bytes(), nil
}

// Decompress inflates data into a new buffer bounded by maxSize.
func Decompress(scheme Compression, data []byte, maxSize int) ([]byte, error) {
	d := Decompressor{MaxSize: maxSize}
	out, err := d.Decompress(scheme, data)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Compress encodes raw with the given scheme.
func Compress(scheme Compression, raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch scheme {
	case CompressionZlib:
		w = zlib.NewWriter(&buf)
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionNone:
		return append([]byte(nil), raw...), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, byte(scheme))
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
