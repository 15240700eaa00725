// Package region reads and writes region files: a 32x32 grid of chunks stored as compressed
// payloads in 4096 byte sectors behind a table of sector offsets and a table of timestamps.
package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/astei/chowder/fault"
)

const (
	SectorSize = 4096
	// Width is the number of chunks along each side of a region.
	Width = 32

	entries    = Width * Width
	headerSize = 2 * SectorSize
	// Length prefix plus compression byte in front of every payload.
	chunkHeaderSize = 5
)

var (
	ErrNoChunk = errors.New("region: chunk not generated")

	ErrTruncatedRead          = fmt.Errorf("%w: region file shorter than declared", fault.ErrShortRead)
	ErrInvalidChunkLength     = fmt.Errorf("%w: invalid chunk length", fault.ErrMalformedInput)
	ErrUnsupportedCompression = fmt.Errorf("%w: unsupported compression scheme", fault.ErrUnsupportedFormat)
)

// Location is where a chunk lives in the file, in sectors.
type Location struct {
	Sector    uint32
	Count     uint8
	Timestamp uint32
}

// Offset is the byte offset of the chunk's first sector.
func (l Location) Offset() int64 { return int64(l.Sector) * SectorSize }

// ModTime is the last time the chunk was saved.
func (l Location) ModTime() time.Time { return time.Unix(int64(l.Timestamp), 0) }

// Reader gives access to the chunks of one region file. The header is read once; chunk reads are
// positioned, so a Reader may be used from several goroutines at once.
type Reader struct {
	source     io.ReaderAt
	closer     io.Closer
	offsets    [entries]uint32
	timestamps [entries]uint32
	Name       string
}

// NewReader reads the header tables of source. If source is an io.Closer it is closed by Close.
func NewReader(source io.ReaderAt) (*Reader, error) {
	r := &Reader{source: source}
	if closer, ok := source.(io.Closer); ok {
		r.closer = closer
	}
	if file, ok := source.(*os.File); ok {
		r.Name = file.Name()
	}
	if err := r.readHeader(); err != nil {
		return nil, fault.Op("region header", err)
	}
	return r, nil
}

// Open opens the region file at path.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	raw := make([]byte, headerSize)
	if n, err := r.source.ReadAt(raw, 0); n < headerSize {
		return fmt.Errorf("%w: %w", ErrTruncatedRead, err)
	}
	for i := 0; i < entries; i++ {
		r.offsets[i] = binary.BigEndian.Uint32(raw[4*i:])
		r.timestamps[i] = binary.BigEndian.Uint32(raw[SectorSize+4*i:])
	}
	return nil
}

func index(x, z int) int {
	return (z&(Width-1))*Width + x&(Width-1)
}

// Locate finds the chunk at x, z. Coordinates are taken modulo the region width, so absolute
// chunk coordinates work too. ok is false when the chunk was never generated.
func (r *Reader) Locate(x, z int) (loc Location, ok bool) {
	i := index(x, z)
	entry := r.offsets[i]
	loc = Location{Sector: entry >> 8, Count: uint8(entry), Timestamp: r.timestamps[i]}
	if loc.Sector == 0 && loc.Count == 0 {
		return Location{}, false
	}
	return loc, true
}

func (r *Reader) ChunkExists(x, z int) bool {
	_, ok := r.Locate(x, z)
	return ok
}

// ReadChunkBytes reads the compressed payload stored at loc: as many bytes as the length prefix
// declares, capped at what the chunk's sectors hold after the five byte chunk header. Files whose
// length also counts the compression byte leave one trailing byte after the compressed stream,
// which the gzip and zlib decoders ignore.
func (r *Reader) ReadChunkBytes(loc Location) (Compression, []byte, error) {
	if loc.Sector < headerSize/SectorSize {
		return 0, nil, fault.Op("chunk header", fmt.Errorf("%w: sector %d overlaps the header", ErrInvalidChunkLength, loc.Sector))
	}
	var header [chunkHeaderSize]byte
	if n, err := r.source.ReadAt(header[:], loc.Offset()); n < len(header) {
		return 0, nil, fault.Op("chunk header", fmt.Errorf("%w: %w", ErrTruncatedRead, err))
	}
	length := int64(int32(binary.BigEndian.Uint32(header[:4])))
	scheme := Compression(header[4])

	if length < 1 || length > int64(loc.Count)*SectorSize-4 {
		return 0, nil, fault.Op("chunk header", fmt.Errorf("%w: %d bytes in %d sectors", ErrInvalidChunkLength, length, loc.Count))
	}
	if !scheme.Supported() {
		return 0, nil, fault.Op("chunk header", fmt.Errorf("%w: %d", ErrUnsupportedCompression, header[4]))
	}

	data := make([]byte, min(length, int64(loc.Count)*SectorSize-chunkHeaderSize))
	if n, err := r.source.ReadAt(data, loc.Offset()+chunkHeaderSize); n < len(data) {
		return 0, nil, fault.Op("chunk payload", fmt.Errorf("%w: %w", ErrTruncatedRead, err))
	}
	return scheme, data, nil
}

// ReadChunk locates, reads and decompresses the chunk at x, z into a new buffer. It returns
// ErrNoChunk when the chunk was never generated.
func (r *Reader) ReadChunk(x, z int, maxSize int) ([]byte, error) {
	var d Decompressor
	d.MaxSize = maxSize
	data, err := r.ReadChunkInto(&d, x, z)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// ReadChunkInto is ReadChunk using d's scratch buffer. The result is only valid until d is used
// again, and d must not be shared between goroutines.
func (r *Reader) ReadChunkInto(d *Decompressor, x, z int) ([]byte, error) {
	loc, ok := r.Locate(x, z)
	if !ok {
		return nil, ErrNoChunk
	}
	scheme, compressed, err := r.ReadChunkBytes(loc)
	if err != nil {
		return nil, err
	}
	return d.Decompress(scheme, compressed)
}

// Chunks lists the grid positions of every generated chunk, x varying fastest.
func (r *Reader) Chunks() [][2]int {
	var out [][2]int
	for z := 0; z < Width; z++ {
		for x := 0; x < Width; x++ {
			if r.ChunkExists(x, z) {
				out = append(out, [2]int{x, z})
			}
		}
	}
	return out
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ParseName extracts the region coordinates from a file name like "r.-1.2.mca".
func ParseName(name string) (x, z int, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 4 || parts[0] != "r" || parts[3] != "mca" {
		return 0, 0, false
	}
	x, errX := strconv.Atoi(parts[1])
	z, errZ := strconv.Atoi(parts[2])
	if errX != nil || errZ != nil {
		return 0, 0, false
	}
	return x, z, true
}

// FileName is the inverse of ParseName.
func FileName(x, z int) string {
	return "r." + strconv.Itoa(x) + "." + strconv.Itoa(z) + ".mca"
}
