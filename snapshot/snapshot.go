// Package snapshot stores a loaded world as one compact file: a header with the chunk bounds, a
// bitmap of which chunks are present and a zstd-compressed stream of their sections.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/willf/bitset"

	"github.com/astei/chowder/chunk"
	"github.com/astei/chowder/fault"
	"github.com/astei/chowder/protocol"
	"github.com/astei/chowder/world"
)

const (
	magic         = 0xC0D5
	latestVersion = 1

	// DefaultMaxSize bounds the decompressed chunk stream when reading.
	DefaultMaxSize = 1 << 30
)

var (
	ErrBadMagic   = fmt.Errorf("%w: not a snapshot", fault.ErrUnsupportedFormat)
	ErrBadVersion = fmt.Errorf("%w: unknown snapshot version", fault.ErrUnsupportedFormat)
	ErrTruncated  = fmt.Errorf("%w: snapshot truncated", fault.ErrShortRead)
	ErrCorrupt    = fmt.Errorf("%w: corrupt snapshot", fault.ErrMalformedInput)
	ErrTooLarge   = fmt.Errorf("%w: snapshot too large", fault.ErrResourceLimit)
	ErrEmptyWorld = fmt.Errorf("%w: world has no chunks", fault.ErrMalformedInput)
)

type header struct {
	Magic   uint16
	Version uint8
	MinX    int32
	MinZ    int32
	Width   uint16
	Depth   uint16
}

const (
	hasBlockLight = 1 << iota
	hasSkyLight
	hasBlockStates
)

// Write stores every chunk of w. Chunks are written in row order, z then x, relative to the
// smallest chunk position.
func Write(dst io.Writer, w *world.World) error {
	lo, hi, ok := w.Bounds()
	if !ok {
		return ErrEmptyWorld
	}
	width, depth := hi.X-lo.X+1, hi.Z-lo.Z+1
	if width > 0xffff || depth > 0xffff {
		return fmt.Errorf("%w: %dx%d chunks", ErrTooLarge, width, depth)
	}

	h := header{Magic: magic, Version: latestVersion, MinX: int32(lo.X), MinZ: int32(lo.Z), Width: uint16(width), Depth: uint16(depth)}
	if err := binary.Write(dst, binary.BigEndian, h); err != nil {
		return err
	}

	present := bitset.New(uint(width * depth))
	var stream []byte
	for _, coord := range w.Coords() {
		present.Set(uint((coord.Z-lo.Z)*width + coord.X - lo.X))
		c, _ := w.Chunk(coord)
		stream = appendChunk(stream, c)
	}
	if _, err := present.WriteTo(dst); err != nil {
		return err
	}
	return writeZstdCompressed(dst, stream)
}

func appendChunk(out []byte, c *chunk.Chunk) []byte {
	out = protocol.AppendVarint(out, int32(len(c.Sections)))
	for i := range c.Sections {
		s := &c.Sections[i]
		var flags byte
		if s.BlockLight != nil {
			flags |= hasBlockLight
		}
		if s.SkyLight != nil {
			flags |= hasSkyLight
		}
		if s.Indices != nil && s.BitsPerBlock > 0 {
			flags |= hasBlockStates
		}
		out = append(out, byte(s.Y), flags)

		out = protocol.AppendVarint(out, int32(len(s.Palette)))
		for _, key := range s.Palette {
			out = protocol.AppendVarint(out, int32(len(key)))
			out = append(out, key...)
		}
		if flags&hasBlockStates != 0 {
			out = append(out, byte(s.BitsPerBlock))
			for _, word := range chunk.Pack(s.Indices, s.BitsPerBlock) {
				out = binary.BigEndian.AppendUint64(out, word)
			}
		}
		if flags&hasBlockLight != 0 {
			out = protocol.AppendVarint(out, int32(len(s.BlockLight)))
			out = append(out, s.BlockLight...)
		}
		if flags&hasSkyLight != 0 {
			out = protocol.AppendVarint(out, int32(len(s.SkyLight)))
			out = append(out, s.SkyLight...)
		}
	}
	return out
}

// writeZstdCompressed writes the compressed size, the uncompressed size and the zstd frame.
func writeZstdCompressed(dst io.Writer, raw []byte) error {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := encoder.EncodeAll(raw, nil)
	if err := encoder.Close(); err != nil {
		return err
	}

	var sizes [8]byte
	binary.BigEndian.PutUint32(sizes[:4], uint32(len(compressed)))
	binary.BigEndian.PutUint32(sizes[4:], uint32(len(raw)))
	if _, err := dst.Write(sizes[:]); err != nil {
		return err
	}
	_, err = dst.Write(compressed)
	return err
}

// Read loads a snapshot written by Write. The decompressed chunk stream may be at most maxSize
// bytes; zero means DefaultMaxSize.
func Read(src io.Reader, maxSize int) (*world.World, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var h header
	if err := binary.Read(src, binary.BigEndian, &h); err != nil {
		return nil, fault.Op("snapshot header", fmt.Errorf("%w: %w", ErrTruncated, err))
	}
	if h.Magic != magic {
		return nil, fault.Op("snapshot header", fmt.Errorf("%w: magic %#04x", ErrBadMagic, h.Magic))
	}
	if h.Version != latestVersion {
		return nil, fault.Op("snapshot header", fmt.Errorf("%w: %d", ErrBadVersion, h.Version))
	}

	present := &bitset.BitSet{}
	if _, err := present.ReadFrom(src); err != nil {
		return nil, fault.Op("chunk bitmap", fmt.Errorf("%w: %w", ErrTruncated, err))
	}
	width, depth := int(h.Width), int(h.Depth)
	if present.Len() != uint(width*depth) {
		return nil, fault.Op("chunk bitmap", fmt.Errorf("%w: %d bits for %dx%d chunks", ErrCorrupt, present.Len(), width, depth))
	}

	stream, err := readZstdCompressed(src, maxSize)
	if err != nil {
		return nil, fault.Op("chunk stream", err)
	}

	w := &world.World{}
	in := bytes.NewReader(stream)
	for i, ok := present.NextSet(0); ok; i, ok = present.NextSet(i + 1) {
		coord := world.ChunkCoord{X: int(h.MinX) + int(i)%width, Z: int(h.MinZ) + int(i)/width}
		c, err := readChunk(in)
		if err != nil {
			return nil, fault.Op(fmt.Sprintf("chunk %d,%d", coord.X, coord.Z), err)
		}
		c.X, c.Z = int32(coord.X), int32(coord.Z)
		w.Store(coord, c)
	}
	if in.Len() != 0 {
		return nil, fault.Op("chunk stream", fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, in.Len()))
	}
	return w, nil
}

func readZstdCompressed(src io.Reader, maxSize int) ([]byte, error) {
	var sizes [8]byte
	if _, err := io.ReadFull(src, sizes[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	compressedSize := binary.BigEndian.Uint32(sizes[:4])
	size := binary.BigEndian.Uint32(sizes[4:])
	if uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	compressed, err := io.ReadAll(io.LimitReader(src, int64(compressedSize)))
	if err != nil {
		return nil, err
	}
	if len(compressed) < int(compressedSize) {
		return nil, ErrTruncated
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxSize)))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	raw, err := decoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(raw) != int(size) {
		return nil, fmt.Errorf("%w: stream is %d bytes, header says %d", ErrCorrupt, len(raw), size)
	}
	return raw, nil
}

func readChunk(in *bytes.Reader) (*chunk.Chunk, error) {
	count, err := readLength(in)
	if err != nil {
		return nil, err
	}
	c := &chunk.Chunk{Sections: make([]chunk.Section, 0, min(count, 64))}
	for i := 0; i < count; i++ {
		s, err := readSection(in)
		if err != nil {
			return nil, err
		}
		c.Sections = append(c.Sections, s)
	}
	return c, nil
}

func readSection(in *bytes.Reader) (chunk.Section, error) {
	var s chunk.Section
	var fixed [2]byte
	if _, err := io.ReadFull(in, fixed[:]); err != nil {
		return s, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	s.Y = int8(fixed[0])
	flags := fixed[1]

	count, err := readLength(in)
	if err != nil {
		return s, err
	}
	if count > 0 {
		s.Palette = make([]string, 0, min(count, 4096))
	}
	for i := 0; i < count; i++ {
		key, err := readBytes(in)
		if err != nil {
			return s, err
		}
		s.Palette = append(s.Palette, string(key))
	}
	s.BitsPerBlock = chunk.BitsPerBlock(len(s.Palette))

	if flags&hasBlockStates != 0 {
		width, err := in.ReadByte()
		if err != nil {
			return s, fmt.Errorf("%w: %w", ErrTruncated, err)
		}
		words := make([]uint64, int(width)*chunk.SectionVolume/64)
		if err := binary.Read(in, binary.BigEndian, words); err != nil {
			return s, fmt.Errorf("%w: %w", ErrTruncated, err)
		}
		if s.Indices, err = chunk.Unpack(words, int(width), len(s.Palette)); err != nil {
			return s, err
		}
		s.BitsPerBlock = int(width)
	}
	if flags&hasBlockLight != 0 {
		if s.BlockLight, err = readBytes(in); err != nil {
			return s, err
		}
	}
	if flags&hasSkyLight != 0 {
		if s.SkyLight, err = readBytes(in); err != nil {
			return s, err
		}
	}
	return s, nil
}

func readLength(in *bytes.Reader) (int, error) {
	n, _, err := protocol.ReadVarint(in)
	if err != nil {
		return 0, err
	}
	if n < 0 || int(n) > in.Len() {
		return 0, fmt.Errorf("%w: length %d with %d bytes left", ErrCorrupt, n, in.Len())
	}
	return int(n), nil
}

func readBytes(in *bytes.Reader) ([]byte, error) {
	n, err := readLength(in)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	_, err = io.ReadFull(in, out)
	return out, err
}
