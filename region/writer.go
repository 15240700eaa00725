package region

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// Writer assembles a region file in memory. Chunks are appended sector aligned in the order they
// are added; the header tables are produced by WriteTo.
type Writer struct {
	Scheme Compression

	offsets    [entries]uint32
	timestamps [entries]uint32
	body       bytes.Buffer
}

// NewWriter creates a Writer compressing chunks with scheme.
func NewWriter(scheme Compression) *Writer {
	return &Writer{Scheme: scheme}
}

// WriteChunk compresses raw and stores it at grid position x, z, replacing the index entry of any
// earlier chunk at the same position.
func (w *Writer) WriteChunk(x, z int, raw []byte, modified time.Time) error {
	compressed, err := Compress(w.Scheme, raw)
	if err != nil {
		return err
	}
	return w.WriteCompressed(x, z, w.Scheme, compressed, modified)
}

// WriteCompressed stores an already compressed payload.
func (w *Writer) WriteCompressed(x, z int, scheme Compression, payload []byte, modified time.Time) error {
	size := chunkHeaderSize + len(payload)
	sectors := (size + SectorSize - 1) / SectorSize
	if sectors > 0xff {
		return fmt.Errorf("%w: %d sectors", ErrChunkTooLarge, sectors)
	}

	sector := headerSize/SectorSize + w.body.Len()/SectorSize
	var header [chunkHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = byte(scheme)
	w.body.Write(header[:])
	w.body.Write(payload)
	w.body.Write(make([]byte, sectors*SectorSize-size))

	i := index(x, z)
	w.offsets[i] = uint32(sector)<<8 | uint32(sectors)
	w.timestamps[i] = uint32(modified.Unix())
	return nil
}

// WriteTo writes the header tables followed by every stored chunk.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	header := make([]byte, headerSize)
	for i := 0; i < entries; i++ {
		binary.BigEndian.PutUint32(header[4*i:], w.offsets[i])
		binary.BigEndian.PutUint32(header[SectorSize+4*i:], w.timestamps[i])
	}
	n, err := dst.Write(header)
	if err != nil {
		return int64(n), err
	}
	m, err := dst.Write(w.body.Bytes())
	return int64(n + m), err
}

// Bytes returns the complete region file.
func (w *Writer) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = w.WriteTo(&buf)
	return buf.Bytes()
}

// Save writes the region file to path.
func (w *Writer) Save(path string) error {
	return os.WriteFile(path, w.Bytes(), 0o644)
}
