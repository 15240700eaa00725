package region

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astei/chowder/fault"
)

var modified = time.Unix(1600000000, 0)

func payload(seed byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i*7) + byte(i/251)
	}
	return out
}

func TestLocateAbsentChunk(t *testing.T) {
	r, err := NewReader(bytes.NewReader(NewWriter(CompressionZlib).Bytes()))
	require.NoError(t, err)

	_, ok := r.Locate(0, 0)
	assert.False(t, ok)
	assert.False(t, r.ChunkExists(12, 30))
	assert.Empty(t, r.Chunks())

	_, err = r.ReadChunk(0, 0, 0)
	assert.ErrorIs(t, err, ErrNoChunk)
}

func TestRoundTripAllSchemes(t *testing.T) {
	for _, scheme := range []Compression{CompressionZlib, CompressionGzip, CompressionNone} {
		t.Run(scheme.String(), func(t *testing.T) {
			w := NewWriter(scheme)
			chunks := map[[2]int][]byte{
				{0, 0}:   payload(1, 100),
				{31, 31}: payload(2, 9000),
				{5, 7}:   payload(3, 1),
			}
			for pos, raw := range chunks {
				require.NoError(t, w.WriteChunk(pos[0], pos[1], raw, modified))
			}

			r, err := NewReader(bytes.NewReader(w.Bytes()))
			require.NoError(t, err)
			for pos, raw := range chunks {
				got, err := r.ReadChunk(pos[0], pos[1], 0)
				require.NoError(t, err)
				assert.Equal(t, raw, got)

				loc, ok := r.Locate(pos[0], pos[1])
				require.True(t, ok)
				assert.Equal(t, modified, loc.ModTime())
				assert.GreaterOrEqual(t, loc.Sector, uint32(2))
			}
			assert.Len(t, r.Chunks(), 3)
		})
	}
}

func TestHeaderIndexIsXPlusZTimes32(t *testing.T) {
	w := NewWriter(CompressionZlib)
	require.NoError(t, w.WriteChunk(1, 0, payload(0, 10), modified))
	require.NoError(t, w.WriteChunk(0, 1, payload(0, 10), modified))
	file := w.Bytes()

	assert.Equal(t, uint32(2<<8|1), binary.BigEndian.Uint32(file[4:]))
	assert.Equal(t, uint32(3<<8|1), binary.BigEndian.Uint32(file[4*32:]))
	assert.Equal(t, uint32(modified.Unix()), binary.BigEndian.Uint32(file[SectorSize+4:]))

	r, err := NewReader(bytes.NewReader(file))
	require.NoError(t, err)
	loc, ok := r.Locate(-32, 33)
	require.True(t, ok, "absolute coordinates wrap into the region")
	assert.Equal(t, uint32(3), loc.Sector)
	assert.Equal(t, [][2]int{{1, 0}, {0, 1}}, r.Chunks())
}

func TestUnsupportedCompression(t *testing.T) {
	w := NewWriter(CompressionZlib)
	require.NoError(t, w.WriteCompressed(0, 0, Compression(9), []byte{1, 2, 3}, modified))
	r, err := NewReader(bytes.NewReader(w.Bytes()))
	require.NoError(t, err)

	loc, ok := r.Locate(0, 0)
	require.True(t, ok)
	_, _, err = r.ReadChunkBytes(loc)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
	assert.ErrorIs(t, err, fault.ErrUnsupportedFormat)
}

func TestTruncatedChunk(t *testing.T) {
	w := NewWriter(CompressionNone)
	require.NoError(t, w.WriteChunk(0, 0, payload(0, 3000), modified))
	file := w.Bytes()[:headerSize+100]

	r, err := NewReader(bytes.NewReader(file))
	require.NoError(t, err)
	_, err = r.ReadChunk(0, 0, 0)
	assert.ErrorIs(t, err, ErrTruncatedRead)
	assert.ErrorIs(t, err, fault.ErrShortRead)
	var opErr *fault.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "chunk payload", opErr.Op)
}

func TestInvalidChunkLength(t *testing.T) {
	w := NewWriter(CompressionZlib)
	require.NoError(t, w.WriteChunk(0, 0, payload(0, 10), modified))
	file := w.Bytes()

	binary.BigEndian.PutUint32(file[headerSize:], 0)
	r, err := NewReader(bytes.NewReader(file))
	require.NoError(t, err)
	_, err = r.ReadChunk(0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidChunkLength)

	binary.BigEndian.PutUint32(file[headerSize:], SectorSize)
	r, err = NewReader(bytes.NewReader(file))
	require.NoError(t, err)
	_, err = r.ReadChunk(0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidChunkLength)
}

// regionWithChunk lays out a file holding a single chunk at (0, 0) whose header declares length.
func regionWithChunk(length int, scheme Compression, body []byte, sectors int) []byte {
	file := make([]byte, headerSize+sectors*SectorSize)
	binary.BigEndian.PutUint32(file, uint32(2<<8|sectors))
	binary.BigEndian.PutUint32(file[headerSize:], uint32(length))
	file[headerSize+4] = byte(scheme)
	copy(file[headerSize+chunkHeaderSize:], body)
	return file
}

func TestLengthPrefixCountsCompressedBytes(t *testing.T) {
	raw := payload(4, 2500)
	compressed, err := Compress(CompressionZlib, raw)
	require.NoError(t, err)

	r, err := NewReader(bytes.NewReader(regionWithChunk(len(compressed), CompressionZlib, compressed, 1)))
	require.NoError(t, err)
	loc, ok := r.Locate(0, 0)
	require.True(t, ok)

	scheme, data, err := r.ReadChunkBytes(loc)
	require.NoError(t, err)
	assert.Equal(t, CompressionZlib, scheme)
	assert.Equal(t, compressed, data)

	got, err := r.ReadChunk(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestLengthPrefixIncludingSchemeByte(t *testing.T) {
	raw := payload(5, 2500)
	for _, scheme := range []Compression{CompressionZlib, CompressionGzip} {
		t.Run(scheme.String(), func(t *testing.T) {
			compressed, err := Compress(scheme, raw)
			require.NoError(t, err)

			r, err := NewReader(bytes.NewReader(regionWithChunk(len(compressed)+1, scheme, compressed, 1)))
			require.NoError(t, err)
			got, err := r.ReadChunk(0, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, raw, got)
		})
	}
}

func TestChunkFillingItsSectors(t *testing.T) {
	body := payload(6, SectorSize-chunkHeaderSize)

	r, err := NewReader(bytes.NewReader(regionWithChunk(len(body)+1, CompressionNone, body, 1)))
	require.NoError(t, err)
	loc, ok := r.Locate(0, 0)
	require.True(t, ok)

	_, data, err := r.ReadChunkBytes(loc)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestWriterStoresCompressedLength(t *testing.T) {
	w := NewWriter(CompressionNone)
	require.NoError(t, w.WriteChunk(0, 0, payload(7, 321), modified))
	file := w.Bytes()

	assert.Equal(t, uint32(321), binary.BigEndian.Uint32(file[headerSize:]))
	assert.Equal(t, byte(CompressionNone), file[headerSize+4])
}

func TestShortHeader(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, 100)))
	assert.ErrorIs(t, err, ErrTruncatedRead)
}

func TestCorruptPayloadFailsDecompression(t *testing.T) {
	raw := payload(9, 5000)
	compressed, err := Compress(CompressionZlib, raw)
	require.NoError(t, err)

	for _, at := range []int{len(compressed) - 1, len(compressed) / 2, 0} {
		corrupt := append([]byte(nil), compressed...)
		corrupt[at] ^= 0xff
		out, err := Decompress(CompressionZlib, corrupt, 0)
		assert.ErrorIs(t, err, ErrDecompression, "flip at %d", at)
		assert.Nil(t, out)
	}

	_, err = Decompress(CompressionGzip, []byte("definitely not gzip"), 0)
	assert.ErrorIs(t, err, ErrDecompression)
}

func TestDecompressGrowsWithoutSizeHint(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 3<<20)
	compressed, err := Compress(CompressionZlib, raw)
	require.NoError(t, err)
	require.Less(t, len(compressed), 64<<10)

	out, err := Decompress(CompressionZlib, compressed, 0)
	require.NoError(t, err)
	assert.Equal(t, len(raw), len(out))

	_, err = Decompress(CompressionZlib, compressed, 1<<20)
	assert.ErrorIs(t, err, ErrChunkTooLarge)
	assert.ErrorIs(t, err, fault.ErrResourceLimit)
}

func TestDecompressorReusesScratch(t *testing.T) {
	var d Decompressor
	for i := byte(0); i < 3; i++ {
		raw := payload(i, 1000+int(i)*500)
		compressed, err := Compress(CompressionGzip, raw)
		require.NoError(t, err)
		out, err := d.Decompress(CompressionGzip, compressed)
		require.NoError(t, err)
		assert.Equal(t, raw, out)
	}
}

func TestConcurrentReads(t *testing.T) {
	w := NewWriter(CompressionZlib)
	for x := 0; x < 8; x++ {
		require.NoError(t, w.WriteChunk(x, x, payload(byte(x), 2000+x), modified))
	}
	path := filepath.Join(t.TempDir(), FileName(0, 0))
	require.NoError(t, w.Save(path))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	for x := 0; x < 8; x++ {
		wg.Add(1)
		go func(x int) {
			defer wg.Done()
			var d Decompressor
			for i := 0; i < 20; i++ {
				got, err := r.ReadChunkInto(&d, x, x)
				if err != nil || !bytes.Equal(got, payload(byte(x), 2000+x)) {
					t.Errorf("chunk %d: %v", x, err)
					return
				}
			}
		}(x)
	}
	wg.Wait()
}

func TestParseName(t *testing.T) {
	x, z, ok := ParseName("r.-1.12.mca")
	require.True(t, ok)
	assert.Equal(t, -1, x)
	assert.Equal(t, 12, z)
	assert.Equal(t, "r.-1.12.mca", FileName(x, z))

	for _, bad := range []string{"r.1.mca", "c.1.2.mca", "r.a.2.mca", "r.1.2.mcr", "level.dat"} {
		_, _, ok := ParseName(bad)
		assert.False(t, ok, bad)
	}
}
