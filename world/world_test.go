package world

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astei/chowder/chunk"
	"github.com/astei/chowder/region"
)

func stoneChunk(t *testing.T, x, z int32) []byte {
	t.Helper()
	indices := make([]uint16, chunk.SectionVolume)
	for i := range indices {
		indices[i] = uint16(i % 2)
	}
	data, err := chunk.Encode(&chunk.Chunk{
		X: x,
		Z: z,
		Sections: []chunk.Section{
			{Y: 0, Palette: []string{"minecraft:air", "minecraft:stone"}, BitsPerBlock: 1, Indices: indices},
			{Y: 1, Palette: []string{"minecraft:air"}},
			{Y: 2},
		},
	})
	require.NoError(t, err)
	return data
}

func airChunk(t *testing.T) []byte {
	t.Helper()
	data, err := chunk.Encode(&chunk.Chunk{Sections: []chunk.Section{{Y: 0, Palette: []string{"minecraft:air"}}}})
	require.NoError(t, err)
	return data
}

func writeLevel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	now := time.Now()

	w := region.NewWriter(region.CompressionZlib)
	require.NoError(t, w.WriteChunk(0, 0, stoneChunk(t, 0, 0), now))
	require.NoError(t, w.WriteChunk(3, 4, stoneChunk(t, 3, 4), now))
	require.NoError(t, w.WriteChunk(5, 5, airChunk(t), now))
	require.NoError(t, w.Save(filepath.Join(dir, region.FileName(0, 0))))

	w = region.NewWriter(region.CompressionGzip)
	require.NoError(t, w.WriteChunk(31, 0, stoneChunk(t, -1, 0), now))
	require.NoError(t, w.Save(filepath.Join(dir, region.FileName(-1, 0))))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "level.dat"), []byte("ignored"), 0o644))
	return dir
}

func TestOpenLoadsEveryRegion(t *testing.T) {
	world, err := Open(context.Background(), writeLevel(t), Options{Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, 3, world.Len())
	assert.Equal(t, []ChunkCoord{{X: -1, Z: 0}, {X: 0, Z: 0}, {X: 3, Z: 4}}, world.Coords())

	c, ok := world.Chunk(ChunkCoord{X: -1, Z: 0})
	require.True(t, ok)
	require.Len(t, c.Sections, 1, "air sections are dropped")
	assert.Equal(t, "minecraft:stone", c.Sections[0].Block(1, 0, 0))

	_, ok = world.Chunk(ChunkCoord{X: 5, Z: 5})
	assert.False(t, ok, "chunks with only air are dropped")

	lo, hi, ok := world.Bounds()
	require.True(t, ok)
	assert.Equal(t, ChunkCoord{X: -1, Z: 0}, lo)
	assert.Equal(t, ChunkCoord{X: 3, Z: 4}, hi)
}

func TestOpenKeepEmpty(t *testing.T) {
	world, err := Open(context.Background(), writeLevel(t), Options{KeepEmpty: true})
	require.NoError(t, err)

	assert.Equal(t, 4, world.Len())
	c, ok := world.Chunk(ChunkCoord{X: 0, Z: 0})
	require.True(t, ok)
	assert.Len(t, c.Sections, 3)
}

func TestOpenFailsOnCorruptChunk(t *testing.T) {
	dir := writeLevel(t)
	w := region.NewWriter(region.CompressionZlib)
	require.NoError(t, w.WriteCompressed(1, 1, region.CompressionZlib, []byte{1, 2, 3, 4}, time.Now()))
	require.NoError(t, w.Save(filepath.Join(dir, region.FileName(2, 2))))

	_, err := Open(context.Background(), dir, Options{})
	assert.ErrorIs(t, err, region.ErrDecompression)
	assert.Contains(t, err.Error(), "chunk 1,1")
}

func TestOpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, writeLevel(t), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmptyWorld(t *testing.T) {
	world, err := Open(context.Background(), t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Zero(t, world.Len())
	_, _, ok := world.Bounds()
	assert.False(t, ok)
}
