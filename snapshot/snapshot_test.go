package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astei/chowder/chunk"
	"github.com/astei/chowder/fault"
	"github.com/astei/chowder/world"
)

func sampleWorld() *world.World {
	indices := make([]uint16, chunk.SectionVolume)
	for i := range indices {
		indices[i] = uint16(i % 3)
	}
	light := bytes.Repeat([]byte{0xf0}, 2048)

	w := &world.World{}
	for _, coord := range []world.ChunkCoord{{X: -2, Z: 5}, {X: 3, Z: -1}, {X: 0, Z: 0}} {
		w.Store(coord, &chunk.Chunk{
			X: int32(coord.X),
			Z: int32(coord.Z),
			Sections: []chunk.Section{
				{
					Y:            -1,
					Palette:      []string{"minecraft:air", "minecraft:stone", "minecraft:furnace;facing=east;lit=false"},
					BitsPerBlock: 2,
					Indices:      indices,
					BlockLight:   light,
					SkyLight:     light,
				},
				{Y: 3, Palette: []string{"minecraft:bedrock"}},
			},
		})
	}
	return w
}

func TestRoundTrip(t *testing.T) {
	in := sampleWorld()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	out, err := Read(bytes.NewReader(buf.Bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, in.Coords(), out.Coords())
	for _, coord := range in.Coords() {
		want, _ := in.Chunk(coord)
		got, ok := out.Chunk(coord)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	lo, hi, ok := out.Bounds()
	require.True(t, ok)
	assert.Equal(t, world.ChunkCoord{X: -2, Z: -1}, lo)
	assert.Equal(t, world.ChunkCoord{X: 3, Z: 5}, hi)
}

func TestWriteEmptyWorld(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Write(&buf, &world.World{}), ErrEmptyWorld)
}

func TestReadRejectsBadInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleWorld()))
	good := buf.Bytes()

	bad := append([]byte(nil), good...)
	bad[0] = 0
	_, err := Read(bytes.NewReader(bad), 0)
	assert.ErrorIs(t, err, ErrBadMagic)

	bad = append([]byte(nil), good...)
	bad[2] = 9
	_, err = Read(bytes.NewReader(bad), 0)
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = Read(bytes.NewReader(good[:len(good)-10]), 0)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, fault.ErrShortRead)

	_, err = Read(bytes.NewReader(good[:5]), 0)
	assert.ErrorIs(t, err, ErrTruncated)

	bad = append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xff
	_, err = Read(bytes.NewReader(bad), 0)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Read(bytes.NewReader(good), 100)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, fault.ErrResourceLimit)
}
