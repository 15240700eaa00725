package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astei/chowder/blocks"
	"github.com/astei/chowder/fault"
	"github.com/astei/chowder/nbt"
)

func pattern(paletteLen int) []uint16 {
	indices := make([]uint16, SectionVolume)
	for i := range indices {
		indices[i] = uint16((i*7 + i/16) % paletteLen)
	}
	return indices
}

func TestBitsPerBlock(t *testing.T) {
	for n, want := range map[int]int{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 16: 4, 17: 5, 4096: 12} {
		assert.Equal(t, want, BitsPerBlock(n), "palette of %d", n)
	}
}

func TestUnpackPaletteOfFour(t *testing.T) {
	want := pattern(4)
	words := Pack(want, BitsPerBlock(4))
	require.Len(t, words, 128)

	got, err := Unpack(words, 2, 4)
	require.NoError(t, err)
	require.Len(t, got, SectionVolume)
	for i, v := range got {
		require.Less(t, v, uint16(4), "index %d", i)
	}
	assert.Equal(t, want, got)
}

func TestUnpackBitOrder(t *testing.T) {
	// At 5 bits index 12 takes bits 60-63 of the first word and bit 0 of the second.
	words := make([]uint64, 5*64)
	words[0] = 3 | 17<<5 | 0xf<<60
	words[1] = 1 | 9<<1

	got, err := Unpack(words, 5, 32)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), got[0])
	assert.Equal(t, uint16(17), got[1])
	assert.Equal(t, uint16(0), got[2])
	assert.Equal(t, uint16(31), got[12])
	assert.Equal(t, uint16(9), got[13])
}

func TestUnpackWiderStorage(t *testing.T) {
	want := pattern(4)
	words := Pack(want, 4)
	require.Len(t, words, 256)

	got, err := Unpack(words, BitsPerBlock(4), 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUnpackErrors(t *testing.T) {
	words := Pack(pattern(4), 2)
	_, err := Unpack(words, 2, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.ErrorIs(t, err, fault.ErrMalformedInput)

	_, err = Unpack(words[:10], 2, 4)
	assert.ErrorIs(t, err, ErrBlockStatesLength)

	got, err := Unpack(nil, 0, 1)
	require.NoError(t, err)
	assert.Len(t, got, SectionVolume)
}

func sampleChunk() *Chunk {
	return &Chunk{
		X: -7,
		Z: 12,
		Sections: []Section{
			{Y: -4},
			{
				Y:            0,
				Palette:      []string{"minecraft:air", "minecraft:stone", "minecraft:oak_stairs;facing=north;half=top", "minecraft:dirt"},
				BitsPerBlock: 2,
				Indices:      pattern(4),
				BlockLight:   make([]byte, 2048),
			},
			{
				Y:            1,
				Palette:      []string{"minecraft:air"},
				BitsPerBlock: 0,
			},
		},
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	in := sampleChunk()
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Parse(nbt.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int32(-7), out.X)
	assert.Equal(t, int32(12), out.Z)
	require.Len(t, out.Sections, 3)

	assert.Equal(t, int8(-4), out.Sections[0].Y)
	assert.True(t, out.Sections[0].Empty())
	assert.Nil(t, out.Sections[0].Indices)
	assert.Equal(t, "", out.Sections[0].Block(1, 2, 3))

	s := out.Sections[1]
	assert.Equal(t, in.Sections[1].Palette, s.Palette)
	assert.Equal(t, 2, s.BitsPerBlock)
	assert.Equal(t, in.Sections[1].Indices, s.Indices)
	assert.Equal(t, in.Sections[1].BlockLight, s.BlockLight)
	assert.Nil(t, s.SkyLight)

	assert.Equal(t, []string{"minecraft:air"}, out.Sections[2].Palette)
	assert.Equal(t, "minecraft:air", out.Sections[2].Block(15, 15, 15))
}

func TestParseVanillaWidth(t *testing.T) {
	c := sampleChunk()
	c.Sections[1].BitsPerBlock = 4
	data, err := Encode(c)
	require.NoError(t, err)

	out, err := Parse(nbt.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Sections[1].BitsPerBlock)
	assert.Equal(t, c.Sections[1].Indices, out.Sections[1].Indices)
}

func TestParseSectionsAtRoot(t *testing.T) {
	data, err := nbt.MarshalBytes(nbt.Compound{
		{Name: "DataVersion", Value: int32(2975)},
		{Name: "Sections", Value: []nbt.Compound{
			{{Name: "Y", Value: int8(-1)}},
		}},
	})
	require.NoError(t, err)

	out, err := Parse(nbt.NewReader(data))
	require.NoError(t, err)
	require.Len(t, out.Sections, 1)
	assert.Equal(t, int8(-1), out.Sections[0].Y)
}

func TestParseMissingSections(t *testing.T) {
	data, err := nbt.MarshalBytes(nbt.Compound{
		{Name: "Level", Value: nbt.Compound{{Name: "xPos", Value: int32(1)}}},
	})
	require.NoError(t, err)

	_, err = Parse(nbt.NewReader(data))
	assert.ErrorIs(t, err, ErrMissingSections)
	var opErr *fault.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "tag lookup", opErr.Op)
}

func TestParseBadPalette(t *testing.T) {
	data, err := nbt.MarshalBytes(nbt.Compound{
		{Name: "Sections", Value: []nbt.Compound{{
			{Name: "Y", Value: int8(0)},
			{Name: "Palette", Value: []nbt.Compound{{{Name: "Properties", Value: nbt.Compound{}}}}},
		}}},
	})
	require.NoError(t, err)

	_, err = Parse(nbt.NewReader(data))
	assert.ErrorIs(t, err, ErrBadPalette)
}

func TestParseTruncated(t *testing.T) {
	data, err := Encode(sampleChunk())
	require.NoError(t, err)

	_, err = Parse(nbt.NewReader(data[:len(data)-600]))
	assert.ErrorIs(t, err, nbt.ErrTruncated)
	assert.ErrorIs(t, err, fault.ErrShortRead)
}

func TestSectionIndex(t *testing.T) {
	assert.Equal(t, 0x231, Index(1, 2, 3))
	assert.Equal(t, SectionVolume-1, Index(15, 15, 15))

	s := Section{Palette: []string{"a", "b"}, Indices: make([]uint16, SectionVolume)}
	s.Indices[Index(4, 5, 6)] = 1
	assert.Equal(t, "b", s.Block(4, 5, 6))
	assert.Equal(t, "a", s.Block(6, 5, 4))
}

func TestPaletteResolvesAgainstTable(t *testing.T) {
	table, err := blocks.Build([]byte(`{
		"minecraft:air": {"states": [{"id": 0, "default": true}]},
		"minecraft:stone": {"states": [{"id": 1, "default": true}]},
		"minecraft:oak_stairs": {"states": [
			{"properties": {"facing": "north", "half": "top"}, "id": 2},
			{"properties": {"facing": "north", "half": "bottom"}, "id": 3, "default": true}
		]},
		"minecraft:dirt": {"states": [{"id": 4, "default": true}]}
	}`))
	require.NoError(t, err)

	data, err := Encode(sampleChunk())
	require.NoError(t, err)
	out, err := Parse(nbt.NewReader(data))
	require.NoError(t, err)

	var ids []int32
	for _, key := range out.Sections[1].Palette {
		id, ok := table.Lookup(key)
		require.True(t, ok, key)
		ids = append(ids, id)
	}
	assert.Equal(t, []int32{0, 1, 2, 4}, ids)
}
