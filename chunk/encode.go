package chunk

import (
	"github.com/astei/chowder/nbt"
)

// Encode writes c as a tag tree that Parse reads back: a root compound holding a "Level"
// compound with the chunk position and its sections. Block states are packed at the wider of a
// section's BitsPerBlock and the width its palette needs.
func Encode(c *Chunk) ([]byte, error) {
	sections := make([]nbt.Compound, 0, len(c.Sections))
	for i := range c.Sections {
		sections = append(sections, encodeSection(&c.Sections[i]))
	}
	return nbt.MarshalBytes(nbt.Compound{
		{Name: "Level", Value: nbt.Compound{
			{Name: "xPos", Value: c.X},
			{Name: "zPos", Value: c.Z},
			{Name: "Sections", Value: sections},
		}},
	})
}

func encodeSection(s *Section) nbt.Compound {
	out := nbt.Compound{{Name: "Y", Value: s.Y}}
	if s.BlockLight != nil {
		out = append(out, nbt.Field{Name: "BlockLight", Value: s.BlockLight})
	}
	if s.SkyLight != nil {
		out = append(out, nbt.Field{Name: "SkyLight", Value: s.SkyLight})
	}
	if len(s.Palette) == 0 {
		return out
	}

	palette := make([]nbt.Compound, 0, len(s.Palette))
	for _, key := range s.Palette {
		name, props := splitKey(key)
		entry := nbt.Compound{{Name: "Name", Value: name}}
		if len(props) > 0 {
			properties := make(nbt.Compound, 0, len(props))
			for _, p := range props {
				properties = append(properties, nbt.Field{Name: p.Name, Value: p.Value})
			}
			entry = append(entry, nbt.Field{Name: "Properties", Value: properties})
		}
		palette = append(palette, entry)
	}
	out = append(out, nbt.Field{Name: "Palette", Value: palette})

	width := s.BitsPerBlock
	if need := BitsPerBlock(len(s.Palette)); width < need {
		width = need
	}
	if width > 0 && s.Indices != nil {
		out = append(out, nbt.Field{Name: "BlockStates", Value: Pack(s.Indices, width)})
	}
	return out
}
