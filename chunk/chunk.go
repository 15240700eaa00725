// Package chunk decodes the tag tree of a stored chunk into its vertical sections: a palette of
// block state keys plus one palette index per block.
package chunk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/astei/chowder/blocks"
	"github.com/astei/chowder/fault"
	"github.com/astei/chowder/nbt"
)

var (
	ErrMissingSections = fmt.Errorf("%w: chunk has no sections list", fault.ErrMalformedInput)
	ErrBadPalette      = fmt.Errorf("%w: palette entry without a name", fault.ErrMalformedInput)
)

// TagTree is the positioned tag-tree access Parse needs. Every call takes the position to read at
// and returns the position after what it read. *nbt.Reader implements it.
type TagTree interface {
	Root() (payload int, name string, err error)
	Next(pos int) (kind byte, name string, payload int, err error)
	Child(compound int, kind byte, name string) (int, error)
	Seek(pos, end int, kind byte, name string) (int, error)
	End(compound int) (int, error)
	List(pos int) (elem byte, count int, first int, err error)
	Byte(pos int) (int8, int, error)
	Int(pos int) (int32, int, error)
	String(pos int) (string, int, error)
	ByteArray(pos int) ([]byte, int, error)
	LongArray(pos int) ([]uint64, int, error)
}

var _ TagTree = (*nbt.Reader)(nil)

// Chunk is one decoded chunk column.
type Chunk struct {
	X, Z     int32
	Sections []Section
}

// Section is a 16 block tall slice of a chunk. A section without a palette or without block
// states is empty and reads as palette index 0 everywhere.
type Section struct {
	Y            int8
	Palette      []string
	BitsPerBlock int
	// Indices holds SectionVolume palette indices, ordered y, then z, then x.
	Indices []uint16

	BlockLight []byte
	SkyLight   []byte
}

// Index is the position of block x, y, z (each 0-15) in Indices.
func Index(x, y, z int) int {
	return (y&15)<<8 | (z&15)<<4 | x&15
}

// At returns the palette index of the block at x, y, z.
func (s *Section) At(x, y, z int) uint16 {
	if s.Indices == nil {
		return 0
	}
	return s.Indices[Index(x, y, z)]
}

// Block returns the block state key at x, y, z, or "" for a section without a palette.
func (s *Section) Block(x, y, z int) string {
	if len(s.Palette) == 0 {
		return ""
	}
	return s.Palette[s.At(x, y, z)]
}

// Empty reports whether the section carries no block data.
func (s *Section) Empty() bool {
	return len(s.Palette) == 0
}

// Parse decodes the chunk in tree. The sections list is looked up under the root compound, or
// under its "Level" compound when there is one.
func Parse(tree TagTree) (*Chunk, error) {
	root, _, err := tree.Root()
	if err != nil {
		return nil, fault.Op("tag lookup", err)
	}
	level, err := optional(tree.Child(root, nbt.TagCompound, "Level"))
	if err != nil {
		return nil, fault.Op("tag lookup", err)
	}
	if level < 0 {
		level = root
	}

	c := &Chunk{}
	if c.X, err = optionalInt(tree, level, "xPos"); err != nil {
		return nil, fault.Op("tag lookup", err)
	}
	if c.Z, err = optionalInt(tree, level, "zPos"); err != nil {
		return nil, fault.Op("tag lookup", err)
	}

	list, err := optional(tree.Child(level, nbt.TagList, "Sections"))
	if err != nil {
		return nil, fault.Op("tag lookup", err)
	}
	if list < 0 {
		return nil, fault.Op("tag lookup", ErrMissingSections)
	}
	elem, count, pos, err := tree.List(list)
	if err != nil {
		return nil, fault.Op("tag lookup", err)
	}
	if count > 0 && elem != nbt.TagCompound {
		return nil, fault.Op("tag lookup", fmt.Errorf("%w: sections are %s", nbt.ErrWrongKind, nbt.TagName(elem)))
	}

	c.Sections = make([]Section, 0, count)
	for i := 0; i < count; i++ {
		end, err := tree.End(pos)
		if err != nil {
			return nil, fault.Op("section", err)
		}
		section, err := parseSection(tree, pos, end)
		if err != nil {
			return nil, fault.Op(fmt.Sprintf("section %d", i), err)
		}
		c.Sections = append(c.Sections, section)
		pos = end
	}
	return c, nil
}

// optional turns a missing tag into position -1.
func optional(pos int, err error) (int, error) {
	if errors.Is(err, nbt.ErrTagNotFound) {
		return -1, nil
	}
	return pos, err
}

func optionalInt(tree TagTree, compound int, name string) (int32, error) {
	pos, err := optional(tree.Child(compound, nbt.TagInt, name))
	if err != nil || pos < 0 {
		return 0, err
	}
	v, _, err := tree.Int(pos)
	return v, err
}

func optionalBytes(tree TagTree, pos, end int, name string) ([]byte, error) {
	at, err := optional(tree.Seek(pos, end, nbt.TagByteArray, name))
	if err != nil || at < 0 {
		return nil, err
	}
	b, _, err := tree.ByteArray(at)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// parseSection reads the section compound whose payload spans [pos, end).
func parseSection(tree TagTree, pos, end int) (Section, error) {
	var s Section
	yPos, err := tree.Child(pos, nbt.TagByte, "Y")
	if err != nil {
		return s, err
	}
	if s.Y, _, err = tree.Byte(yPos); err != nil {
		return s, err
	}
	if s.BlockLight, err = optionalBytes(tree, pos, end, "BlockLight"); err != nil {
		return s, err
	}
	if s.SkyLight, err = optionalBytes(tree, pos, end, "SkyLight"); err != nil {
		return s, err
	}

	palette, err := optional(tree.Seek(pos, end, nbt.TagList, "Palette"))
	if err != nil || palette < 0 {
		return s, err
	}
	if s.Palette, err = parsePalette(tree, palette); err != nil || len(s.Palette) == 0 {
		s.Palette = nil
		return s, err
	}
	s.BitsPerBlock = BitsPerBlock(len(s.Palette))

	states, err := optional(tree.Seek(pos, end, nbt.TagLongArray, "BlockStates"))
	if err != nil || states < 0 {
		return s, err
	}
	words, _, err := tree.LongArray(states)
	if err != nil {
		return s, err
	}
	s.Indices, err = Unpack(words, s.BitsPerBlock, len(s.Palette))
	return s, err
}

// parsePalette reads a list of block state compounds into keys of the form name;prop=value, with
// properties in the order they are stored.
func parsePalette(tree TagTree, list int) ([]string, error) {
	elem, count, pos, err := tree.List(list)
	if err != nil {
		return nil, err
	}
	if count > 0 && elem != nbt.TagCompound {
		return nil, fmt.Errorf("%w: palette of %s", nbt.ErrWrongKind, nbt.TagName(elem))
	}

	palette := make([]string, 0, count)
	for i := 0; i < count; i++ {
		namePos, err := optional(tree.Child(pos, nbt.TagString, "Name"))
		if err != nil {
			return nil, err
		}
		if namePos < 0 {
			return nil, fmt.Errorf("%w: entry %d", ErrBadPalette, i)
		}
		name, _, err := tree.String(namePos)
		if err != nil {
			return nil, err
		}

		var props []blocks.Property
		propPos, err := optional(tree.Child(pos, nbt.TagCompound, "Properties"))
		if err != nil {
			return nil, err
		}
		if propPos >= 0 {
			if props, err = readProperties(tree, propPos); err != nil {
				return nil, err
			}
		}
		palette = append(palette, blocks.Key(name, props...))

		if pos, err = tree.End(pos); err != nil {
			return nil, err
		}
	}
	return palette, nil
}

func readProperties(tree TagTree, pos int) ([]blocks.Property, error) {
	var props []blocks.Property
	for {
		kind, name, payload, err := tree.Next(pos)
		if err != nil {
			return nil, err
		}
		if kind == nbt.TagEnd {
			return props, nil
		}
		if kind != nbt.TagString {
			return nil, fmt.Errorf("%w: property %q is %s", nbt.ErrWrongKind, name, nbt.TagName(kind))
		}
		value, next, err := tree.String(payload)
		if err != nil {
			return nil, err
		}
		props = append(props, blocks.Property{Name: name, Value: value})
		pos = next
	}
}

// splitKey is the inverse of blocks.Key.
func splitKey(key string) (string, []blocks.Property) {
	parts := strings.Split(key, ";")
	var props []blocks.Property
	for _, part := range parts[1:] {
		name, value, _ := strings.Cut(part, "=")
		props = append(props, blocks.Property{Name: name, Value: value})
	}
	return parts[0], props
}
