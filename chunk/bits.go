package chunk

import (
	"fmt"
	"math/bits"

	"github.com/astei/chowder/fault"
)

// SectionVolume is the number of blocks in a 16x16x16 section.
const SectionVolume = 16 * 16 * 16

// maxBits is the widest index the uint16 index slice can hold.
const maxBits = 16

var (
	ErrIndexOutOfRange   = fmt.Errorf("%w: block index outside the palette", fault.ErrMalformedInput)
	ErrBlockStatesLength = fmt.Errorf("%w: block state array does not fit the section", fault.ErrMalformedInput)
)

// BitsPerBlock is the number of bits needed to index a palette of n entries: ceil(log2(n)). A
// palette of one entry or none needs no bits at all.
func BitsPerBlock(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// storageWidth is the width the words were actually packed with. Writers may use a wider width
// than the palette requires; such arrays hold 64 words per bit of width.
func storageWidth(words []uint64, width int) int {
	if len(words)%64 == 0 && len(words)/64 > width {
		return len(words) / 64
	}
	return width
}

// Unpack decodes SectionVolume palette indices from words. The words form one bit stream, each
// word contributing its bits from least to most significant, and index i occupies stream bits
// [i*width, (i+1)*width); an index may continue into the next word. Every index must be below
// paletteLen.
func Unpack(words []uint64, width, paletteLen int) ([]uint16, error) {
	indices := make([]uint16, SectionVolume)
	if width == 0 {
		return indices, nil
	}
	width = storageWidth(words, width)
	if width > maxBits || len(words)*64 < SectionVolume*width {
		return nil, fmt.Errorf("%w: %d words at %d bits per block", ErrBlockStatesLength, len(words), width)
	}

	mask := uint64(1)<<width - 1
	for i := range indices {
		bit := i * width
		word, offset := bit/64, bit%64
		v := words[word] >> offset
		if offset+width > 64 {
			v |= words[word+1] << (64 - offset)
		}
		v &= mask
		if v >= uint64(paletteLen) {
			return nil, fmt.Errorf("%w: %d at block %d, palette has %d entries", ErrIndexOutOfRange, v, i, paletteLen)
		}
		indices[i] = uint16(v)
	}
	return indices, nil
}

// Pack is the inverse of Unpack: it stores indices width bits each into 64*width words.
func Pack(indices []uint16, width int) []uint64 {
	if width == 0 {
		return nil
	}
	words := make([]uint64, (len(indices)*width+63)/64)
	mask := uint64(1)<<width - 1
	for i, index := range indices {
		v := uint64(index) & mask
		bit := i * width
		word, offset := bit/64, bit%64
		words[word] |= v << offset
		if offset+width > 64 {
			words[word+1] |= v >> (64 - offset)
		}
	}
	return words
}
