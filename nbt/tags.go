// Package nbt reads and writes the tag-tree format used for chunk data.
//
// Reading goes through Reader, which never keeps a cursor of its own: every method takes the
// position to read at and returns the position after what it read, so walking back to an earlier
// point is just reusing an earlier position.
package nbt

import (
	"fmt"

	"github.com/astei/chowder/fault"
)

const (
	TagEnd byte = iota
	TagByte
	TagShort
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagByteArray
	TagString
	TagList
	TagCompound
	TagIntArray
	TagLongArray
)

var (
	ErrTruncated   = fmt.Errorf("%w: tag tree truncated", fault.ErrShortRead)
	ErrUnknownTag  = fmt.Errorf("%w: unknown tag type", fault.ErrMalformedInput)
	ErrWrongKind   = fmt.Errorf("%w: tag has an unexpected type", fault.ErrMalformedInput)
	ErrBadLength   = fmt.Errorf("%w: negative length in tag tree", fault.ErrMalformedInput)
	ErrTooDeep     = fmt.Errorf("%w: tag tree nested too deeply", fault.ErrResourceLimit)
	ErrTagNotFound = fmt.Errorf("%w: tag not found", fault.ErrMalformedInput)
)

var tagNames = [...]string{
	TagEnd:       "End",
	TagByte:      "Byte",
	TagShort:     "Short",
	TagInt:       "Int",
	TagLong:      "Long",
	TagFloat:     "Float",
	TagDouble:    "Double",
	TagByteArray: "ByteArray",
	TagString:    "String",
	TagList:      "List",
	TagCompound:  "Compound",
	TagIntArray:  "IntArray",
	TagLongArray: "LongArray",
}

// TagName returns a readable name for a tag type.
func TagName(kind byte) string {
	if int(kind) < len(tagNames) {
		return tagNames[kind]
	}
	return fmt.Sprintf("Tag(%d)", kind)
}
