package protocol

// Position is a block position as carried on the wire.
type Position struct {
	X, Y, Z int32
}

const (
	positionXZMin = -1 << 25
	positionXZMax = 1<<25 - 1
	positionYMin  = -1 << 11
	positionYMax  = 1<<11 - 1
)

// Pack encodes the position as X in the top 26 bits, Z in the next 26 and Y in the low 12.
func (pos Position) Pack() (uint64, error) {
	if pos.X < positionXZMin || pos.X > positionXZMax ||
		pos.Z < positionXZMin || pos.Z > positionXZMax ||
		pos.Y < positionYMin || pos.Y > positionYMax {
		return 0, ErrPositionRange
	}
	return uint64(pos.X)&0x3ffffff<<38 | uint64(pos.Z)&0x3ffffff<<12 | uint64(pos.Y)&0xfff, nil
}

// UnpackPosition is the inverse of Pack; every field is sign-extended.
func UnpackPosition(v uint64) Position {
	return Position{
		X: int32(int64(v) >> 38),
		Z: int32(int64(v<<26) >> 38),
		Y: int32(int64(v<<52) >> 52),
	}
}
