// Package led encodes the 8-byte LED commands understood by the board.
//
// Byte i drives rank 8-i; within a byte bit f lights file f (a = 0).
package led

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/park285/cheese-board/internal/board"
)

// Command is one LED frame as written to the serial link.
type Command [8]byte

var (
	// Idle turns every LED off.
	Idle = Command{}
	// Calibrating is shown on odd calibration samples.
	Calibrating = Command{0xff, 0xff, 0, 0, 0, 0, 0xff, 0xff}
)

func (c Command) IsIdle() bool { return c == Idle }

func (c Command) String() string { return fmt.Sprintf("% x", c[:]) }

// FromMask encodes a square mask (bit n = square n, a1 = 0 .. h8 = 63).
func FromMask(mask uint64) Command {
	var c Command
	binary.BigEndian.PutUint64(c[:], mask)
	return c
}

// Mask is the inverse of FromMask.
func (c Command) Mask() uint64 { return binary.BigEndian.Uint64(c[:]) }

// Lit reports whether the LED for square sq (a1 = 0) is on.
func (c Command) Lit(sq int) bool { return c.Mask()&(1<<uint(sq)) != 0 }

// DiffMask returns the squares whose contents differ between two layouts.
func DiffMask(expected, sensed board.Layout) uint64 {
	var mask uint64
	for i := range expected {
		if expected[i] != sensed[i] {
			mask |= 1 << uint(board.Square(i))
		}
	}
	return mask
}

// Diff lights every square where the sensed board field differs from the
// expected one. When the board is mounted rotated the mask is mirrored so the
// physical squares light up.
func Diff(expected, sensed string, rotate bool) (Command, error) {
	e, err := board.ParseLayout(expected)
	if err != nil {
		return Idle, fmt.Errorf("expected layout: %w", err)
	}
	s, err := board.ParseLayout(sensed)
	if err != nil {
		return Idle, fmt.Errorf("sensed layout: %w", err)
	}
	mask := DiffMask(e, s)
	if rotate {
		mask = bits.Reverse64(mask)
	}
	return FromMask(mask), nil
}

// MoveHighlight lights the source and destination squares of a UCI move.
func MoveHighlight(uci string, rotate bool) (Command, error) {
	if len(uci) < 4 {
		return Idle, fmt.Errorf("move %q too short", uci)
	}
	from, err := parseSquare(uci[0:2])
	if err != nil {
		return Idle, err
	}
	to, err := parseSquare(uci[2:4])
	if err != nil {
		return Idle, err
	}
	mask := uint64(1)<<uint(from) | uint64(1)<<uint(to)
	if rotate {
		mask = bits.Reverse64(mask)
	}
	return FromMask(mask), nil
}

func parseSquare(s string) (int, error) {
	f, r := s[0], s[1]
	if f < 'a' || f > 'h' || r < '1' || r > '8' {
		return 0, fmt.Errorf("bad square %q", s)
	}
	return int(r-'1')*8 + int(f-'a'), nil
}
