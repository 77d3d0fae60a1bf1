package board

import (
	"fmt"
	"strings"
)

// Layout is an expanded board: index 0 is a8, index 63 is h1, zero bytes are
// empty squares. It is the array form of a BoardString.
type Layout [Cells]byte

// ParseLayout expands the board field of a FEN. Trailing FEN fields are ignored.
func ParseLayout(s string) (Layout, error) {
	var l Layout
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	ranks := strings.Split(s, "/")
	if len(ranks) != 8 {
		return l, fmt.Errorf("board: %q: want 8 ranks, got %d", s, len(ranks))
	}
	for r, rank := range ranks {
		file := 0
		for i := 0; i < len(rank); i++ {
			c := rank[i]
			switch {
			case c >= '1' && c <= '8':
				file += int(c - '0')
			case PieceKind(c).Valid():
				if file >= 8 {
					return l, fmt.Errorf("board: %q: rank %d overflows", s, 8-r)
				}
				l[r*8+file] = c
				file++
			default:
				return l, fmt.Errorf("board: %q: bad character %q", s, c)
			}
		}
		if file != 8 {
			return l, fmt.Errorf("board: %q: rank %d has %d files", s, 8-r, file)
		}
	}
	return l, nil
}

// String formats the layout as a FEN board field.
func (l Layout) String() string {
	var b strings.Builder
	b.Grow(71)
	for r := 0; r < 8; r++ {
		if r > 0 {
			b.WriteByte('/')
		}
		run := 0
		for f := 0; f < 8; f++ {
			c := l[r*8+f]
			if c == 0 {
				run++
				continue
			}
			if run > 0 {
				b.WriteByte(byte('0' + run))
				run = 0
			}
			b.WriteByte(c)
		}
		if run > 0 {
			b.WriteByte(byte('0' + run))
		}
	}
	return b.String()
}

// Rotate returns the layout turned by 180 degrees.
func (l Layout) Rotate() Layout {
	var out Layout
	for i, c := range l {
		out[Cells-1-i] = c
	}
	return out
}

// Square converts a layout index into the a1 = 0 square numbering used by the
// chess library and the LED mask.
func Square(index int) int {
	row, file := index/8, index%8
	return (7-row)*8 + file
}

// RotateString turns a board field by 180 degrees by reversing rank order and
// the characters inside every rank.
func RotateString(s string) string {
	ranks := strings.Split(s, "/")
	out := make([]string, len(ranks))
	for i, rank := range ranks {
		b := []byte(rank)
		for x, y := 0, len(b)-1; x < y; x, y = x+1, y-1 {
			b[x], b[y] = b[y], b[x]
		}
		out[len(ranks)-1-i] = string(b)
	}
	return strings.Join(out, "/")
}
