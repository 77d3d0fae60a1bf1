package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Channels is the number of raw readings per cell.
	Channels = 5
	// Cells is the number of squares on the board.
	Cells = 64
	// FrameValues is the number of integers in one valid frame payload.
	FrameValues = Cells * Channels
)

// Signature is one raw reading set for one cell.
type Signature [Channels]int

// Empty reports whether the reading looks like a vacant square: more than two
// of the five channels are zero.
func (s Signature) Empty() bool {
	zeros := 0
	for _, v := range s {
		if v == 0 {
			zeros++
		}
	}
	return zeros > 2
}

// IsZero reports whether every channel is zero.
func (s Signature) IsZero() bool { return s == Signature{} }

func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

// Frame is one full board sample. Index 0 is the top-left cell as wired,
// row-major, eight cells per rank.
type Frame [Cells]Signature

// Cell returns the signature at index n (0..63).
func (f Frame) Cell(n int) Signature { return f[n] }

var ErrFrameLength = errors.New("board: frame must contain exactly 320 values")

// ParseFrame decodes a whitespace separated list of 320 decimal integers.
func ParseFrame(payload string) (Frame, error) {
	var f Frame
	fields := strings.Fields(payload)
	if len(fields) != FrameValues {
		return f, fmt.Errorf("%w: got %d", ErrFrameLength, len(fields))
	}
	for i, tok := range fields {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return f, fmt.Errorf("board: value %d: %w", i, err)
		}
		f[i/Channels][i%Channels] = v
	}
	return f, nil
}

// PieceKind is a piece letter in standard notation; lowercase is black.
type PieceKind byte

const (
	BlackPawn   PieceKind = 'p'
	BlackRook   PieceKind = 'r'
	BlackKnight PieceKind = 'n'
	BlackBishop PieceKind = 'b'
	BlackKing   PieceKind = 'k'
	BlackQueen  PieceKind = 'q'
	WhitePawn   PieceKind = 'P'
	WhiteRook   PieceKind = 'R'
	WhiteKnight PieceKind = 'N'
	WhiteBishop PieceKind = 'B'
	WhiteKing   PieceKind = 'K'
	WhiteQueen  PieceKind = 'Q'
)

// Kinds lists every piece kind in resolution order. When one signature is
// registered under several kinds, the earliest kind in this list wins.
var Kinds = [12]PieceKind{
	BlackPawn, WhitePawn,
	BlackRook, WhiteRook,
	BlackKnight, WhiteKnight,
	BlackBishop, WhiteBishop,
	BlackKing, WhiteKing,
	BlackQueen, WhiteQueen,
}

// Rank returns the position of k in Kinds, or len(Kinds) for invalid kinds.
func (k PieceKind) Rank() int {
	for i, kind := range Kinds {
		if kind == k {
			return i
		}
	}
	return len(Kinds)
}

func (k PieceKind) Valid() bool { return k.Rank() < len(Kinds) }

func (k PieceKind) String() string { return string(rune(k)) }

// StartingLayout is the board field of the standard starting position.
const StartingLayout = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"
