// Package movedetect explains a sensed board layout as one or two legal plies
// from a known position.
package movedetect

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrNoMove means the sensed layout is not reachable in one or two plies.
// Callers wait for the next reading.
var ErrNoMove = errors.New("no legal move explains the sensed board")

// BoardFEN returns the board field of a FEN or board string.
func BoardFEN(fen string) string {
	fen = strings.TrimSpace(fen)
	if i := strings.IndexByte(fen, ' '); i >= 0 {
		return fen[:i]
	}
	return fen
}

// NewGame builds a game from a full FEN. An empty string or "startpos" is
// the standard starting position.
func NewGame(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return nchess.NewGame(opt), nil
}

// ReplayUCI applies a move list to the starting position.
func ReplayUCI(moves []string) (*nchess.Game, error) {
	return ReplayFrom("", moves)
}

// ReplayFrom applies a move list to the position fen.
func ReplayFrom(fen string, moves []string) (*nchess.Game, error) {
	game, err := NewGame(fen)
	if err != nil {
		return nil, err
	}
	for i, mv := range moves {
		if mv == "" {
			continue
		}
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay ply %d %q: %w", i+1, mv, err)
		}
	}
	return game, nil
}

// Detect compares the sensed layout with the position fen. It returns nil
// when nothing changed, a single move when one legal ply reproduces the
// layout, or a pair when a ply and a reply do. The first match in move
// generation order wins.
func Detect(fen, sensed string) ([]string, error) {
	game, err := NewGame(fen)
	if err != nil {
		return nil, err
	}
	return DetectGame(game, sensed)
}

// DetectGame is Detect for an already built game. game is not modified.
func DetectGame(game *nchess.Game, sensed string) ([]string, error) {
	target := BoardFEN(sensed)
	if BoardFEN(game.FEN()) == target {
		return nil, nil
	}

	type step struct {
		uci  string
		game *nchess.Game
	}
	var firstPly []step
	for _, mv := range game.ValidMoves() {
		uci := mv.String()
		next, ok := play(game, uci)
		if !ok {
			continue
		}
		if BoardFEN(next.FEN()) == target {
			return []string{uci}, nil
		}
		firstPly = append(firstPly, step{uci: uci, game: next})
	}
	for _, s := range firstPly {
		for _, reply := range s.game.ValidMoves() {
			uci := reply.String()
			next, ok := play(s.game, uci)
			if !ok {
				continue
			}
			if BoardFEN(next.FEN()) == target {
				return []string{s.uci, uci}, nil
			}
		}
	}
	return nil, ErrNoMove
}

func play(game *nchess.Game, uci string) (*nchess.Game, bool) {
	next := game.Clone()
	if err := next.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return nil, false
	}
	return next, true
}
