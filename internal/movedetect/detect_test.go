package movedetect

import (
	"errors"
	"testing"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestDetectNoChange(t *testing.T) {
	moves, err := Detect(startFEN, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR")
	if err != nil || moves != nil {
		t.Fatalf("want nil/nil, got %v %v", moves, err)
	}
}

func TestDetectSinglePly(t *testing.T) {
	moves, err := Detect(startFEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(moves) != 1 || moves[0] != "e2e4" {
		t.Fatalf("want [e2e4], got %v", moves)
	}
}

func TestDetectTwoPly(t *testing.T) {
	moves, err := Detect(startFEN, "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(moves) != 2 || moves[0] != "e2e4" || moves[1] != "e7e5" {
		t.Fatalf("want [e2e4 e7e5], got %v", moves)
	}
}

func TestDetectUnreachable(t *testing.T) {
	// both rooks gone: not reachable in two plies
	_, err := Detect(startFEN, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/1NBQKBN1")
	if !errors.Is(err, ErrNoMove) {
		t.Fatalf("want ErrNoMove, got %v", err)
	}
}

func TestDetectCastling(t *testing.T) {
	fen := "r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1"
	moves, err := Detect(fen, "r3k2r/8/8/8/8/8/8/R4RK1")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(moves) != 1 || moves[0] != "e1g1" {
		t.Fatalf("want [e1g1], got %v", moves)
	}
}

func TestDetectFromReplay(t *testing.T) {
	g, err := ReplayUCI([]string{"e2e4", "e7e5", "g1f3"})
	if err != nil {
		t.Fatalf("ReplayUCI: %v", err)
	}
	moves, err := DetectGame(g, "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R")
	if err != nil {
		t.Fatalf("DetectGame: %v", err)
	}
	if len(moves) != 1 || moves[0] != "b8c6" {
		t.Fatalf("want [b8c6], got %v", moves)
	}
}

func TestReplayRejectsIllegal(t *testing.T) {
	if _, err := ReplayUCI([]string{"e2e5"}); err == nil {
		t.Fatalf("expected error for illegal move")
	}
}

func TestBoardFEN(t *testing.T) {
	if got := BoardFEN(startFEN); got != "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR" {
		t.Fatalf("BoardFEN = %q", got)
	}
	if got := BoardFEN(" 8/8/8/8/8/8/8/8 "); got != "8/8/8/8/8/8/8/8" {
		t.Fatalf("BoardFEN = %q", got)
	}
}

func TestNewGameBadFEN(t *testing.T) {
	if _, err := NewGame("not a fen"); err == nil {
		t.Fatalf("expected error")
	}
}
