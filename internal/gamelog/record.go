// Package gamelog records moves submitted from the board and finished games.
package gamelog

import (
	"context"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// Recorder persists board activity. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordMove(ctx context.Context, m MoveRecord) error
	SaveGame(ctx context.Context, g GameRecord) error
}

// MoveRecord is one move inferred from the board and submitted online.
type MoveRecord struct {
	GameID      string
	Ply         int
	UCI         string
	Plies       []string // full inferred sequence; the first ply is the one submitted
	Color       string
	FENBefore   string
	Sensed      string
	Accepted    bool
	Error       string
	SubmittedAt time.Time
}

// GameRecord is a finished game.
type GameRecord struct {
	GameID    string
	White     string
	Black     string
	Color     string // side played from the board
	Status    string
	Winner    string
	MovesUCI  []string
	StartedAt time.Time
	EndedAt   time.Time
}

// Result maps the winner to a PGN result token.
func (g GameRecord) Result() string {
	switch strings.ToLower(strings.TrimSpace(g.Winner)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	}
	switch strings.ToLower(g.Status) {
	case "draw", "stalemate":
		return "1/2-1/2"
	default:
		return "*"
	}
}

// SAN converts the UCI move list to SAN. It stops at the first move that does
// not replay.
func (g GameRecord) SAN() []string {
	game := nchess.NewGame()
	out := make([]string, 0, len(g.MovesUCI))
	for _, uci := range g.MovesUCI {
		pos := game.Position()
		mv, err := nchess.UCINotation{}.Decode(pos, uci)
		if err != nil {
			break
		}
		san := nchess.AlgebraicNotation{}.Encode(pos, mv)
		if err := game.Move(mv, nil); err != nil {
			break
		}
		out = append(out, san)
	}
	return out
}

// PGN renders the game with a minimal header set.
func (g GameRecord) PGN() string {
	var b strings.Builder
	date := g.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := g.Result()
	b.WriteString("[Event \"Lichess board game\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"https://lichess.org/%s\"]\n", sanitizePGN(g.GameID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(orUnknown(g.White))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(orUnknown(g.Black))))
	if s := strings.TrimSpace(g.Status); s != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(s))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	san := g.SAN()
	for i := 0; i < len(san); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, san[i]))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(san[i+1])
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
