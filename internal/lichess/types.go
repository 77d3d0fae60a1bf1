package lichess

import (
	"encoding/json"
	"strings"
)

// OngoingGame is one entry of /api/account/playing.
type OngoingGame struct {
	GameID   string `json:"gameId"`
	FullID   string `json:"fullId"`
	Color    string `json:"color"`
	FEN      string `json:"fen"`
	IsMyTurn bool   `json:"isMyTurn"`
	LastMove string `json:"lastMove"`
	Variant  struct {
		Key string `json:"key"`
	} `json:"variant"`
	Opponent struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Rating   int    `json:"rating"`
	} `json:"opponent"`
}

type playingResponse struct {
	NowPlaying []OngoingGame `json:"nowPlaying"`
}

// Event is one line of the incoming event stream.
type Event struct {
	Type      string          `json:"type"`
	Game      *EventGame      `json:"game,omitempty"`
	Challenge *EventChallenge `json:"challenge,omitempty"`
}

type EventGame struct {
	ID     string `json:"id"`
	GameID string `json:"gameId"`
	Color  string `json:"color"`
	FEN    string `json:"fen"`
}

// Ref returns the game id, whichever field carried it.
func (g *EventGame) Ref() string {
	if g == nil {
		return ""
	}
	if g.GameID != "" {
		return g.GameID
	}
	return g.ID
}

type EventChallenge struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Challenger struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"challenger"`
	Variant struct {
		Key string `json:"key"`
	} `json:"variant"`
	Speed string `json:"speed"`
}

// GameState is the move list and clock state of a board game.
type GameState struct {
	Type   string `json:"type"`
	Moves  string `json:"moves"`
	WTime  int64  `json:"wtime"`
	BTime  int64  `json:"btime"`
	WInc   int64  `json:"winc"`
	BInc   int64  `json:"binc"`
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
	WDraw  bool   `json:"wdraw,omitempty"`
	BDraw  bool   `json:"bdraw,omitempty"`
}

// MoveList splits the space separated move list.
func (s GameState) MoveList() []string {
	return strings.Fields(s.Moves)
}

// Finished reports whether the status is terminal.
func (s GameState) Finished() bool {
	switch s.Status {
	case "", "created", "started":
		return false
	default:
		return true
	}
}

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// GameFull is the first line of a game stream.
type GameFull struct {
	ID         string    `json:"id"`
	Rated      bool      `json:"rated"`
	White      Player    `json:"white"`
	Black      Player    `json:"black"`
	InitialFEN string    `json:"initialFen"`
	State      GameState `json:"state"`
}

type ChatLine struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	Room     string `json:"room"`
}

// GameEvent is one line of a game stream; exactly one of the pointers is set
// for known types.
type GameEvent struct {
	Type  string
	Full  *GameFull
	State *GameState
	Chat  *ChatLine
	Raw   json.RawMessage
}

func decodeGameEvent(line []byte) (GameEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return GameEvent{}, err
	}
	ev := GameEvent{Type: head.Type, Raw: append(json.RawMessage(nil), line...)}
	switch head.Type {
	case "gameFull":
		var full GameFull
		if err := json.Unmarshal(line, &full); err != nil {
			return ev, err
		}
		ev.Full = &full
	case "gameState":
		var st GameState
		if err := json.Unmarshal(line, &st); err != nil {
			return ev, err
		}
		ev.State = &st
	case "chatLine":
		var cl ChatLine
		if err := json.Unmarshal(line, &cl); err != nil {
			return ev, err
		}
		ev.Chat = &cl
	}
	return ev, nil
}
