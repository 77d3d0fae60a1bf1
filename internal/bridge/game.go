package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/gamelog"
	"github.com/park285/cheese-board/internal/lichess"
	"github.com/park285/cheese-board/internal/movedetect"
)

// gameRun is the per-game state owned by one play goroutine. The stream
// callback only touches the header fields under mu and the states channel.
type gameRun struct {
	id      string
	color   nchess.Color
	started time.Time
	states  chan lichess.GameState

	mu         sync.Mutex
	white      string
	black      string
	initialFEN string

	synced bool
	moves  []string
	tried  string // position and move last submitted, "<plies>/<uci>"
	over   bool
}

func newGameRun(id string, color nchess.Color) *gameRun {
	return &gameRun{id: id, color: color, started: time.Now(), states: make(chan lichess.GameState, 1)}
}

// offer keeps only the newest state; every state carries the full move list.
func (g *gameRun) offer(st lichess.GameState) {
	for {
		select {
		case g.states <- st:
			return
		default:
		}
		select {
		case <-g.states:
		default:
		}
	}
}

func (g *gameRun) onEvent(ev lichess.GameEvent) error {
	switch {
	case ev.Full != nil:
		g.mu.Lock()
		g.white = playerName(ev.Full.White)
		g.black = playerName(ev.Full.Black)
		g.initialFEN = ev.Full.InitialFEN
		g.mu.Unlock()
		g.offer(ev.Full.State)
		if ev.Full.State.Finished() {
			return errGameOver
		}
	case ev.State != nil:
		g.offer(*ev.State)
		if ev.State.Finished() {
			return errGameOver
		}
	}
	return nil
}

func (g *gameRun) header() (white, black, initialFEN string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.white, g.black, g.initialFEN
}

func playerName(p lichess.Player) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// play mirrors the game stream onto the board and submits user moves until
// the game ends or ctx is cancelled.
func (r *Runner) play(ctx context.Context, g *gameRun) {
	log := r.log.With(zap.String("game", g.id))
	streamErr := make(chan error, 1)
	open := func() {
		go func() {
			streamErr <- r.api.StreamGame(ctx, g.id, func(ev lichess.GameEvent) error {
				if ev.Chat != nil {
					log.Info("chat_line", zap.String("user", ev.Chat.Username), zap.String("room", ev.Chat.Room), zap.String("text", ev.Chat.Text))
				}
				return g.onEvent(ev)
			})
		}()
	}
	open()

	ticker := time.NewTicker(r.opts.Poll)
	defer ticker.Stop()
	delay := r.opts.Retry
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-g.states:
			delay = r.opts.Retry
			if r.applyState(ctx, g, st) {
				return
			}
		case err := <-streamErr:
			// a final state may still be queued
			select {
			case st := <-g.states:
				if r.applyState(ctx, g, st) {
					return
				}
			default:
			}
			if errors.Is(err, errGameOver) || ctx.Err() != nil {
				return
			}
			log.Warn("game_stream_closed", zap.Error(err), zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return
			}
			delay *= 2
			if delay > r.opts.MaxRetry {
				delay = r.opts.MaxRetry
			}
			open()
		case <-ticker.C:
			r.tryMove(ctx, g, log)
		}
	}
}

// applyState replays the remote move list onto the board. It reports whether
// the game is over.
func (r *Runner) applyState(ctx context.Context, g *gameRun, st lichess.GameState) bool {
	_, _, initialFEN := g.header()
	moves := st.MoveList()
	if err := r.board.SetPosition(initialFEN, moves); err != nil {
		r.log.Warn("game_replay_error", zap.String("game", g.id), zap.Error(err))
	} else {
		g.synced = true
		g.moves = moves
	}
	if !st.Finished() {
		return false
	}
	if !g.over {
		g.over = true
		r.finish(ctx, g, st, moves)
	}
	return true
}

func (r *Runner) finish(ctx context.Context, g *gameRun, st lichess.GameState, moves []string) {
	white, black, _ := g.header()
	r.log.Info("game_finished", zap.String("game", g.id), zap.String("status", st.Status), zap.String("winner", st.Winner), zap.Int("plies", len(moves)))
	if r.opts.Recorder == nil {
		return
	}
	rec := gamelog.GameRecord{
		GameID:    g.id,
		White:     white,
		Black:     black,
		Color:     colorName(g.color),
		Status:    st.Status,
		Winner:    st.Winner,
		MovesUCI:  append([]string(nil), moves...),
		StartedAt: g.started,
		EndedAt:   time.Now(),
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.opts.Recorder.SaveGame(sctx, rec); err != nil {
		r.log.Error("game_save_error", zap.String("game", g.id), zap.Error(err))
	}
}

// tryMove submits the first ply of the user move when it is our turn.
func (r *Runner) tryMove(ctx context.Context, g *gameRun, log *zap.Logger) {
	if !g.synced || g.over {
		return
	}
	game := r.board.Game()
	if game.Position().Turn() != g.color {
		return
	}
	plies := r.board.UserMove()
	if len(plies) == 0 {
		return
	}
	uci := plies[0]
	key := strings.Join(g.moves, " ") + "/" + uci
	if key == g.tried {
		return
	}
	g.tried = key

	rec := gamelog.MoveRecord{
		GameID:      g.id,
		Ply:         len(g.moves) + 1,
		UCI:         uci,
		Plies:       plies,
		Color:       colorName(g.color),
		FENBefore:   game.FEN(),
		Sensed:      sensedAfter(game, plies),
		SubmittedAt: time.Now(),
	}
	err := r.api.MakeMove(ctx, g.id, uci)
	if err != nil {
		var apiErr *lichess.APIError
		if !errors.As(err, &apiErr) {
			// transport failure; retry on the next tick
			g.tried = ""
		}
		rec.Error = err.Error()
		log.Warn("move_submit_error", zap.String("uci", uci), zap.Error(err))
	} else {
		rec.Accepted = true
		log.Info("move_submitted", zap.String("uci", uci), zap.Strings("plies", plies))
	}
	if r.opts.Recorder != nil {
		if rerr := r.opts.Recorder.RecordMove(ctx, rec); rerr != nil {
			log.Warn("move_record_error", zap.Error(rerr))
		}
	}
	if r.opts.Notifier != nil {
		r.opts.Notifier.PublishMove(rec)
	}
}

// sensedAfter is the board the sensors reported: the position after plies.
func sensedAfter(game *nchess.Game, plies []string) string {
	next, err := movedetect.ReplayFrom(game.FEN(), plies)
	if err != nil {
		return ""
	}
	return movedetect.BoardFEN(next.FEN())
}

func colorName(c nchess.Color) string {
	if c == nchess.Black {
		return "black"
	}
	return "white"
}
