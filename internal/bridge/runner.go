// Package bridge plays online games from the physical board: it mirrors the
// remote move list onto the tracker and submits moves inferred from the
// sensors when it is our turn.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/gamelog"
	"github.com/park285/cheese-board/internal/lichess"
	"github.com/park285/cheese-board/internal/tracker"
)

// API is the online-play service.
type API interface {
	OngoingGames(ctx context.Context) ([]lichess.OngoingGame, error)
	MakeMove(ctx context.Context, gameID, uci string) error
	StreamEvents(ctx context.Context, fn func(lichess.Event) error) error
	StreamGame(ctx context.Context, gameID string, fn func(lichess.GameEvent) error) error
}

// Board is the tracker surface the bridge drives.
type Board interface {
	NewGame()
	SetFEN(fen string) error
	SetPosition(fen string, moves []string) error
	SetColor(c nchess.Color)
	SetReference(ref string)
	Game() *nchess.Game
	UserMove() []string
}

// MoveNotifier is told about every submitted move.
type MoveNotifier interface {
	PublishMove(m gamelog.MoveRecord)
}

var errGameOver = errors.New("game over")

type Options struct {
	Poll     time.Duration // user move polling interval
	Retry    time.Duration // first stream reconnect delay
	MaxRetry time.Duration
	Recorder gamelog.Recorder
	Notifier MoveNotifier
	Logger   *zap.Logger
}

type Runner struct {
	api   API
	board Board
	opts  Options
	log   *zap.Logger

	mu     sync.Mutex
	active string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(api API, board Board, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Poll <= 0 {
		opts.Poll = 100 * time.Millisecond
	}
	if opts.Retry <= 0 {
		opts.Retry = time.Second
	}
	if opts.MaxRetry < opts.Retry {
		opts.MaxRetry = 30 * time.Second
	}
	return &Runner{api: api, board: board, opts: opts, log: opts.Logger}
}

// Run follows the account event stream until ctx ends, reconnecting with
// backoff. Game goroutines are stopped before it returns.
func (r *Runner) Run(ctx context.Context) error {
	defer func() {
		r.stopActive()
		r.wg.Wait()
	}()
	delay := r.opts.Retry
	for {
		err := r.api.StreamEvents(ctx, func(ev lichess.Event) error {
			delay = r.opts.Retry
			r.handleEvent(ctx, ev)
			return nil
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("event_stream_closed", zap.Error(err), zap.Duration("retry_in", delay))
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
		if delay > r.opts.MaxRetry {
			delay = r.opts.MaxRetry
		}
	}
}

// Active returns the id of the game currently mirrored on the board.
func (r *Runner) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Runner) handleEvent(ctx context.Context, ev lichess.Event) {
	switch ev.Type {
	case "challenge":
		if c := ev.Challenge; c != nil {
			r.log.Info("challenge_received", zap.String("id", c.ID), zap.String("from", c.Challenger.Name), zap.String("speed", c.Speed))
		}
	case "gameStart":
		id := ev.Game.Ref()
		if id == "" {
			return
		}
		if err := r.startGame(ctx, id); err != nil {
			r.log.Error("game_setup_error", zap.String("game", id), zap.Error(err))
		}
	case "gameFinish":
		r.log.Info("game_finish_event", zap.String("game", ev.Game.Ref()))
	default:
		r.log.Debug("event_ignored", zap.String("type", ev.Type))
	}
}

// startGame prepares the board for id and starts its goroutine. A new game
// replaces the one on the board.
func (r *Runner) startGame(ctx context.Context, id string) error {
	if r.Active() == id {
		return nil
	}
	games, err := r.api.OngoingGames(ctx)
	if err != nil {
		return fmt.Errorf("ongoing games: %w", err)
	}
	var og *lichess.OngoingGame
	for i := range games {
		if games[i].GameID == id {
			og = &games[i]
			break
		}
	}
	if og == nil {
		return fmt.Errorf("game %s not in ongoing games", id)
	}
	color, err := tracker.ParseColor(og.Color)
	if err != nil {
		return err
	}
	fen := SetupFEN(*og, color)
	// drop the previous game first so a bad setup never leaves it on the board
	r.board.NewGame()
	if err := r.board.SetFEN(fen); err != nil {
		return fmt.Errorf("setup position: %w", err)
	}
	r.board.SetColor(color)
	r.board.SetReference(id)

	r.stopActive()
	gctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active = id
	r.cancel = cancel
	r.mu.Unlock()
	r.log.Info("game_start", zap.String("game", id), zap.String("color", og.Color), zap.Bool("my_turn", og.IsMyTurn), zap.String("fen", fen))

	g := newGameRun(id, color)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.play(gctx, g)
		r.mu.Lock()
		if r.active == id {
			r.active = ""
			r.cancel = nil
		}
		r.mu.Unlock()
	}()
	return nil
}

func (r *Runner) stopActive() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.active = ""
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetupFEN builds a full FEN from an ongoing-games entry. The side to move is
// ours when it is our turn and the opponent's otherwise.
func SetupFEN(og lichess.OngoingGame, color nchess.Color) string {
	toMove := color
	if !og.IsMyTurn {
		toMove = color.Other()
	}
	side := "w"
	if toMove == nchess.Black {
		side = "b"
	}
	board := strings.TrimSpace(og.FEN)
	if i := strings.IndexByte(board, ' '); i >= 0 {
		board = board[:i]
	}
	return board + " " + side + " - - 0 1"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
