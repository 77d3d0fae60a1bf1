// Package tracker owns the shared board state: the signature database, the
// authoritative game, the sensed layout and the calibration mode.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/board"
	"github.com/park285/cheese-board/internal/calibration"
	"github.com/park285/cheese-board/internal/led"
	"github.com/park285/cheese-board/internal/movedetect"
	"github.com/park285/cheese-board/internal/reconstruct"
	"github.com/park285/cheese-board/internal/signature"
)

type Mode int

const (
	ModeTracking Mode = iota
	ModeCalibrating
)

func (m Mode) String() string {
	if m == ModeCalibrating {
		return "calibrating"
	}
	return "tracking"
}

// LEDSender accepts LED commands without blocking.
type LEDSender interface {
	Send(cmd [8]byte)
}

// Sink receives snapshots from the publish worker.
type Sink interface {
	Publish(s Snapshot)
}

var ErrQueueFull = errors.New("tracker: persist queue full")

type Options struct {
	Store         signature.Store
	Database      *signature.Database
	Reconstructor reconstruct.Reconstructor
	LED           LEDSender
	Logger        *zap.Logger
	// OnPersistError is called from the worker when saving a calibration fails.
	OnPersistError func(err error)
	PersistTimeout time.Duration
}

type Tracker struct {
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	db        *signature.Database
	game      *nchess.Game
	color     nchess.Color
	reference string
	mode      Mode
	session   *calibration.Session
	progress  *calibration.Progress
	history   reconstruct.History
	sensed    string
	lastLED   led.Command
	ledSent   bool
	link      string
	version   uint64
	updated   time.Time

	sinkM sync.RWMutex
	sinks []Sink

	persistCh chan *signature.Database
	publishCh chan Snapshot
}

func New(opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	db := opts.Database
	if db == nil {
		db = signature.New()
	}
	return &Tracker{
		opts:      opts,
		log:       opts.Logger,
		db:        db,
		game:      nchess.NewGame(),
		color:     nchess.White,
		link:      "disconnected",
		updated:   time.Now(),
		persistCh: make(chan *signature.Database, 4),
		publishCh: make(chan Snapshot, 32),
	}
}

// AddSink registers s for snapshot delivery.
func (t *Tracker) AddSink(s Sink) {
	if s == nil {
		return
	}
	t.sinkM.Lock()
	t.sinks = append(t.sinks, s)
	t.sinkM.Unlock()
}

// Run drives the persist and publish workers until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case db := <-t.persistCh:
			t.persist(ctx, db)
		case s := <-t.publishCh:
			t.sinkM.RLock()
			sinks := make([]Sink, len(t.sinks))
			copy(sinks, t.sinks)
			t.sinkM.RUnlock()
			for _, sink := range sinks {
				sink.Publish(s)
			}
		}
	}
}

func (t *Tracker) persist(ctx context.Context, db *signature.Database) {
	if t.opts.Store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, t.opts.PersistTimeout)
	defer cancel()
	if err := t.opts.Store.Save(pctx, db); err != nil {
		t.reportPersistError(err)
		return
	}
	t.log.Info("calibration_saved", zap.Int("signatures", db.Len()))
}

func (t *Tracker) reportPersistError(err error) {
	t.log.Error("calibration_persist_error", zap.Error(err))
	if t.opts.OnPersistError != nil {
		t.opts.OnPersistError(err)
	}
}

// HandleFrame consumes one frame. It runs on the transport goroutine and
// never blocks on I/O.
func (t *Tracker) HandleFrame(f board.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode == ModeCalibrating {
		t.calibrateLocked(f)
		return
	}

	t.history.Push(f)
	if !t.history.Filled() {
		return
	}
	sensed, err := t.opts.Reconstructor.Reconstruct(t.db, t.history.Samples())
	if err != nil {
		t.log.Debug("board_indeterminate", zap.Error(err))
		return
	}
	changed := sensed != t.sensed
	t.sensed = sensed
	t.diffLEDsLocked()
	if changed {
		t.log.Debug("board_sensed", zap.String("board", sensed))
		t.touchLocked()
	}
}

func (t *Tracker) calibrateLocked(f board.Frame) {
	p := t.session.Add(f)
	t.progress = &p
	t.sendLocked(p.LED)
	t.log.Info("calibration_sample", zap.String("session", p.SessionID), zap.Int("samples", p.Samples), zap.Int("target", p.Target))
	if !p.Done {
		t.touchLocked()
		return
	}
	db, err := t.session.Finish(t.db)
	if err != nil {
		t.log.Error("calibration_finish_error", zap.Error(err))
		t.leaveCalibrationLocked()
		return
	}
	t.db = db
	t.log.Info("calibration_complete", zap.String("session", p.SessionID), zap.Int("signatures", db.Len()), zap.Bool("new_setup", t.session.NewSetup))
	t.leaveCalibrationLocked()
	select {
	case t.persistCh <- db:
	default:
		go t.reportPersistError(ErrQueueFull)
	}
}

func (t *Tracker) leaveCalibrationLocked() {
	t.mode = ModeTracking
	t.session = nil
	t.progress = nil
	t.history.Reset()
	t.sendLocked(led.Idle)
	t.touchLocked()
}

// StartCalibration switches to calibration mode. Frames feed the new session
// until it completes or is cancelled.
func (t *Tracker) StartCalibration(newSetup bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = calibration.NewSession(newSetup)
	t.progress = nil
	t.mode = ModeCalibrating
	t.history.Reset()
	t.log.Info("calibration_start", zap.String("session", t.session.ID), zap.Bool("new_setup", newSetup))
	t.touchLocked()
	return t.session.ID
}

// CancelCalibration drops a running session and its samples. It reports
// whether a session was active.
func (t *Tracker) CancelCalibration() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode != ModeCalibrating {
		return false
	}
	t.log.Info("calibration_cancel", zap.String("session", t.session.ID), zap.Int("samples", t.session.Count()))
	t.leaveCalibrationLocked()
	return true
}

// SetLink records the transport state shown in snapshots. Any state other
// than "connected" is a gap in the frame stream.
func (t *Tracker) SetLink(state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state == t.link {
		return
	}
	t.link = state
	if state != "connected" {
		t.history.Reset()
		t.ledSent = false
	}
	t.touchLocked()
}

// NewGame resets the authoritative position to the starting position.
func (t *Tracker) NewGame() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.game = nchess.NewGame()
	t.positionChangedLocked()
}

// SetFEN replaces the authoritative position.
func (t *Tracker) SetFEN(fen string) error {
	g, err := movedetect.NewGame(fen)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.game = g
	t.positionChangedLocked()
	return nil
}

// SetMoves rebuilds the authoritative position by replaying moves from the
// standard starting position.
func (t *Tracker) SetMoves(moves []string) error {
	g, err := movedetect.ReplayUCI(moves)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.game = g
	t.positionChangedLocked()
	return nil
}

// SetPosition replays moves from fen; an empty fen or "startpos" is the
// standard starting position.
func (t *Tracker) SetPosition(fen string, moves []string) error {
	g, err := movedetect.ReplayFrom(fen, moves)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.game = g
	t.positionChangedLocked()
	return nil
}

func (t *Tracker) positionChangedLocked() {
	if t.sensed != "" {
		t.diffLEDsLocked()
	}
	t.touchLocked()
}

func (t *Tracker) SetColor(c nchess.Color) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.color = c
	t.touchLocked()
}

func (t *Tracker) SetReference(ref string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reference = ref
	t.touchLocked()
}

// Game returns a copy of the authoritative game.
func (t *Tracker) Game() *nchess.Game {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.game.Clone()
}

// Database returns the current signature database.
func (t *Tracker) Database() *signature.Database {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.db
}

// Mode returns the current operating mode.
func (t *Tracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// UserMove infers the move(s) that explain the sensed board. It returns nil
// while the board is unchanged, indeterminate or unexplainable.
func (t *Tracker) UserMove() []string {
	t.mu.Lock()
	if t.mode != ModeTracking || t.sensed == "" {
		t.mu.Unlock()
		return nil
	}
	game := t.game.Clone()
	sensed := t.sensed
	t.mu.Unlock()

	moves, err := movedetect.DetectGame(game, sensed)
	if err != nil {
		if !errors.Is(err, movedetect.ErrNoMove) {
			t.log.Warn("move_detect_error", zap.Error(err))
		}
		return nil
	}
	return moves
}

// WaitUserMove polls UserMove every poll interval until a move appears or
// ctx ends.
func (t *Tracker) WaitUserMove(ctx context.Context, poll time.Duration) ([]string, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if moves := t.UserMove(); len(moves) > 0 {
			return moves, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Tracker) diffLEDsLocked() {
	expected := movedetect.BoardFEN(t.game.FEN())
	cmd, err := led.Diff(expected, t.sensed, t.opts.Reconstructor.Rotate)
	if err != nil {
		t.log.Warn("led_diff_error", zap.Error(err))
		return
	}
	t.sendLocked(cmd)
}

// sendLocked forwards cmd unless it equals the last command sent on this link.
func (t *Tracker) sendLocked(cmd led.Command) {
	if t.ledSent && cmd == t.lastLED {
		return
	}
	t.lastLED = cmd
	t.ledSent = true
	if t.opts.LED != nil {
		t.opts.LED.Send(cmd)
	}
}

func (t *Tracker) touchLocked() {
	t.version++
	t.updated = time.Now()
	s := t.snapshotLocked()
	select {
	case t.publishCh <- s:
	default:
		t.log.Debug("snapshot_dropped", zap.Uint64("version", s.Version))
	}
}

func colorName(c nchess.Color) string {
	switch c {
	case nchess.White:
		return "white"
	case nchess.Black:
		return "black"
	default:
		return ""
	}
}

// ParseColor accepts "white"/"black" (or "w"/"b").
func ParseColor(s string) (nchess.Color, error) {
	switch s {
	case "white", "w":
		return nchess.White, nil
	case "black", "b":
		return nchess.Black, nil
	default:
		return nchess.NoColor, fmt.Errorf("unknown color %q", s)
	}
}
