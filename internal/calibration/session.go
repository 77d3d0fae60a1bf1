// Package calibration learns piece signatures from a board set up in the
// standard starting position.
package calibration

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/park285/cheese-board/internal/board"
	"github.com/park285/cheese-board/internal/led"
	"github.com/park285/cheese-board/internal/signature"
)

// DefaultSamples is the number of frames collected before signatures are assigned.
const DefaultSamples = 15

var ErrIncomplete = errors.New("calibration: not enough samples")

// backRank is the starting layout of cells 0-7; cells 56-63 hold the same
// pieces in white.
var backRank = [8]board.PieceKind{
	board.BlackRook, board.BlackKnight, board.BlackBishop, board.BlackQueen,
	board.BlackKing, board.BlackBishop, board.BlackKnight, board.BlackRook,
}

// Progress describes the state of a session after a sample was added.
type Progress struct {
	SessionID string
	Samples   int
	Target    int
	LED       led.Command
	Done      bool
}

// Session collects calibration samples. It is not safe for concurrent use;
// the tracker serializes access.
type Session struct {
	ID       string
	NewSetup bool
	Target   int
	Started  time.Time

	samples []board.Frame
}

// NewSession starts a session. When newSetup is set the previous database is
// discarded on Finish instead of merged.
func NewSession(newSetup bool) *Session {
	return &Session{
		ID:       uuid.NewString(),
		NewSetup: newSetup,
		Target:   DefaultSamples,
		Started:  time.Now(),
	}
}

func (s *Session) Count() int { return len(s.samples) }

// Add records one frame and returns the LED pattern to show: the blink
// pattern after odd samples, all off after even ones and once done.
func (s *Session) Add(f board.Frame) Progress {
	if len(s.samples) < s.target() {
		s.samples = append(s.samples, f)
	}
	n := len(s.samples)
	done := n >= s.target()
	cmd := led.Idle
	if n%2 == 1 && !done {
		cmd = led.Calibrating
	}
	return Progress{
		SessionID: s.ID,
		Samples:   n,
		Target:    s.target(),
		LED:       cmd,
		Done:      done,
	}
}

func (s *Session) target() int {
	if s.Target <= 0 {
		return DefaultSamples
	}
	return s.Target
}

// Finish computes the new database. prev is merged in unless the session was
// started as a new setup.
func (s *Session) Finish(prev *signature.Database) (*signature.Database, error) {
	if len(s.samples) < s.target() {
		return nil, fmt.Errorf("%w: have %d of %d", ErrIncomplete, len(s.samples), s.target())
	}
	db := Assign(Representative(s.samples))
	if s.NewSetup {
		return db, nil
	}
	return db.Merge(prev), nil
}

// Representative picks, for every cell, the signature observed most often
// across samples. Ties go to the earliest sample holding a maximal count.
func Representative(samples []board.Frame) board.Frame {
	var out board.Frame
	if len(samples) == 0 {
		return out
	}
	for cell := 0; cell < board.Cells; cell++ {
		best, bestCount := samples[0][cell], 0
		for i := range samples {
			cand := samples[i][cell]
			count := 0
			for j := range samples {
				if samples[j][cell] == cand {
					count++
				}
			}
			if count > bestCount {
				best, bestCount = cand, count
			}
		}
		out[cell] = best
	}
	return out
}

// Assign maps a representative frame of the starting position onto piece
// kinds. Cells 16-47 are ignored. Black pawns are skipped only when their
// reading is all zero; white pawns when the reading looks empty.
func Assign(f board.Frame) *signature.Database {
	b := signature.NewBuilder()
	for i := 0; i < 8; i++ {
		if bp := f[8+i]; !bp.IsZero() {
			b.Add(board.BlackPawn, bp)
		}
		if wp := f[48+i]; !wp.Empty() {
			b.Add(board.WhitePawn, wp)
		}
	}
	for i, kind := range backRank {
		b.Add(kind, f[i])
		b.Add(kind-'a'+'A', f[56+i])
	}
	return b.Build()
}
