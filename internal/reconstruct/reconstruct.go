// Package reconstruct turns a short frame history into a board layout by
// voting over resolved cell signatures.
package reconstruct

import (
	"errors"
	"fmt"

	"github.com/park285/cheese-board/internal/board"
	"github.com/park285/cheese-board/internal/signature"
)

var (
	// ErrIndeterminate is wrapped by every reconstruction failure caused by
	// the readings themselves.
	ErrIndeterminate = errors.New("board indeterminate")
	ErrTooFewSamples = errors.New("not enough samples")
)

// IndeterminateError names the first cell that could not be resolved.
type IndeterminateError struct {
	Cell   int
	Reason string
}

func (e *IndeterminateError) Error() string {
	return fmt.Sprintf("%s: cell %d: %s", ErrIndeterminate, e.Cell, e.Reason)
}

func (e *IndeterminateError) Unwrap() error { return ErrIndeterminate }

// Reconstructor holds the orientation and empty-cell policy.
type Reconstructor struct {
	// Rotate turns the output by 180 degrees.
	Rotate bool
	// EmptyVotes lets samples that look empty take part in the vote with their
	// own signature. Without it a cell read as empty in every sample aborts
	// the whole reconstruction.
	EmptyVotes bool
}

type candidate struct {
	sig   board.Signature
	kind  board.PieceKind
	res   signature.Result
	score int
}

// order ranks a candidate for tie breaks: pieces in resolution order, then
// empty readings, then unknown placeholders.
func (c candidate) order() int {
	switch c.res {
	case signature.Piece:
		return c.kind.Rank()
	case signature.Empty:
		return len(board.Kinds)
	default:
		return len(board.Kinds) + 1
	}
}

func (c candidate) beats(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	if c.order() != o.order() {
		return c.order() < o.order()
	}
	return lessSig(c.sig, o.sig)
}

func lessSig(a, b board.Signature) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Reconstruct returns the board field for samples. It needs at least Depth
// samples; only the last Depth are used. The result does not depend on the
// order of the samples.
func (r Reconstructor) Reconstruct(db *signature.Database, samples []board.Frame) (string, error) {
	if len(samples) < Depth {
		return "", fmt.Errorf("%w: have %d, need %d", ErrTooFewSamples, len(samples), Depth)
	}
	samples = samples[len(samples)-Depth:]

	var layout board.Layout
	for cell := 0; cell < board.Cells; cell++ {
		pool := make([]candidate, 0, len(samples))
		for _, f := range samples {
			sig := f[cell]
			kind, res := db.Resolve(sig)
			switch res {
			case signature.Piece:
				pool = append(pool, candidate{sig: sig, kind: kind, res: res})
			case signature.Empty:
				if r.EmptyVotes {
					pool = append(pool, candidate{sig: sig, res: res})
				}
			default:
				pool = append(pool, candidate{res: signature.Unknown})
			}
		}
		if len(pool) == 0 {
			return "", &IndeterminateError{Cell: cell, Reason: "every sample reads empty"}
		}
		for i := range pool {
			for _, f := range samples {
				if f[cell] == pool[i].sig {
					pool[i].score++
				}
			}
		}
		best := pool[0]
		for _, c := range pool[1:] {
			if c.beats(best) {
				best = c
			}
		}
		// a winning empty reading or zero placeholder leaves the cell vacant
		if best.res == signature.Piece {
			layout[cell] = byte(best.kind)
		}
	}
	if r.Rotate {
		layout = layout.Rotate()
	}
	return layout.String(), nil
}
