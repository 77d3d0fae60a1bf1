package tracker

import (
	"time"

	"github.com/park285/cheese-board/internal/led"
	"github.com/park285/cheese-board/internal/movedetect"
)

type CalibrationStatus struct {
	SessionID string `json:"session_id"`
	Samples   int    `json:"samples"`
	Target    int    `json:"target"`
	NewSetup  bool   `json:"new_setup"`
}

// Snapshot is a read-only copy of the tracker state at one version.
type Snapshot struct {
	Version     uint64             `json:"version"`
	Mode        string             `json:"mode"`
	Link        string             `json:"link"`
	Sensed      string             `json:"sensed"`
	Expected    string             `json:"expected"`
	FEN         string             `json:"fen"`
	Turn        string             `json:"turn"`
	Color       string             `json:"color"`
	Reference   string             `json:"reference,omitempty"`
	LED         led.Command        `json:"-"`
	LEDHex      string             `json:"led"`
	Rotated     bool               `json:"rotated"`
	Signatures  int                `json:"signatures"`
	Calibration *CalibrationStatus `json:"calibration,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// InSync reports whether the sensed board matches the authoritative one.
func (s Snapshot) InSync() bool { return s.Sensed != "" && s.Sensed == s.Expected }

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	fen := t.game.FEN()
	s := Snapshot{
		Version:    t.version,
		Mode:       t.mode.String(),
		Link:       t.link,
		Sensed:     t.sensed,
		Expected:   movedetect.BoardFEN(fen),
		FEN:        fen,
		Turn:       colorName(t.game.Position().Turn()),
		Color:      colorName(t.color),
		Reference:  t.reference,
		LED:        t.lastLED,
		LEDHex:     t.lastLED.String(),
		Rotated:    t.opts.Reconstructor.Rotate,
		Signatures: t.db.Len(),
		UpdatedAt:  t.updated,
	}
	if t.session != nil {
		cs := &CalibrationStatus{SessionID: t.session.ID, Target: t.session.Target, NewSetup: t.session.NewSetup}
		if t.progress != nil {
			cs.Samples = t.progress.Samples
		}
		s.Calibration = cs
	}
	return s
}
