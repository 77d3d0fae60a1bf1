package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-board/internal/board"
	appcfg "github.com/park285/cheese-board/internal/config"
	"github.com/park285/cheese-board/internal/reconstruct"
	"github.com/park285/cheese-board/internal/serial"
	"github.com/park285/cheese-board/internal/signature"
	"github.com/park285/cheese-board/internal/tracker"
)

// boardcheck lists serial candidates, opens the board with the same
// configuration as cheese-board and prints what it sees for a short window.
// With WAIT_MOVE=true it waits for one move from the starting position instead.
func main() {
	ports, err := serial.ListPorts()
	if err != nil {
		log.Printf("port list error: %v", err)
	}
	for _, p := range ports {
		mark := " "
		if serial.Candidate(p) {
			mark = "*"
		}
		log.Printf("%s %s usb=%v vid=%s pid=%s", mark, p.Name, p.IsUSB, p.VID, p.PID)
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	window := 10 * time.Second
	if v := os.Getenv("CHECK_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			window = d
		}
	}

	storeName, err := serial.CalibrationDevice(cfg.SerialPort)
	if err != nil {
		log.Printf("discovery error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	store, release, err := signature.Open(ctx, cfg.CalibrationStore, cfg.CalibrationDir, cfg.RedisURL, storeName)
	if err != nil {
		log.Fatalf("calibration store error: %v", err)
	}
	defer release()
	db, err := store.Load(ctx)
	if err != nil {
		log.Fatalf("calibration load error: %v", err)
	}
	log.Printf("calibration %s (%s): %v", signature.FileName(storeName), cfg.CalibrationStore, db.Counts())
	if !cfg.EmptyVotes {
		log.Printf("BOARD_EMPTY_VOTES=false: boards with an empty square in every recent frame are not reported")
	}

	var frames atomic.Int64
	var tr *tracker.Tracker
	transport := serial.New(serial.Config{Device: cfg.SerialPort, Baud: cfg.SerialBaud}, func(f board.Frame) {
		if frames.Add(1) == 1 {
			log.Printf("first frame, a8 signature %s", f.Cell(0))
		}
		tr.HandleFrame(f)
	})
	tr = tracker.New(tracker.Options{
		Database:      db,
		Reconstructor: reconstruct.Reconstructor{Rotate: cfg.Rotate180, EmptyVotes: cfg.EmptyVotes},
		LED:           transport,
	})
	transport.OnStateChange(func(s serial.State) {
		log.Printf("link: %s %s", s, transport.Device())
		tr.SetLink(s.String())
	})
	go func() { _ = transport.Run(ctx) }()

	if strings.EqualFold(os.Getenv("WAIT_MOVE"), "true") {
		moves, err := tr.WaitUserMove(ctx, 100*time.Millisecond)
		if err != nil {
			log.Printf("no move within %s: %v", window, err)
		} else {
			log.Printf("move: %s", strings.Join(moves, " "))
		}
		cancel()
		report(transport, frames.Load())
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.Printf("stopped: %v", ctx.Err())
			}
			report(transport, frames.Load())
			return
		case <-ticker.C:
			snap := tr.Snapshot()
			if snap.Sensed != "" && snap.Sensed != last {
				last = snap.Sensed
				log.Printf("board: %s in_sync=%v led=%s", snap.Sensed, snap.InSync(), snap.LEDHex)
			}
		}
	}
}

func report(t *serial.Transport, frames int64) {
	st := t.Stats()
	log.Printf("frames=%d decoded=%d dropped=%d sent=%d reconnects=%d", frames, st.Frames, st.Dropped, st.Sent, st.Reconnects)
}
