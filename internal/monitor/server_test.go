package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-board/internal/board"
	"github.com/park285/cheese-board/internal/led"
	"github.com/park285/cheese-board/internal/tracker"
)

type staticSource struct {
	mu   sync.Mutex
	snap tracker.Snapshot
}

func (s *staticSource) Snapshot() tracker.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func startSnapshot() tracker.Snapshot {
	return tracker.Snapshot{
		Version:  1,
		Link:     "connected",
		Sensed:   board.StartingLayout,
		Expected: board.StartingLayout,
		Turn:     "white",
		LED:      led.Idle,
	}
}

type calibratingSource struct {
	staticSource
	started []bool
	running bool
}

func (c *calibratingSource) StartCalibration(newSetup bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, newSetup)
	c.running = true
	return "session-1"
}

func (c *calibratingSource) CancelCalibration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.running
	c.running = false
	return was
}

func TestCalibrationControl(t *testing.T) {
	src := &calibratingSource{staticSource: staticSource{snap: startSnapshot()}}
	srv := httptest.NewServer(New(src, nil).Handler())
	defer srv.Close()

	do := func(method, path string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := do(http.MethodDelete, "/calibration"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel without session: status %d", resp.StatusCode)
	}
	if resp := do(http.MethodPost, "/calibration?new_setup=maybe"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad new_setup: status %d", resp.StatusCode)
	}
	resp := do(http.MethodPost, "/calibration?new_setup=true")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	var body struct {
		Session  string `json:"session"`
		NewSetup bool   `json:"new_setup"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Session != "session-1" || !body.NewSetup {
		t.Fatalf("unexpected start response %+v", body)
	}
	if resp := do(http.MethodDelete, "/calibration"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel: status %d", resp.StatusCode)
	}
	if resp := do(http.MethodGet, "/calibration"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.started) != 1 || !src.started[0] || src.running {
		t.Fatalf("unexpected calibrator state started=%v running=%v", src.started, src.running)
	}
}

func TestCalibrationRoutesNeedCalibrator(t *testing.T) {
	srv := httptest.NewServer(New(&staticSource{snap: startSnapshot()}, nil).Handler())
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/calibration", "text/plain", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestStateEndpoint(t *testing.T) {
	srv := httptest.NewServer(New(&staticSource{snap: startSnapshot()}, nil).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var snap tracker.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Version != 1 || snap.Sensed != board.StartingLayout {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestBoardPNG(t *testing.T) {
	snap := startSnapshot()
	snap.LED, _ = led.MoveHighlight("e2e4", false)
	srv := httptest.NewServer(New(&staticSource{snap: snap}, nil).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/board.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	if w := img.Bounds().Dx(); w != boardSize+margin*2 {
		t.Fatalf("width %d", w)
	}
}

func TestRenderRejectsBadLayout(t *testing.T) {
	snap := startSnapshot()
	snap.Sensed = "not/a/board"
	if _, err := RenderPNG(context.Background(), snap); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWebsocketFeed(t *testing.T) {
	src := &staticSource{snap: startSnapshot()}
	mon := New(src, nil)
	srv := httptest.NewServer(mon.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first tracker.Snapshot
	if err := wsjson.Read(ctx, conn, &first); err != nil || first.Version != 1 {
		t.Fatalf("initial snapshot %+v: %v", first, err)
	}
	for mon.Clients() == 0 {
		time.Sleep(time.Millisecond)
	}
	next := startSnapshot()
	next.Version = 2
	next.Sensed = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR"
	mon.Publish(next)

	var got tracker.Snapshot
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Version != 2 || got.InSync() {
		t.Fatalf("unexpected pushed snapshot %+v", got)
	}
}
