package lichess

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})
	return NewClient("http://lichess.test", "tok-123",
		WithDial(func(string) (net.Conn, error) { return ln.Dial() }),
		WithTimeout(2*time.Second),
	)
}

func TestOngoingGamesAndAuth(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Request.Header.Peek("Authorization")) != "Bearer tok-123" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		if string(ctx.Path()) != "/api/account/playing" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"nowPlaying":[{"gameId":"abcd1234","color":"black","fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR","isMyTurn":true}]}`)
	})
	games, err := c.OngoingGames(context.Background())
	if err != nil {
		t.Fatalf("OngoingGames: %v", err)
	}
	if len(games) != 1 || games[0].GameID != "abcd1234" || games[0].Color != "black" || !games[0].IsMyTurn {
		t.Fatalf("unexpected games %+v", games)
	}
}

func TestMakeMove(t *testing.T) {
	var path atomic.Value
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		path.Store(string(ctx.Method()) + " " + string(ctx.Path()))
		ctx.SetBodyString(`{"ok":true}`)
	})
	if err := c.MakeMove(context.Background(), "abcd1234", "e2e4"); err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if got := path.Load().(string); got != "POST /api/board/game/abcd1234/move/e2e4" {
		t.Fatalf("unexpected request %q", got)
	}
}

func TestMakeMoveRejected(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(`{"error":"Not your turn"}`)
	})
	err := c.MakeMove(context.Background(), "abcd1234", "e2e4")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Fatalf("want APIError 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("move submission must not retry, got %d calls", calls.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`{"nowPlaying":[]}`)
	})
	games, err := c.OngoingGames(context.Background())
	if err != nil {
		t.Fatalf("OngoingGames: %v", err)
	}
	if len(games) != 0 || calls.Load() != 3 {
		t.Fatalf("games=%v calls=%d", games, calls.Load())
	}
}

func streamLines(lines ...string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/x-ndjson")
		ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
			for _, l := range lines {
				_, _ = w.WriteString(l + "\n")
				_ = w.Flush()
			}
		})
	}
}

func TestStreamEvents(t *testing.T) {
	c := newTestClient(t, streamLines(
		`{"type":"challenge","challenge":{"id":"ch1","challenger":{"name":"bob"}}}`,
		``,
		`{"type":"gameStart","game":{"gameId":"abcd1234","id":"abcd1234","color":"white"}}`,
	))
	var got []Event
	err := c.StreamEvents(context.Background(), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("want ErrStreamClosed, got %v", err)
	}
	if len(got) != 2 || got[0].Type != "challenge" || got[0].Challenge.Challenger.Name != "bob" {
		t.Fatalf("unexpected events %+v", got)
	}
	if got[1].Type != "gameStart" || got[1].Game.Ref() != "abcd1234" {
		t.Fatalf("unexpected game start %+v", got[1])
	}
}

func TestStreamGame(t *testing.T) {
	c := newTestClient(t, streamLines(
		`{"type":"gameFull","id":"abcd1234","white":{"id":"me","name":"me"},"black":{"id":"you","name":"you"},"initialFen":"startpos","state":{"type":"gameState","moves":"e2e4","status":"started"}}`,
		`{"type":"chatLine","username":"you","text":"hi","room":"player"}`,
		`{"type":"gameState","moves":"e2e4 e7e5","status":"started"}`,
		`{"type":"gameState","moves":"e2e4 e7e5 d1h5","status":"resign","winner":"black"}`,
	))
	var events []GameEvent
	stopErr := errors.New("done")
	err := c.StreamGame(context.Background(), "abcd1234", func(ev GameEvent) error {
		events = append(events, ev)
		if ev.State != nil && ev.State.Finished() {
			return stopErr
		}
		return nil
	})
	if !errors.Is(err, stopErr) {
		t.Fatalf("callback error not propagated: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("want 4 events, got %d", len(events))
	}
	if events[0].Full == nil || events[0].Full.State.MoveList()[0] != "e2e4" || events[0].Full.White.ID != "me" {
		t.Fatalf("bad gameFull %+v", events[0])
	}
	if events[1].Chat == nil || events[1].Chat.Text != "hi" {
		t.Fatalf("bad chat %+v", events[1])
	}
	if ms := events[2].State.MoveList(); len(ms) != 2 || ms[1] != "e7e5" {
		t.Fatalf("bad move list %v", ms)
	}
	if events[3].State.Winner != "black" {
		t.Fatalf("bad final state %+v", events[3].State)
	}
}

func TestStreamErrorStatus(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(`{"error":"No such token"}`)
	})
	err := c.StreamEvents(context.Background(), func(Event) error { return nil })
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("want 401, got %v", err)
	}
}

func TestGameStateFinished(t *testing.T) {
	for status, want := range map[string]bool{"started": false, "created": false, "": false, "mate": true, "resign": true, "draw": true} {
		if got := (GameState{Status: status}).Finished(); got != want {
			t.Errorf("Finished(%q) = %v, want %v", status, got, want)
		}
	}
}
