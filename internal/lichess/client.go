package lichess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const DefaultBaseURL = "https://lichess.org"

var ErrStreamClosed = errors.New("lichess: stream closed by server")

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lichess api error: status=%d body=%s", e.Status, e.Body)
}

type Client struct {
	baseURL string
	token   string
	http    *fasthttp.Client
	stream  *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial routes every connection through dial; tests use it with an
// in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) {
		c.http.Dial = dial
		c.stream.Dial = dial
	}
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          strings.TrimSpace(token),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		stream:         &fasthttp.Client{WriteTimeout: 10 * time.Second, StreamResponseBody: true, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OngoingGames lists the games the account is playing.
func (c *Client) OngoingGames(ctx context.Context) ([]OngoingGame, error) {
	var resp playingResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/account/playing", &resp, true); err != nil {
		return nil, err
	}
	return resp.NowPlaying, nil
}

// MakeMove submits one UCI move in a board game. Submissions are not retried.
func (c *Client) MakeMove(ctx context.Context, gameID, uci string) error {
	path := fmt.Sprintf("/api/board/game/%s/move/%s", url.PathEscape(gameID), url.PathEscape(uci))
	return c.doJSON(ctx, fasthttp.MethodPost, path, nil, false)
}

// StreamEvents delivers incoming account events until ctx ends or the server
// closes the stream.
func (c *Client) StreamEvents(ctx context.Context, fn func(Event) error) error {
	return c.streamNDJSON(ctx, "/api/stream/event", func(line []byte) error {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		return fn(ev)
	})
}

// StreamGame delivers the state stream of one board game.
func (c *Client) StreamGame(ctx context.Context, gameID string, fn func(GameEvent) error) error {
	path := "/api/board/game/stream/" + url.PathEscape(gameID)
	return c.streamNDJSON(ctx, path, func(line []byte) error {
		ev, err := decodeGameEvent(line)
		if err != nil {
			return fmt.Errorf("decode game event: %w", err)
		}
		return fn(ev)
	})
}

func (c *Client) authorize(req *fasthttp.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = &APIError{Status: status, Body: truncate(string(resp.Body()), 512)}
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) streamNDJSON(ctx context.Context, path string, fn func(line []byte) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/x-ndjson")
	c.authorize(req)

	if err := c.stream.Do(req, resp); err != nil {
		return fmt.Errorf("open stream %s: %w", path, err)
	}
	body := resp.BodyStream()
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		var msg []byte
		if body != nil {
			msg, _ = io.ReadAll(io.LimitReader(body, 512))
		} else {
			msg = resp.Body()
		}
		return &APIError{Status: status, Body: truncate(string(msg), 512)}
	}
	if body == nil {
		body = bytes.NewReader(resp.Body())
	}

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = resp.CloseBodyStream()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-exited
	}()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			// keep-alive
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream %s: %w", path, err)
	}
	return ErrStreamClosed
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
