// Package monitor serves the tracker state over HTTP: a websocket feed of
// snapshots, the current snapshot as JSON and a PNG of the sensed board.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-board/internal/tracker"
)

// Source provides the current snapshot.
type Source interface {
	Snapshot() tracker.Snapshot
}

// Calibrator is implemented by sources that accept calibration control. When
// the source has it, POST and DELETE /calibration start and cancel a session.
type Calibrator interface {
	StartCalibration(newSetup bool) string
	CancelCalibration() bool
}

type client struct {
	id   string
	send chan tracker.Snapshot
}

// Server implements tracker.Sink and fans snapshots out to websocket clients.
type Server struct {
	src  Source
	log  *zap.Logger
	mux  *http.ServeMux
	ping time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

func New(src Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{src: src, log: logger, mux: http.NewServeMux(), ping: 30 * time.Second, clients: make(map[string]*client)}
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/state", s.handleState)
	s.mux.HandleFunc("/board.png", s.handleBoard)
	if cal, ok := src.(Calibrator); ok {
		s.mux.HandleFunc("POST /calibration", func(w http.ResponseWriter, r *http.Request) { s.startCalibration(w, r, cal) })
		s.mux.HandleFunc("DELETE /calibration", func(w http.ResponseWriter, r *http.Request) { s.cancelCalibration(w, cal) })
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Publish delivers snap to every client, replacing an undelivered one.
func (s *Server) Publish(snap tracker.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.send <- snap:
			continue
		default:
		}
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- snap:
		default:
		}
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Serve listens on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("monitor_listening", zap.String("addr", ln.Addr().String()))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.src.Snapshot())
}

// startCalibration takes an optional new_setup=true query parameter.
func (s *Server) startCalibration(w http.ResponseWriter, r *http.Request, cal Calibrator) {
	newSetup := false
	if v := r.URL.Query().Get("new_setup"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "new_setup: want true or false", http.StatusBadRequest)
			return
		}
		newSetup = b
	}
	id := cal.StartCalibration(newSetup)
	s.log.Info("monitor_calibration_start", zap.String("session", id), zap.Bool("new_setup", newSetup))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"session": id, "new_setup": newSetup})
}

func (s *Server) cancelCalibration(w http.ResponseWriter, cal Calibrator) {
	if !cal.CancelCalibration() {
		http.Error(w, "no calibration running", http.StatusConflict)
		return
	}
	s.log.Info("monitor_calibration_cancel")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	img, err := RenderPNG(r.Context(), s.src.Snapshot())
	if err != nil {
		s.log.Warn("monitor_render_error", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Debug("monitor_ws_accept_error", zap.Error(err))
		return
	}
	c := &client{id: uuid.NewString(), send: make(chan tracker.Snapshot, 1)}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.Info("monitor_client_connected", zap.String("client", c.id))
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		s.log.Info("monitor_client_disconnected", zap.String("client", c.id))
	}()

	// the feed is one-way; CloseRead handles control frames
	ctx := conn.CloseRead(r.Context())
	if err := s.write(ctx, conn, s.src.Snapshot()); err != nil {
		return
	}
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-c.send:
			if err := s.write(ctx, conn, snap); err != nil {
				s.log.Debug("monitor_ws_write_error", zap.String("client", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, snap tracker.Snapshot) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, snap)
}
