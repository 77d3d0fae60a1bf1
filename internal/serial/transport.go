// Package serial owns the link to the sensor board: discovery, handshake,
// line decoding and LED command delivery.
package serial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/board"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type StateCallback func(state State)

// FrameHandler receives every decoded frame on the transport goroutine.
type FrameHandler func(f board.Frame)

const (
	DefaultBaud = 38400
	AutoDevice  = "auto"
)

var (
	handshakeSync1 = [8]byte{0x55, 0xaa, 0x55, 0xaa, 0x55, 0xaa, 0x55, 0xaa}
	handshakeSync2 = [8]byte{0xaa, 0x55, 0xaa, 0x55, 0xaa, 0x55, 0xaa, 0x55}
	handshakeZero  = [8]byte{}

	ErrNoDevice = errors.New("no board found")
)

type Config struct {
	// Device is a path or "auto".
	Device string
	Baud   int

	Settle   time.Duration // after each handshake sync pattern
	Retry    time.Duration // after an I/O failure
	NotFound time.Duration // when auto discovery finds nothing usable
	Idle     time.Duration // when a cycle had no work

	Open     Opener
	Discover Discoverer
	Logger   *zap.Logger
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Device) == "" {
		c.Device = AutoDevice
	}
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.Settle <= 0 {
		c.Settle = time.Second
	}
	if c.Retry <= 0 {
		c.Retry = 100 * time.Millisecond
	}
	if c.NotFound <= 0 {
		c.NotFound = time.Second
	}
	if c.Idle <= 0 {
		c.Idle = 500 * time.Microsecond
	}
	if c.Open == nil {
		c.Open = OpenDevice
	}
	if c.Discover == nil {
		c.Discover = DiscoverUSB
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Stats counts link activity since the transport was created.
type Stats struct {
	Frames     uint64
	Dropped    uint64
	Sent       uint64
	Reconnects uint64
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Transport keeps a board connected and decodes its frames. Run drives it;
// Send may be called from any goroutine.
type Transport struct {
	cfg     Config
	handler FrameHandler
	log     *zap.Logger

	state atomic.Int32

	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	pendingM sync.Mutex
	pending  [8]byte
	hasSend  bool

	device atomic.Value // string

	frames     atomic.Uint64
	dropped    atomic.Uint64
	sent       atomic.Uint64
	reconnects atomic.Uint64
}

func New(cfg Config, handler FrameHandler) *Transport {
	cfg.applyDefaults()
	t := &Transport{cfg: cfg, handler: handler, log: cfg.Logger}
	t.device.Store("")
	return t
}

// Send queues an LED command. Only the latest unsent command is kept.
func (t *Transport) Send(cmd [8]byte) {
	t.pendingM.Lock()
	t.pending = cmd
	t.hasSend = true
	t.pendingM.Unlock()
}

func (t *Transport) takePending() ([8]byte, bool) {
	t.pendingM.Lock()
	defer t.pendingM.Unlock()
	if !t.hasSend {
		return [8]byte{}, false
	}
	t.hasSend = false
	return t.pending, true
}

func (t *Transport) State() State { return State(t.state.Load()) }

// Device returns the path of the connected device, or "" while disconnected.
func (t *Transport) Device() string {
	s, _ := t.device.Load().(string)
	return s
}

func (t *Transport) Stats() Stats {
	return Stats{
		Frames:     t.frames.Load(),
		Dropped:    t.dropped.Load(),
		Sent:       t.sent.Load(),
		Reconnects: t.reconnects.Load(),
	}
}

// OnStateChange registers cb and returns an id for RemoveStateCallback.
// Callbacks run on the transport goroutine.
func (t *Transport) OnStateChange(cb StateCallback) int {
	t.cbM.Lock()
	defer t.cbM.Unlock()
	t.nextCbID++
	t.stateCbs = append(t.stateCbs, stateCallbackEntry{id: t.nextCbID, callback: cb})
	return t.nextCbID
}

func (t *Transport) RemoveStateCallback(id int) {
	t.cbM.Lock()
	defer t.cbM.Unlock()
	for i, cb := range t.stateCbs {
		if cb.id == id {
			t.stateCbs = append(t.stateCbs[:i], t.stateCbs[i+1:]...)
			break
		}
	}
}

func (t *Transport) setState(state State) {
	if State(t.state.Swap(int32(state))) == state {
		return
	}
	t.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(t.stateCbs))
	copy(callbacks, t.stateCbs)
	t.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Run connects, serves and reconnects until ctx is cancelled. It always
// returns ctx.Err().
func (t *Transport) Run(ctx context.Context) error {
	defer t.setState(StateDisconnected)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.setState(StateConnecting)
		port, name, err := t.connect()
		if err != nil {
			t.setState(StateDisconnected)
			delay := t.cfg.Retry
			if errors.Is(err, ErrNoDevice) {
				delay = t.cfg.NotFound
			}
			t.log.Debug("serial_connect_failed", zap.String("device", t.cfg.Device), zap.Error(err))
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		t.device.Store(name)
		t.setState(StateConnected)
		t.log.Info("serial_connected", zap.String("device", name))
		err = t.serve(ctx, port)
		_ = port.Close()
		t.device.Store("")
		t.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.reconnects.Add(1)
		t.log.Warn("serial_disconnected", zap.String("device", name), zap.Error(err))
		if !sleep(ctx, t.cfg.Retry) {
			return ctx.Err()
		}
	}
}

func (t *Transport) connect() (Port, string, error) {
	if !strings.EqualFold(t.cfg.Device, AutoDevice) {
		p, err := t.cfg.Open(t.cfg.Device, t.cfg.Baud)
		if err != nil {
			return nil, "", err
		}
		return p, t.cfg.Device, nil
	}
	names, err := t.cfg.Discover()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrNoDevice, err)
	}
	for _, name := range names {
		p, err := t.cfg.Open(name, t.cfg.Baud)
		if err != nil {
			t.log.Debug("serial_probe_failed", zap.String("device", name), zap.Error(err))
			continue
		}
		return p, name, nil
	}
	return nil, "", ErrNoDevice
}

func (t *Transport) handshake(ctx context.Context, p Port) error {
	if err := p.Flush(); err != nil {
		return err
	}
	if _, err := p.Write(handshakeSync1[:]); err != nil {
		return err
	}
	if !sleep(ctx, t.cfg.Settle) {
		return ctx.Err()
	}
	if _, err := p.Write(handshakeSync2[:]); err != nil {
		return err
	}
	if !sleep(ctx, t.cfg.Settle) {
		return ctx.Err()
	}
	_, err := p.Write(handshakeZero[:])
	return err
}

func (t *Transport) serve(ctx context.Context, p Port) error {
	if err := t.handshake(ctx, p); err != nil {
		return err
	}
	var split lineSplitter
	defer split.reset()
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		worked := false

		n, err := p.Available()
		if err != nil {
			return err
		}
		if n > 0 {
			if n > len(buf) {
				n = len(buf)
			}
			got, err := p.Read(buf[:n])
			if err != nil {
				return err
			}
			if got > 0 {
				worked = true
				if lost := split.feed(buf[:got], t.dispatch); lost > 0 {
					t.dropped.Add(1)
					t.log.Debug("serial_overflow", zap.Int("bytes", lost))
				}
			}
		}

		if cmd, ok := t.takePending(); ok {
			if _, err := p.Write(cmd[:]); err != nil {
				return err
			}
			t.sent.Add(1)
			worked = true
		}

		if !worked && !sleep(ctx, t.cfg.Idle) {
			return ctx.Err()
		}
	}
}

func (t *Transport) dispatch(line []byte) {
	f, err := DecodeLine(line)
	if err != nil {
		t.dropped.Add(1)
		t.log.Debug("serial_line_dropped", zap.Int("len", len(line)), zap.Error(err))
		return
	}
	t.frames.Add(1)
	if t.handler != nil {
		t.handler(f)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
