//go:build !windows

package serial

import (
	"errors"
	"fmt"

	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

var ErrBusy = errors.New("serial device locked by another process")

type termPort struct {
	*term.Term
	lockFD int
}

// OpenDevice opens path in raw mode and takes an exclusive advisory lock so a
// second process sees the board as busy.
func OpenDevice(path string, baud int) (Port, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrBusy)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	t, err := term.Open(path, term.Speed(baud), term.RawMode)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &termPort{Term: t, lockFD: fd}, nil
}

func (p *termPort) Close() error {
	err := p.Term.Close()
	if p.lockFD >= 0 {
		_ = unix.Flock(p.lockFD, unix.LOCK_UN)
		_ = unix.Close(p.lockFD)
		p.lockFD = -1
	}
	return err
}
