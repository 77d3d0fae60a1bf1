//go:build windows

package serial

import (
	"fmt"
	"time"

	bugst "go.bug.st/serial"
)

type bugstPort struct {
	bugst.Port
	buf []byte
}

// OpenDevice opens path through the portable serial driver. Windows opens
// COM ports exclusively, so no extra lock is taken.
func OpenDevice(path string, baud int) (Port, error) {
	p, err := bugst.Open(path, &bugst.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := p.SetReadTimeout(time.Millisecond); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("read timeout %s: %w", path, err)
	}
	return &bugstPort{Port: p}, nil
}

func (p *bugstPort) Flush() error {
	p.buf = nil
	return p.Port.ResetInputBuffer()
}

// Available peeks with the short read timeout and keeps what it got.
func (p *bugstPort) Available() (int, error) {
	if len(p.buf) > 0 {
		return len(p.buf), nil
	}
	tmp := make([]byte, 512)
	n, err := p.Port.Read(tmp)
	if err != nil {
		return 0, err
	}
	p.buf = tmp[:n]
	return n, nil
}

func (p *bugstPort) Read(b []byte) (int, error) {
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	return p.Port.Read(b)
}
