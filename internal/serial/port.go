package serial

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Port is an open serial device.
type Port interface {
	io.ReadWriteCloser
	// Flush discards unread input.
	Flush() error
	// Available reports how many input bytes can be read without blocking.
	Available() (int, error)
}

// Opener opens the device at path with the given baud rate.
type Opener func(path string, baud int) (Port, error)

// Discoverer lists candidate device paths for auto selection, best first.
type Discoverer func() ([]string, error)

const (
	// VendorID and ProductID identify the board's USB bridge.
	VendorID  = "10C4"
	ProductID = "EA60"
)

// PortInfo is the subset of enumerator data used for candidate filtering.
type PortInfo struct {
	Name  string
	IsUSB bool
	VID   string
	PID   string
}

// Candidate reports whether a port may be the board: either USB id matches
// and the name does not look like a bluetooth port.
func Candidate(p PortInfo) bool {
	if strings.Contains(strings.ToLower(p.Name), "bluetooth") {
		return false
	}
	return strings.EqualFold(p.VID, VendorID) || strings.EqualFold(p.PID, ProductID)
}

// CalibrationDevice names the device a calibration file belongs to. For
// "auto" it is the first discovered board, or "" when none is attached.
func CalibrationDevice(port string) (string, error) {
	if !strings.EqualFold(strings.TrimSpace(port), AutoDevice) {
		return port, nil
	}
	paths, err := DiscoverUSB()
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[0], nil
}

// DiscoverUSB lists serial ports whose USB ids match the board.
func DiscoverUSB() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	var out []string
	for _, p := range ports {
		if p == nil {
			continue
		}
		if Candidate(PortInfo{Name: p.Name, IsUSB: p.IsUSB, VID: p.VID, PID: p.PID}) {
			out = append(out, p.Name)
		}
	}
	return out, nil
}

// ListPorts returns every port the enumerator sees; used by diagnostics.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		out = append(out, PortInfo{Name: p.Name, IsUSB: p.IsUSB, VID: p.VID, PID: p.PID})
	}
	return out, nil
}
