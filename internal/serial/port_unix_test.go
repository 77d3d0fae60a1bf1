//go:build !windows

package serial

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestOpenDeviceLockedIsBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyFAKE0")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		t.Fatalf("flock: %v", err)
	}

	p, err := OpenDevice(path, DefaultBaud)
	if err == nil {
		_ = p.Close()
		t.Fatalf("opened a locked device")
	}
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
}

func TestOpenDeviceMissing(t *testing.T) {
	_, err := OpenDevice(filepath.Join(t.TempDir(), "absent"), DefaultBaud)
	if err == nil || errors.Is(err, ErrBusy) {
		t.Fatalf("want open error, got %v", err)
	}
}
