package signature

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/park285/cheese-board/internal/board"
)

// Store loads and persists a calibration database. Load on a store with no
// saved data returns an empty database and no error.
type Store interface {
	Load(ctx context.Context) (*Database, error)
	Save(ctx context.Context, db *Database) error
}

// blob is the persisted shape: piece letter -> ordered signature list.
type blob struct {
	Kinds map[string][][board.Channels]int
}

// Encode serializes db into the opaque calibration blob.
func Encode(db *Database) ([]byte, error) {
	b := blob{Kinds: make(map[string][][board.Channels]int)}
	if db != nil {
		for kind, list := range db.kinds {
			out := make([][board.Channels]int, len(list))
			for i, sig := range list {
				out[i] = sig
			}
			b.Kinds[kind.String()] = out
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&b); err != nil {
		return nil, fmt.Errorf("encode calibration: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode. Unknown kind letters are skipped.
func Decode(data []byte) (*Database, error) {
	var b blob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode calibration: %w", err)
	}
	bld := NewBuilder()
	for _, kind := range board.Kinds {
		for _, sig := range b.Kinds[kind.String()] {
			bld.Add(kind, board.Signature(sig))
		}
	}
	return bld.Build(), nil
}

// PortNumber derives a zero based port number from a device name:
// "COM3" -> 2, "/dev/ttyUSB1" -> 1, "4" -> 4. ok is false when none applies.
func PortNumber(device string) (n int, ok bool) {
	device = strings.TrimSpace(device)
	if v, err := strconv.Atoi(device); err == nil {
		return v, true
	}
	if strings.HasPrefix(strings.ToUpper(device), "COM") {
		v, err := strconv.Atoi(device[3:])
		if err != nil {
			return 0, false
		}
		return v - 1, true
	}
	if strings.HasPrefix(strings.ToLower(device), "/dev/") {
		end := len(device)
		start := end
		for start > 0 && device[start-1] >= '0' && device[start-1] <= '9' {
			start--
		}
		if start == end {
			return 0, false
		}
		v, err := strconv.Atoi(device[start:end])
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// FileName returns the calibration file name used for device.
func FileName(device string) string {
	if n, ok := PortNumber(device); ok {
		return fmt.Sprintf("calibration-com%d.bin", n+1)
	}
	return "calibration.bin"
}

// FileStore keeps the blob in a single file.
type FileStore struct {
	Path string
}

func NewFileStore(dir, device string) *FileStore {
	return &FileStore{Path: filepath.Join(dir, FileName(device))}
}

func (s *FileStore) Load(_ context.Context) (*Database, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return Decode(data)
}

// Save writes through a temp file in the same directory and renames it over
// the target so readers never see a partial blob.
func (s *FileStore) Save(_ context.Context, db *Database) error {
	data, err := Encode(db)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("rename %s: %w", s.Path, err)
	}
	return nil
}

// MemoryStore keeps the blob in memory; used by tests and when persistence is off.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func (s *MemoryStore) Load(_ context.Context) (*Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return New(), nil
	}
	return Decode(s.data)
}

func (s *MemoryStore) Save(_ context.Context, db *Database) error {
	data, err := Encode(db)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.saves++
	s.mu.Unlock()
	return nil
}

// SaveCount reports how many times Save succeeded.
func (s *MemoryStore) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
