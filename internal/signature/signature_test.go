package signature

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/cheese-board/internal/board"
)

func sig(v int) board.Signature { return board.Signature{v, v + 1, v + 2, v + 3, v + 4} }

func TestResolveTotal(t *testing.T) {
	b := NewBuilder()
	b.Add(board.WhiteKing, sig(10))
	db := b.Build()

	if k, r := db.Resolve(sig(10)); r != Piece || k != board.WhiteKing {
		t.Fatalf("want K/piece, got %q/%v", k, r)
	}
	if _, r := db.Resolve(board.Signature{0, 0, 0, 1, 2}); r != Empty {
		t.Fatalf("want empty, got %v", r)
	}
	if _, r := db.Resolve(sig(99)); r != Unknown {
		t.Fatalf("want unknown, got %v", r)
	}
	var nilDB *Database
	if _, r := nilDB.Resolve(sig(10)); r != Unknown {
		t.Fatalf("nil db must resolve unknown, got %v", r)
	}
}

func TestResolveEmptyBeatsStoredEntry(t *testing.T) {
	b := NewBuilder()
	empty := board.Signature{0, 0, 0, 5, 5}
	b.Add(board.BlackPawn, empty)
	if _, r := b.Build().Resolve(empty); r != Empty {
		t.Fatalf("empty heuristic must win, got %v", r)
	}
}

func TestResolutionOrder(t *testing.T) {
	shared := sig(50)
	b := NewBuilder()
	b.Add(board.WhiteQueen, shared)
	b.Add(board.WhiteRook, shared)
	b.Add(board.BlackRook, shared)
	if k, _ := b.Build().Resolve(shared); k != board.BlackRook {
		t.Fatalf("want r (earliest in order), got %q", k)
	}

	b = NewBuilder()
	b.Add(board.WhitePawn, shared)
	b.Add(board.BlackKnight, shared)
	if k, _ := b.Build().Resolve(shared); k != board.WhitePawn {
		t.Fatalf("want P, got %q", k)
	}
}

func TestMergeIsAdditive(t *testing.T) {
	pb := NewBuilder()
	pb.Add(board.BlackPawn, sig(1))
	pb.Add(board.WhiteKing, sig(7))
	prev := pb.Build()

	nb := NewBuilder()
	nb.Add(board.BlackPawn, sig(2))
	nb.Add(board.BlackPawn, sig(1))
	merged := nb.Build().Merge(prev)

	got := merged.Signatures(board.BlackPawn)
	if len(got) != 2 || got[0] != sig(2) || got[1] != sig(1) {
		t.Fatalf("unexpected pawn list: %v", got)
	}
	if k, r := merged.Resolve(sig(7)); r != Piece || k != board.WhiteKing {
		t.Fatalf("previous K entry lost: %q/%v", k, r)
	}
	if merged.Len() != 3 {
		t.Fatalf("Len = %d, want 3", merged.Len())
	}
	// inputs untouched
	if prev.Len() != 2 {
		t.Fatalf("prev mutated: %d", prev.Len())
	}
}

func TestEncodeDecode(t *testing.T) {
	b := NewBuilder()
	b.Add(board.BlackQueen, sig(3))
	b.Add(board.BlackQueen, sig(4))
	b.Add(board.WhiteBishop, sig(5))
	data, err := Encode(b.Build())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	db, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	q := db.Signatures(board.BlackQueen)
	if len(q) != 2 || q[0] != sig(3) || q[1] != sig(4) {
		t.Fatalf("queen list order lost: %v", q)
	}
	if _, err := Decode([]byte("garbage")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFileName(t *testing.T) {
	cases := map[string]string{
		"COM3":         "calibration-com3.bin",
		"/dev/ttyUSB0": "calibration-com1.bin",
		"/dev/ttyS12":  "calibration-com13.bin",
		"2":            "calibration-com3.bin",
		"auto":         "calibration.bin",
		"/dev/serial":  "calibration.bin",
	}
	for dev, want := range cases {
		if got := FileName(dev); got != want {
			t.Errorf("FileName(%q) = %q, want %q", dev, got, want)
		}
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "nested"), "/dev/ttyUSB0")
	db, err := s.Load(ctx)
	if err != nil || db.Len() != 0 {
		t.Fatalf("missing file must load empty: %v %d", err, db.Len())
	}
	b := NewBuilder()
	b.Add(board.WhiteKnight, sig(8))
	if err := s.Save(ctx, b.Build()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	db, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k, r := db.Resolve(sig(8)); r != Piece || k != board.WhiteKnight {
		t.Fatalf("round trip lost entry: %q/%v", k, r)
	}
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	ctx := context.Background()
	s, err := NewRedisStore(ctx, fmt.Sprintf("redis://%s/0", mr.Addr()), "COM1")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	db, err := s.Load(ctx)
	if err != nil || db.Len() != 0 {
		t.Fatalf("missing key must load empty: %v", err)
	}
	b := NewBuilder()
	b.Add(board.BlackBishop, sig(20))
	if err := s.Save(ctx, b.Build()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("cheese:calibration:calibration-com1") {
		t.Fatalf("expected key in redis, have %v", mr.Keys())
	}
	db, err = s.Load(ctx)
	if err != nil || db.Len() != 1 {
		t.Fatalf("Load after save: %v len=%d", err, db.Len())
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "http://localhost", ""); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := NewRedisStore(context.Background(), "", ""); err == nil {
		t.Fatalf("expected missing url error")
	}
}

func TestOpenSelectsStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, release, err := Open(ctx, "FILE", dir, "", "/dev/ttyUSB2")
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	release()
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("want *FileStore, got %T", s)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, release, err = Open(ctx, KindRedis, dir, fmt.Sprintf("redis://%s/0", mr.Addr()), "")
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	defer release()
	if _, ok := s.(*RedisStore); !ok {
		t.Fatalf("want *RedisStore, got %T", s)
	}

	if _, _, err := Open(ctx, "s3", dir, "", ""); err == nil {
		t.Fatalf("expected unknown store error")
	}
}
