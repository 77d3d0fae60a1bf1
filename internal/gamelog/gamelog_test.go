package gamelog

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPGN(t *testing.T) {
	g := GameRecord{
		GameID:   "abcd1234",
		White:    "me",
		Black:    "you \"the\" rival",
		Status:   "mate",
		Winner:   "white",
		MovesUCI: []string{"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7"},
		EndedAt:  time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
	}
	pgn := g.PGN()
	for _, want := range []string{
		`[Date "2024.03.09"]`,
		`[Black "you 'the' rival"]`,
		`[Result "1-0"]`,
		"1. e4 e5 2. Bc4 Nc6 3. Qh5 Nf6 4. Qxf7# 1-0",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("PGN missing %q:\n%s", want, pgn)
		}
	}
}

func TestSANStopsAtBadMove(t *testing.T) {
	g := GameRecord{MovesUCI: []string{"e2e4", "e2e4", "e7e5"}}
	if san := g.SAN(); len(san) != 1 || san[0] != "e4" {
		t.Fatalf("unexpected SAN %v", san)
	}
}

func TestResult(t *testing.T) {
	cases := []struct {
		g    GameRecord
		want string
	}{
		{GameRecord{Winner: "black", Status: "resign"}, "0-1"},
		{GameRecord{Status: "draw"}, "1/2-1/2"},
		{GameRecord{Status: "stalemate"}, "1/2-1/2"},
		{GameRecord{Status: "aborted"}, "*"},
	}
	for _, c := range cases {
		if got := c.g.Result(); got != c.want {
			t.Errorf("%+v: got %s, want %s", c.g, got, c.want)
		}
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	plies := []string{"e2e4", "e7e5"}
	_ = m.RecordMove(ctx, MoveRecord{GameID: "g1", Ply: 1, UCI: "e2e4", Plies: plies})
	_ = m.RecordMove(ctx, MoveRecord{GameID: "g2", Ply: 1, UCI: "d2d4"})
	plies[0] = "mutated"
	got := m.Moves("g1")
	if len(got) != 1 || got[0].Plies[0] != "e2e4" {
		t.Fatalf("unexpected moves %+v", got)
	}
	_ = m.SaveGame(ctx, GameRecord{GameID: "g1", Winner: "white"})
	if g, ok := m.Game("g1"); !ok || g.Result() != "1-0" {
		t.Fatalf("game not stored: %+v", g)
	}
}

// TestRepositoryPostgres runs against a real database when
// CHEESE_TEST_DATABASE_URL is set.
func TestRepositoryPostgres(t *testing.T) {
	dsn := os.Getenv("CHEESE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHEESE_TEST_DATABASE_URL not set")
	}
	repo, err := NewRepository(dsn)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	id := "test-" + time.Now().Format("150405.000000")
	if err := repo.RecordMove(ctx, MoveRecord{GameID: id, Ply: 1, UCI: "e2e4", Plies: []string{"e2e4"}, Color: "white", Accepted: true, SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("RecordMove: %v", err)
	}
	g := GameRecord{GameID: id, White: "a", Black: "b", Color: "white", Status: "resign", Winner: "white", MovesUCI: []string{"e2e4"}, StartedAt: time.Now().Add(-time.Minute), EndedAt: time.Now()}
	if err := repo.SaveGame(ctx, g); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}
	if err := repo.SaveGame(ctx, g); err != nil {
		t.Fatalf("SaveGame upsert: %v", err)
	}
}

func TestNewRepositoryRequiresURL(t *testing.T) {
	if _, err := NewRepository(" "); err == nil {
		t.Fatalf("expected error")
	}
}
