package gamelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Schema creates the tables used by Repository.
const Schema = `
CREATE TABLE IF NOT EXISTS board_moves (
	id           BIGSERIAL PRIMARY KEY,
	game_id      TEXT        NOT NULL,
	ply          INTEGER     NOT NULL,
	uci          TEXT        NOT NULL,
	plies        JSONB       NOT NULL,
	color        TEXT        NOT NULL,
	fen_before   TEXT        NOT NULL,
	sensed       TEXT        NOT NULL,
	accepted     BOOLEAN     NOT NULL,
	error        TEXT        NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS board_moves_game_idx ON board_moves (game_id, ply);
CREATE TABLE IF NOT EXISTS board_games (
	game_id    TEXT PRIMARY KEY,
	white      TEXT        NOT NULL,
	black      TEXT        NOT NULL,
	color      TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	result     TEXT        NOT NULL,
	moves_uci  JSONB       NOT NULL,
	pgn        TEXT        NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT     NOT NULL
);`

// Repository stores records in PostgreSQL.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Repository{db: db}, nil
}

// NewRepositoryWithDB wraps an existing handle.
func NewRepositoryWithDB(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates missing tables.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *Repository) RecordMove(ctx context.Context, m MoveRecord) error {
	plies, err := json.Marshal(m.Plies)
	if err != nil {
		return fmt.Errorf("marshal plies: %w", err)
	}
	const q = `INSERT INTO board_moves (
		game_id, ply, uci, plies, color, fen_before, sensed, accepted, error, submitted_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	if _, err := r.db.ExecContext(ctx, q,
		m.GameID, m.Ply, m.UCI, string(plies), m.Color, m.FENBefore, m.Sensed, m.Accepted, m.Error, m.SubmittedAt,
	); err != nil {
		return fmt.Errorf("insert move: %w", err)
	}
	return nil
}

// SaveGame upserts a finished game.
func (r *Repository) SaveGame(ctx context.Context, g GameRecord) error {
	moves, err := json.Marshal(g.MovesUCI)
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	duration := g.EndedAt.Sub(g.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	const q = `INSERT INTO board_games (
		game_id, white, black, color, status, result, moves_uci, pgn, started_at, ended_at, duration_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (game_id) DO UPDATE SET
		white=EXCLUDED.white,
		black=EXCLUDED.black,
		color=EXCLUDED.color,
		status=EXCLUDED.status,
		result=EXCLUDED.result,
		moves_uci=EXCLUDED.moves_uci,
		pgn=EXCLUDED.pgn,
		started_at=EXCLUDED.started_at,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`
	if _, err := r.db.ExecContext(ctx, q,
		g.GameID, g.White, g.Black, g.Color, g.Status, g.Result(), string(moves), g.PGN(),
		g.StartedAt, g.EndedAt, duration,
	); err != nil {
		return fmt.Errorf("upsert game: %w", err)
	}
	return nil
}
