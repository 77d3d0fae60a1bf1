package gamelog

import (
	"context"
	"sync"
)

// Memory keeps records in process; used when no database is configured.
type Memory struct {
	mu    sync.RWMutex
	moves []MoveRecord
	games map[string]GameRecord
}

func NewMemory() *Memory {
	return &Memory{games: make(map[string]GameRecord)}
}

func (m *Memory) RecordMove(_ context.Context, rec MoveRecord) error {
	rec.Plies = append([]string(nil), rec.Plies...)
	m.mu.Lock()
	m.moves = append(m.moves, rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveGame(_ context.Context, g GameRecord) error {
	g.MovesUCI = append([]string(nil), g.MovesUCI...)
	m.mu.Lock()
	m.games[g.GameID] = g
	m.mu.Unlock()
	return nil
}

// Moves returns the recorded moves of gameID in insertion order.
func (m *Memory) Moves(gameID string) []MoveRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MoveRecord
	for _, rec := range m.moves {
		if rec.GameID == gameID {
			out = append(out, rec)
		}
	}
	return out
}

func (m *Memory) Game(gameID string) (GameRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[gameID]
	return g, ok
}
