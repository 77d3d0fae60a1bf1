package signature

import (
	"github.com/park285/cheese-board/internal/board"
)

// Result classifies a resolved signature.
type Result int

const (
	Unknown Result = iota
	Piece
	Empty
)

func (r Result) String() string {
	switch r {
	case Piece:
		return "piece"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Database maps piece kinds to the signatures observed for them. A Database
// is never mutated after Build, so one value may be shared across goroutines.
type Database struct {
	kinds map[board.PieceKind][]board.Signature
	index map[board.Signature]board.PieceKind
	size  int
}

// Builder accumulates signatures per kind; duplicates within a kind are kept once.
type Builder struct {
	kinds map[board.PieceKind][]board.Signature
}

func NewBuilder() *Builder {
	return &Builder{kinds: make(map[board.PieceKind][]board.Signature)}
}

// Add appends sig to the list for kind unless it is already there.
// Invalid kinds are ignored.
func (b *Builder) Add(kind board.PieceKind, sig board.Signature) {
	if !kind.Valid() {
		return
	}
	for _, s := range b.kinds[kind] {
		if s == sig {
			return
		}
	}
	b.kinds[kind] = append(b.kinds[kind], sig)
}

// Build freezes the builder contents into a Database. The builder stays usable.
func (b *Builder) Build() *Database {
	db := &Database{
		kinds: make(map[board.PieceKind][]board.Signature, len(b.kinds)),
		index: make(map[board.Signature]board.PieceKind),
	}
	for _, kind := range board.Kinds {
		list := b.kinds[kind]
		if len(list) == 0 {
			continue
		}
		db.kinds[kind] = append([]board.Signature(nil), list...)
		db.size += len(list)
		for _, sig := range list {
			// earlier kinds in resolution order keep their claim
			if _, taken := db.index[sig]; !taken {
				db.index[sig] = kind
			}
		}
	}
	return db
}

// New returns an empty database.
func New() *Database { return NewBuilder().Build() }

// Resolve classifies sig. Empty takes precedence over any stored entry.
func (db *Database) Resolve(sig board.Signature) (board.PieceKind, Result) {
	if sig.Empty() {
		return 0, Empty
	}
	if db == nil {
		return 0, Unknown
	}
	if kind, ok := db.index[sig]; ok {
		return kind, Piece
	}
	return 0, Unknown
}

// Signatures returns a copy of the list stored for kind.
func (db *Database) Signatures(kind board.PieceKind) []board.Signature {
	if db == nil {
		return nil
	}
	return append([]board.Signature(nil), db.kinds[kind]...)
}

// Len is the total number of stored signatures across all kinds.
func (db *Database) Len() int {
	if db == nil {
		return 0
	}
	return db.size
}

// Builder returns a builder seeded with a copy of the database contents.
func (db *Database) Builder() *Builder {
	b := NewBuilder()
	if db == nil {
		return b
	}
	for kind, list := range db.kinds {
		b.kinds[kind] = append([]board.Signature(nil), list...)
	}
	return b
}

// Clone returns an independent copy.
func (db *Database) Clone() *Database { return db.Builder().Build() }

// Merge returns a database where, for every kind, the signatures of db come
// first followed by those of prev not already present.
func (db *Database) Merge(prev *Database) *Database {
	b := db.Builder()
	if prev != nil {
		for _, kind := range board.Kinds {
			for _, sig := range prev.kinds[kind] {
				b.Add(kind, sig)
			}
		}
	}
	return b.Build()
}

// Counts returns the number of signatures per kind, keyed by piece letter.
func (db *Database) Counts() map[string]int {
	out := make(map[string]int)
	if db == nil {
		return out
	}
	for kind, list := range db.kinds {
		out[kind.String()] = len(list)
	}
	return out
}
