// Package journal records script lifecycle events in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/hotswap/internal/log"
)

// Kind is the lifecycle event an Entry records.
type Kind string

const (
	KindRegistered   Kind = "registered"
	KindUnregistered Kind = "unregistered"
	KindError        Kind = "error"
	KindWarning      Kind = "warning"
)

// Entry is one journal row.
type Entry struct {
	ID         int64
	Seq        uint64
	Kind       Kind
	Name       string
	TypeTag    string
	SourcePath string
	Backend    string
	RecordID   string
	Message    string
	CreatedAt  time.Time
}

// Store is an append-only event journal.
type Store struct {
	db *sql.DB
	// run stamps every row appended through this Store. Seq restarts with
	// each process, so rows are ordered by (run, seq).
	run int64

	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) the journal at path and migrates it.
// The special path ":memory:" opens a private in-memory journal.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection: an in-memory database is per connection, and writes are serialized anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug(log.CatJournal, "journal opened", "path", path)
	return &Store{db: db, run: time.Now().UnixNano()}, nil
}

// Append inserts e. CreatedAt defaults to now.
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run, seq, kind, name, type_tag, source_path, backend, record_id, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.run, int64(e.Seq), string(e.Kind), e.Name, e.TypeTag, e.SourcePath, e.Backend, e.RecordID, e.Message,
		e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("append journal entry: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, seq, kind, name, type_tag, source_path, backend, record_id, message, created_at
		 FROM events ORDER BY run DESC, seq DESC, id DESC LIMIT ?`, limit)
}

// ForName returns every entry about name, oldest first.
func (s *Store) ForName(ctx context.Context, name string) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, seq, kind, name, type_tag, source_path, backend, record_id, message, created_at
		 FROM events WHERE name = ? ORDER BY run ASC, seq ASC, id ASC`, name)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			seq     int64
			kind    string
			created int64
		)
		if err := rows.Scan(&e.ID, &seq, &kind, &e.Name, &e.TypeTag, &e.SourcePath, &e.Backend,
			&e.RecordID, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Seq = uint64(seq)
		e.Kind = Kind(kind)
		e.CreatedAt = time.Unix(0, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of entries of kind, or of all kinds when kind is empty.
func (s *Store) Count(ctx context.Context, kind Kind) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE kind = ?`, string(kind)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
