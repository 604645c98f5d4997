package persist

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed journal of completed response cycles. It is
// operational logging only: nothing in the response pipeline reads it.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// ResponseRecord summarizes one finished response cycle.
type ResponseRecord struct {
	RequestID     string
	ChannelID     string
	PromptChars   int
	SentenceCount int
	DurationMs    int64
	Success       bool
	CreatedAt     time.Time
}

// NewStore opens (or creates) the journal database at the given path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS responses (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id      TEXT NOT NULL,
			channel_id      TEXT NOT NULL,
			prompt_chars    INTEGER NOT NULL,
			sentence_count  INTEGER NOT NULL,
			duration_ms     INTEGER NOT NULL,
			success         INTEGER NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_responses_channel ON responses(channel_id);
		CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at);
	`)
	return err
}

// RecordResponse appends one response record to the journal.
func (s *Store) RecordResponse(rec ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	success := 0
	if rec.Success {
		success = 1
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO responses (request_id, channel_id, prompt_chars, sentence_count, duration_ms, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RequestID, rec.ChannelID, rec.PromptChars, rec.SentenceCount, rec.DurationMs, success, createdAt.Format(time.RFC3339))
	return err
}

// RecentResponses returns the newest records, newest first.
func (s *Store) RecentResponses(limit int) ([]ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT request_id, channel_id, prompt_chars, sentence_count, duration_ms, success, created_at
		FROM responses
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ResponseRecord
	for rows.Next() {
		var rec ResponseRecord
		var success int
		var createdAt string
		if err := rows.Scan(&rec.RequestID, &rec.ChannelID, &rec.PromptChars, &rec.SentenceCount,
			&rec.DurationMs, &success, &createdAt); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
