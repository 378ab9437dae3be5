package transcript

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default local sink for the persistence boundary:
// full transcripts plus end-of-session reports.
type SQLiteStore struct {
	db *sql.DB
}

// OpenStore opens or creates the SQLite database at path.
func OpenStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode and a busy timeout so a status read never trips over a
	// transcript save.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			session_id TEXT NOT NULL,
			idx        INTEGER NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			PRIMARY KEY (session_id, idx)
		);
		CREATE TABLE IF NOT EXISTS session_reports (
			session_id           TEXT PRIMARY KEY,
			recording_id         TEXT,
			ended_by_participant INTEGER NOT NULL,
			ended_at             DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveTranscript rewrites the full log for a session in one transaction.
// Whole-log rewrites keep saves strictly ordered: the last write always
// reflects the complete log at that instant.
func (s *SQLiteStore) SaveTranscript(sessionID string, turns []Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM transcripts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	for i, t := range turns {
		if _, err := tx.Exec(
			`INSERT INTO transcripts (session_id, idx, role, content) VALUES (?, ?, ?, ?)`,
			sessionID, i, t.Role, t.Content,
		); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LoadTranscript returns the persisted log for a session in order.
func (s *SQLiteStore) LoadTranscript(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(
		`SELECT role, content FROM transcripts WHERE session_id = ? ORDER BY idx`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ReportSessionEnded records the termination report for a session.
func (s *SQLiteStore) ReportSessionEnded(sessionID, recordingID string, endedByParticipant bool) error {
	ended := 0
	if endedByParticipant {
		ended = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO session_reports (session_id, recording_id, ended_by_participant)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			recording_id = excluded.recording_id,
			ended_by_participant = excluded.ended_by_participant,
			ended_at = CURRENT_TIMESTAMP
	`, sessionID, recordingID, ended)
	if err != nil {
		return fmt.Errorf("record session report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
