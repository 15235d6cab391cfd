// Package sqlite persists analysis sessions and their summaries. The schema
// lives in db/migrations; this package assumes it has been applied.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mindwatch-data/engagement.report/internal/engagement"
	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("session not found")

// Session statuses as stored in the sessions table.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusPartial    = "partial"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	SessionID     string  `json:"session_id"`
	Kind          string  `json:"kind"`
	SourceName    string  `json:"source_name,omitempty"`
	Status        string  `json:"status"`
	FPS           float64 `json:"fps,omitempty"`
	TotalFrames   int     `json:"total_frames,omitempty"`
	Error         string  `json:"error,omitempty"`
	CreatedUnix   int64   `json:"created_unix"`
	CompletedUnix int64   `json:"completed_unix,omitempty"`
}

// SessionStore wraps a sqlite handle with session persistence.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps an open database connection.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// CreateSession inserts a new session row in the pending state.
func (s *SessionStore) CreateSession(rec SessionRecord) error {
	if rec.CreatedUnix == 0 {
		rec.CreatedUnix = time.Now().Unix()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, kind, source_name, status, fps, total_frames, created_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Kind, rec.SourceName, rec.Status, rec.FPS, rec.TotalFrames, rec.CreatedUnix,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// SetStatus updates a session's status and optional error text.
func (s *SessionStore) SetStatus(sessionID, status, errText string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, error = ? WHERE session_id = ?`,
		status, errText, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SaveSummary stores the final summary for a session: the full summary as a
// JSON blob plus one queryable row per track. The session row is marked
// complete (or partial) in the same transaction.
func (s *SessionStore) SaveSummary(sessionID string, summary *engagement.SessionSummary) error {
	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	partial := 0
	status := StatusComplete
	if summary.Partial {
		partial = 1
		status = StatusPartial
	}

	if _, err := tx.Exec(
		`INSERT INTO session_summaries (session_id, summary_json, partial)
		 VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET summary_json = excluded.summary_json, partial = excluded.partial`,
		sessionID, string(blob), partial,
	); err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM session_tracks WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear track rows: %w", err)
	}

	ids := make([]string, 0, len(summary.StudentAnalysis))
	for id := range summary.StudentAnalysis {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := summary.StudentAnalysis[id]
		breakdown, err := json.Marshal(a.ActivityBreakdown)
		if err != nil {
			return fmt.Errorf("failed to marshal breakdown for %s: %w", id, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO session_tracks (session_id, track_id, classification, attentive_pct,
				distracted_pct, total_detections, first_frame, last_seen_frame, breakdown_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, id, string(a.Classification), a.AttentivePercentage,
			a.DistractedPercentage, a.TotalDetections, a.FirstFrame, a.LastSeenFrame, string(breakdown),
		); err != nil {
			return fmt.Errorf("failed to insert track row for %s: %w", id, err)
		}
	}

	if _, err := tx.Exec(
		`UPDATE sessions SET status = ?, completed_unix = ? WHERE session_id = ?`,
		status, time.Now().Unix(), sessionID,
	); err != nil {
		return fmt.Errorf("failed to mark session complete: %w", err)
	}

	return tx.Commit()
}

// GetSession returns one session row.
func (s *SessionStore) GetSession(sessionID string) (SessionRecord, error) {
	var rec SessionRecord
	var sourceName, errText sql.NullString
	var fps sql.NullFloat64
	var totalFrames, completed sql.NullInt64

	err := s.db.QueryRow(
		`SELECT session_id, kind, source_name, status, fps, total_frames, error, created_unix, completed_unix
		 FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&rec.SessionID, &rec.Kind, &sourceName, &rec.Status, &fps, &totalFrames, &errText, &rec.CreatedUnix, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrSessionNotFound
	}
	if err != nil {
		return rec, err
	}

	rec.SourceName = sourceName.String
	rec.Error = errText.String
	rec.FPS = fps.Float64
	rec.TotalFrames = int(totalFrames.Int64)
	rec.CompletedUnix = completed.Int64
	return rec, nil
}

// GetSummary returns the stored summary for a session.
func (s *SessionStore) GetSummary(sessionID string) (*engagement.SessionSummary, error) {
	var blob string
	err := s.db.QueryRow(
		`SELECT summary_json FROM session_summaries WHERE session_id = ?`, sessionID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var summary engagement.SessionSummary
	if err := json.Unmarshal([]byte(blob), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored summary: %w", err)
	}
	return &summary, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *SessionStore) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT session_id, kind, source_name, status, fps, total_frames, error, created_unix, completed_unix
		 FROM sessions ORDER BY created_unix DESC, session_id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var sourceName, errText sql.NullString
		var fps sql.NullFloat64
		var totalFrames, completed sql.NullInt64
		if err := rows.Scan(&rec.SessionID, &rec.Kind, &sourceName, &rec.Status, &fps,
			&totalFrames, &errText, &rec.CreatedUnix, &completed); err != nil {
			return nil, err
		}
		rec.SourceName = sourceName.String
		rec.Error = errText.String
		rec.FPS = fps.Float64
		rec.TotalFrames = int(totalFrames.Int64)
		rec.CompletedUnix = completed.Int64
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteSession removes a session and its summary and track rows. Children
// are deleted explicitly rather than relying on the foreign_keys pragma,
// which is per-connection in sqlite.
func (s *SessionStore) DeleteSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_tracks WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete track rows: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM session_summaries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return tx.Commit()
}
