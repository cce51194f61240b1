package db

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/hostlink/internal/monitoring"
	"github.com/banshee-data/hostlink/internal/protocol"
	"github.com/banshee-data/hostlink/internal/session"
)

// HistorySink records session events as rows. Write failures are logged and
// never reach the session loop.
type HistorySink struct {
	db       *DB
	portPath string
}

var _ session.Sink = (*HistorySink)(nil)

// NewHistorySink returns a sink for sessions on the given port.
func NewHistorySink(db *DB, portPath string) *HistorySink {
	return &HistorySink{db: db, portPath: portPath}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromUnixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

func (h *HistorySink) FrameSent(e session.FrameEvent) {
	if err := h.db.RecordFrame(e); err != nil {
		monitoring.Logf("history: %v", err)
	}
}

func (h *HistorySink) Response(e session.ResponseEvent) {
	if err := h.db.RecordResponse(e.SessionID, e.At, e.Kind, e.Text, nil); err != nil {
		monitoring.Logf("history: %v", err)
	}
}

// Diagnostic stores unclassified reply lines, including undecodable ones.
// Other diagnostics are log-only.
func (h *HistorySink) Diagnostic(e session.DiagnosticEvent) {
	var de *protocol.DecodeError
	if e.Err != nil && !errors.As(e.Err, &de) {
		return
	}
	if err := h.db.RecordResponse(e.SessionID, e.At, protocol.Unclassified, e.Text, e.Err); err != nil {
		monitoring.Logf("history: %v", err)
	}
}

func (h *HistorySink) StateChanged(e session.StateEvent) {
	var err error
	switch e.To {
	case session.Connected:
		err = h.db.StartSession(e.SessionID, h.portPath, e.At)
	case session.Closed:
		err = h.db.EndSession(e.SessionID, e.At, e.Err)
	}
	if err != nil {
		monitoring.Logf("history: %v", err)
	}
}

// StartSession inserts the row for a session that just connected.
func (db *DB) StartSession(id, portPath string, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, port_path, started_at) VALUES (?, ?, ?)`,
		id, portPath, unixSeconds(at),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", id, err)
	}
	return nil
}

// EndSession marks a session closed. cause is nil for a clean shutdown.
func (db *DB) EndSession(id string, at time.Time, cause error) error {
	var endErr sql.NullString
	if cause != nil {
		endErr = sql.NullString{String: cause.Error(), Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, ended_at, end_error) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET ended_at = excluded.ended_at, end_error = excluded.end_error`,
		id, unixSeconds(at), unixSeconds(at), endErr,
	)
	if err != nil {
		return fmt.Errorf("failed to close session %s: %w", id, err)
	}
	return nil
}

// RecordFrame stores one sent frame with its payload.
func (db *DB) RecordFrame(e session.FrameEvent) error {
	body, err := protocol.EncodePayload(e.Snapshot)
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO frames (session_id, sent_at, bytes, chunks, cpu_percent, memory_percent, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, unixSeconds(e.At), e.Bytes, e.Chunks,
		float64(e.Snapshot.CPUPercent), float64(e.Snapshot.MemoryPercent), string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

// RecordResponse stores one reply line.
func (db *DB) RecordResponse(sessionID string, at time.Time, kind protocol.Kind, text string, decodeErr error) error {
	var de sql.NullString
	if decodeErr != nil {
		de = sql.NullString{String: decodeErr.Error(), Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO responses (session_id, received_at, kind, text, decode_error) VALUES (?, ?, ?, ?, ?)`,
		sessionID, unixSeconds(at), kind.String(), text, de,
	)
	if err != nil {
		return fmt.Errorf("failed to insert response: %w", err)
	}
	return nil
}

// FrameRecord is one row of the frames table.
type FrameRecord struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	SentAt        time.Time `json:"sent_at"`
	Bytes         int       `json:"bytes"`
	Chunks        int       `json:"chunks"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	Payload       string    `json:"payload"`
}

// RecentFrames returns up to limit frames, newest first.
func (db *DB) RecentFrames(limit int) ([]FrameRecord, error) {
	rows, err := db.Query(
		`SELECT frame_id, session_id, sent_at, bytes, chunks, cpu_percent, memory_percent, payload
		 FROM frames ORDER BY sent_at DESC, frame_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameRecord
	for rows.Next() {
		var f FrameRecord
		var sentAt float64
		if err := rows.Scan(&f.ID, &f.SessionID, &sentAt, &f.Bytes, &f.Chunks, &f.CPUPercent, &f.MemoryPercent, &f.Payload); err != nil {
			return nil, err
		}
		f.SentAt = fromUnixSeconds(sentAt)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// ResponseCounts tallies replies received at or after since, keyed by kind
// name.
func (db *DB) ResponseCounts(since time.Time) (map[string]int, error) {
	rows, err := db.Query(
		`SELECT kind, COUNT(*) FROM responses WHERE received_at >= ? GROUP BY kind`,
		unixSeconds(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID        string     `json:"id"`
	PortPath  string     `json:"port_path"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndError  string     `json:"end_error,omitempty"`
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := db.Query(
		`SELECT session_id, port_path, started_at, ended_at, end_error
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var s SessionRecord
		var started float64
		var ended sql.NullFloat64
		var endErr sql.NullString
		if err := rows.Scan(&s.ID, &s.PortPath, &started, &ended, &endErr); err != nil {
			return nil, err
		}
		s.StartedAt = fromUnixSeconds(started)
		if ended.Valid {
			t := fromUnixSeconds(ended.Float64)
			s.EndedAt = &t
		}
		s.EndError = endErr.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
