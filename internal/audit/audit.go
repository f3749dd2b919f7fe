// Package audit keeps an append-only record of privacy-relevant
// events for compliance review. Records are held in memory for the
// process lifetime and, when a database is supplied, mirrored into
// the append-only audit_events table. Records are never mutated or
// deleted; retention is an external concern.
package audit

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies the privacy-relevant event being recorded.
type Kind string

// Recorded event kinds.
const (
	KindAnonymized      Kind = "anonymized"
	KindNoiseApplied    Kind = "noise_applied"
	KindSessionExpired  Kind = "session_expired"
	KindCrisisTriggered Kind = "crisis_triggered"
)

// Record is a single audit entry. Detail must be a non-PII summary;
// session IDs are opaque and never derived from user data.
type Record struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Log is an append-only audit log.
type Log struct {
	mu      sync.Mutex
	records []Record
	db      *sql.DB
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Log. db may be nil, in which case records are kept
// in memory only.
func New(db *sql.DB, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Record appends one audit entry.
func (l *Log) Record(kind Kind, sessionID, detail string) {
	rec := Record{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: l.now(),
		Detail:    detail,
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	if l.db != nil {
		_, err := l.db.Exec(
			"INSERT INTO audit_events (kind, session_id, timestamp, detail) VALUES (?, ?, ?, ?)",
			string(rec.Kind), rec.SessionID, rec.Timestamp, rec.Detail,
		)
		if err != nil {
			l.logger.Warn("failed to persist audit record", "kind", kind, "error", err)
		}
	}

	l.logger.Info("audit event", "kind", kind, "session_id", sessionID, "detail", detail)
}

// Records returns a copy of all entries of the given kind; an empty
// kind returns everything.
func (l *Log) Records(kind Kind) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the total number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
