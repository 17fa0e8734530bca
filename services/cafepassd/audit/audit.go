package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"cafepass/core/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    identity TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_type ON audit_entries(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_entries_identity ON audit_entries(identity);
CREATE INDEX IF NOT EXISTS idx_audit_entries_recorded ON audit_entries(recorded_at);
`

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// ErrPathRequired is returned when the audit database path is missing.
var ErrPathRequired = errors.New("audit database path must be configured")

// FileDSN converts a filesystem path into an on-disk SQLite DSN with sensible
// defaults. Callers must ensure the path is non-empty.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve audit path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Store persists an append-only history of registry and ledger events.
type Store struct {
	db *sql.DB
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one event to the history. The payload is stored as JSON;
// identity may be empty for events that are not tied to one.
func (s *Store) Record(ctx context.Context, eventType, identity string, payload interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("audit store not configured")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return fmt.Errorf("event type required")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO audit_entries(id, event_type, identity, payload, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, uuid.NewString(), eventType, strings.TrimSpace(identity), string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Entry is one recorded event.
type Entry struct {
	ID         string          `json:"id"`
	EventType  string          `json:"eventType"`
	Identity   string          `json:"identity,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Recent returns the newest entries, most recent first. A non-empty identity
// restricts the history to that identity.
func (s *Store) Recent(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("audit store not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT id, event_type, identity, payload, recorded_at
        FROM audit_entries
        ORDER BY recorded_at DESC, id DESC
        LIMIT ?
    `
	args := []interface{}{limit}
	if identity = strings.TrimSpace(identity); identity != "" {
		query = `
        SELECT id, event_type, identity, payload, recorded_at
        FROM audit_entries
        WHERE identity = ?
        ORDER BY recorded_at DESC, id DESC
        LIMIT ?
    `
		args = []interface{}{identity, limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()
	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var payload string
		if err := rows.Scan(&entry.ID, &entry.EventType, &entry.Identity, &payload, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Recorder adapts the store to the events.Emitter interface. Emits are best
// effort; a failed insert is logged and never propagated to the caller.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder wraps the store so registries can emit straight into it.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Emit implements the events.Emitter interface.
func (r *Recorder) Emit(event events.Event) {
	if r == nil || r.store == nil || event == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.Record(ctx, event.EventType(), eventIdentity(event), event); err != nil {
		r.logger.Warn("audit record failed", "event", event.EventType(), "error", err)
	}
}

func eventIdentity(event events.Event) string {
	switch e := event.(type) {
	case events.CodeIssued:
		return e.Identity
	case events.CodeRetired:
		return e.Identity
	case events.LoyaltyEnrolled:
		return e.Identity
	case events.LoyaltyAdjusted:
		return e.Identity
	}
	return ""
}
