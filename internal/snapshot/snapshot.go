// Package snapshot persists the last pipeline result per ticket so
// unchanged tickets can skip recomputation.
//
// The store is a small SQLite database keyed by ticket id: content hash,
// lifecycle status, and the serialized classification, priority, and
// routing from the last run. It is a cache with history, not the source
// of truth; the tracker owns ticket state and the audit log owns the
// decision record.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mapache-ai/shaper/internal/ticket"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	ticket_id      TEXT PRIMARY KEY,
	content_hash   TEXT NOT NULL,
	status         TEXT NOT NULL,
	classification TEXT,
	priority       TEXT,
	routing        TEXT,
	updated_at     DATETIME NOT NULL
);
`

// Record is the persisted result of a ticket's last pipeline run.
type Record struct {
	TicketID       string
	ContentHash    string
	Status         ticket.Status
	Classification *ticket.ClassificationResult
	Priority       *ticket.PriorityScore
	Routing        *ticket.RoutingDecision
	UpdatedAt      time.Time
}

// Store is the SQLite-backed snapshot store. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the snapshot database. Use ":memory:" for an
// ephemeral store in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	var connStr string
	if path == ":memory:" {
		connStr = "file:snapmem?mode=memory&cache=shared"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating snapshot directory: %w", err)
			}
		}
		connStr = "file:" + path + "?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	if path == ":memory:" {
		// In-memory databases are per connection; keep the pool at one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging snapshot store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing snapshot schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Get returns the snapshot for a ticket, or nil when none exists.
func (s *Store) Get(ctx context.Context, ticketID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, status, classification, priority, routing, updated_at
		FROM snapshots WHERE ticket_id = ?`, ticketID)

	var (
		r             = Record{TicketID: ticketID}
		status        string
		cls, pri, rte sql.NullString
		updatedAt     string
	)
	err := row.Scan(&r.ContentHash, &status, &cls, &pri, &rte, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot for %s: %w", ticketID, err)
	}
	r.Status = ticket.Status(status)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		r.UpdatedAt = t
	}
	if cls.Valid && cls.String != "" {
		r.Classification = &ticket.ClassificationResult{}
		if err := json.Unmarshal([]byte(cls.String), r.Classification); err != nil {
			return nil, fmt.Errorf("decoding snapshot classification for %s: %w", ticketID, err)
		}
	}
	if pri.Valid && pri.String != "" {
		r.Priority = &ticket.PriorityScore{}
		if err := json.Unmarshal([]byte(pri.String), r.Priority); err != nil {
			return nil, fmt.Errorf("decoding snapshot priority for %s: %w", ticketID, err)
		}
	}
	if rte.Valid && rte.String != "" {
		r.Routing = &ticket.RoutingDecision{}
		if err := json.Unmarshal([]byte(rte.String), r.Routing); err != nil {
			return nil, fmt.Errorf("decoding snapshot routing for %s: %w", ticketID, err)
		}
	}
	return &r, nil
}

// Put upserts the snapshot for a ticket.
func (s *Store) Put(ctx context.Context, r *Record) error {
	if r.TicketID == "" {
		return fmt.Errorf("snapshot record needs a ticket id")
	}
	cls, err := marshalNullable(r.Classification)
	if err != nil {
		return fmt.Errorf("encoding classification: %w", err)
	}
	pri, err := marshalNullable(r.Priority)
	if err != nil {
		return fmt.Errorf("encoding priority: %w", err)
	}
	rte, err := marshalNullable(r.Routing)
	if err != nil {
		return fmt.Errorf("encoding routing: %w", err)
	}
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (ticket_id, content_hash, status, classification, priority, routing, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticket_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			status = excluded.status,
			classification = excluded.classification,
			priority = excluded.priority,
			routing = excluded.routing,
			updated_at = excluded.updated_at`,
		r.TicketID, r.ContentHash, string(r.Status), cls, pri, rte, updatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", r.TicketID, err)
	}
	return nil
}

// Delete removes a ticket's snapshot. Used on reset so the next triage
// recomputes from scratch.
func (s *Store) Delete(ctx context.Context, ticketID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE ticket_id = ?`, ticketID); err != nil {
		return fmt.Errorf("deleting snapshot for %s: %w", ticketID, err)
	}
	return nil
}

func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
