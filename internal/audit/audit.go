// Package audit is the append-only record of every pipeline decision.
//
// Each stage of every run writes one JSONL line: what went in, what came
// out, and whether it worked. Entries are never rewritten or deleted;
// the self-learning pass reads windows of this log to find repeated
// failures. Entry IDs are UUIDv7 so lexical order matches time order.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mapache-ai/shaper/internal/ticket"
)

// Pipeline stage names recorded on entries.
const (
	StageClassify   = "classify"
	StageLeanify    = "leanify"
	StagePrioritize = "prioritize"
	StageRoute      = "route"
	StageLifecycle  = "lifecycle"
	StageDispatch   = "dispatch"
	StageAnalyze    = "analyze"
)

// maxLineSize bounds a single JSONL record when scanning the log back.
const maxLineSize = 1 << 20

// Entry is one audit record.
type Entry struct {
	EntryID   string          `json:"entry_id"`
	Timestamp time.Time       `json:"timestamp"`
	TicketID  string          `json:"ticket_id"`
	Stage     string          `json:"stage"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Outcome   ticket.Outcome  `json:"outcome"`
	Error     string          `json:"error,omitempty"`
}

// Log is an append-only JSONL file. Appends are serialized by a mutex
// and written with a single Write call on an O_APPEND handle, so
// concurrent writers never interleave partial records.
type Log struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Open creates the log file (and its directory) if needed and returns a
// handle ready for appending.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Log{path: path, f: f}, nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append writes one entry and returns its id. Missing ids and timestamps
// are filled in; everything else is written as given.
func (l *Log) Append(ctx context.Context, e *Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.EntryID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generating entry id: %w", err)
		}
		e.EntryID = id.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = ticket.OutcomeOK
	}

	line, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshaling audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return "", fmt.Errorf("audit log %s is closed", l.path)
	}
	if _, err := l.f.Write(line); err != nil {
		return "", fmt.Errorf("appending audit entry: %w", err)
	}
	return e.EntryID, nil
}

// Window returns entries with a timestamp at or after since, oldest
// first. A limit of 0 means no limit. Lines that fail to parse are
// skipped rather than failing the whole scan.
func (l *Log) Window(since time.Time, limit int) ([]Entry, error) {
	entries, err := l.scan()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Tail returns the last n entries, oldest first.
func (l *Log) Tail(n int) ([]Entry, error) {
	entries, err := l.scan()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func (l *Log) scan() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning audit log: %w", err)
	}
	return entries, nil
}

// Payload marshals a stage input or output for recording. Marshal
// failures become a small error document instead of failing the append;
// the audit trail is best effort about payloads, never about entries.
func Payload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("{%q:%q}", "marshal_error", err.Error()))
	}
	return b
}
