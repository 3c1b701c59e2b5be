package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mapache-ai/shaper/internal/ticket"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), ".shaper", "audit.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	id1, err := l.Append(ctx, &Entry{TicketID: "t-1", Stage: StageClassify, Output: Payload(map[string]string{"size": "small"})})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected an entry id")
	}
	id2, err := l.Append(ctx, &Entry{TicketID: "t-1", Stage: StageRoute, Outcome: ticket.OutcomeError, Error: "tracker unavailable"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("ids should be time ordered: %s then %s", id1, id2)
	}

	f, err := os.Open(l.Path())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		lines++
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Errorf("line %d is not valid JSON: %v", lines, err)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestAppendFillsDefaults(t *testing.T) {
	l := openTestLog(t)

	id, err := l.Append(context.Background(), &Entry{TicketID: "t-1", Stage: StageLeanify})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := l.Tail(1)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.EntryID != id {
		t.Errorf("EntryID = %q, want %q", e.EntryID, id)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
	if e.Outcome != ticket.OutcomeOK {
		t.Errorf("Outcome = %q, want ok", e.Outcome)
	}
}

func TestAppendRespectsCancelledContext(t *testing.T) {
	l := openTestLog(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Append(ctx, &Entry{TicketID: "t-1", Stage: StageClassify}); err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestWindow(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, &Entry{
			TicketID:  "t-1",
			Stage:     StageClassify,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := l.Window(base.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Window returned %d entries, want 3", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("first entry at %s, want %s", got[0].Timestamp, base.Add(2*time.Hour))
	}

	limited, err := l.Window(time.Time{}, 2)
	if err != nil {
		t.Fatalf("window with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Window limit 2 returned %d entries", len(limited))
	}
}

func TestTail(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for _, stage := range []string{StageClassify, StageLeanify, StagePrioritize, StageRoute} {
		if _, err := l.Append(ctx, &Entry{TicketID: "t-1", Stage: stage}); err != nil {
			t.Fatalf("append %s: %v", stage, err)
		}
	}

	got, err := l.Tail(2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Tail(2) returned %d entries", len(got))
	}
	if got[0].Stage != StagePrioritize || got[1].Stage != StageRoute {
		t.Errorf("Tail order wrong: %s, %s", got[0].Stage, got[1].Stage)
	}
}

func TestScanSkipsCorruptLines(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	if _, err := l.Append(ctx, &Entry{TicketID: "t-1", Stage: StageClassify}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Simulate a torn write at the file tail.
	f, err := os.OpenFile(l.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.WriteString(`{"entry_id":"truncat`); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	got, err := l.Tail(10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected the corrupt line to be skipped, got %d entries", len(got))
	}
}

func TestConcurrentAppends(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := l.Append(ctx, &Entry{TicketID: "t-1", Stage: StageClassify}); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := l.Tail(0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(got) != writers*perWriter {
		t.Errorf("expected %d entries, got %d", writers*perWriter, len(got))
	}
}

func TestPayloadMarshalFailure(t *testing.T) {
	raw := Payload(func() {})
	if !strings.Contains(string(raw), "marshal_error") {
		t.Errorf("Payload on unmarshalable value = %s", raw)
	}
	if !json.Valid(raw) {
		t.Errorf("Payload error document is not valid JSON: %s", raw)
	}
}
