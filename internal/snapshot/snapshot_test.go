package snapshot

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mapache-ai/shaper/internal/ticket"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), ".shaper", "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord() *Record {
	return &Record{
		TicketID:    "t-1",
		ContentHash: "aabbcc",
		Status:      ticket.StatusReady,
		Classification: &ticket.ClassificationResult{
			Source:            ticket.SourceUser,
			SourceConfidence:  0.9,
			Surfaces:          []ticket.Surface{ticket.SurfaceApp},
			SurfaceConfidence: 0.85,
			Size:              ticket.SizeMedium,
			SizeConfidence:    0.7,
		},
		Priority: &ticket.PriorityScore{Score: 62, Rationale: "base 50; app-boost(+12)"},
		Routing: &ticket.RoutingDecision{
			Route:     ticket.RouteChat,
			Rationale: "scoped change suits a guided chat session",
			Prompt:    "Help implement T-1",
		},
		UpdatedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get(absent) = %+v, want nil", got)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleRecord()
	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil after Put")
	}
	if got.ContentHash != want.ContentHash || got.Status != want.Status {
		t.Errorf("got hash=%q status=%q", got.ContentHash, got.Status)
	}
	if !reflect.DeepEqual(got.Classification, want.Classification) {
		t.Errorf("Classification = %+v, want %+v", got.Classification, want.Classification)
	}
	if !reflect.DeepEqual(got.Priority, want.Priority) {
		t.Errorf("Priority = %+v, want %+v", got.Priority, want.Priority)
	}
	if !reflect.DeepEqual(got.Routing, want.Routing) {
		t.Errorf("Routing = %+v, want %+v", got.Routing, want.Routing)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %s, want %s", got.UpdatedAt, want.UpdatedAt)
	}
}

func TestPutUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleRecord()
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("Put: %v", err)
	}

	second := sampleRecord()
	second.ContentHash = "ddeeff"
	second.Status = ticket.StatusShaped
	second.Routing = nil
	if err := s.Put(ctx, second); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	got, err := s.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContentHash != "ddeeff" || got.Status != ticket.StatusShaped {
		t.Errorf("update not applied: hash=%q status=%q", got.ContentHash, got.Status)
	}
	if got.Routing != nil {
		t.Errorf("Routing should be cleared, got %+v", got.Routing)
	}
}

func TestPutRequiresTicketID(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put(context.Background(), &Record{ContentHash: "x"}); err == nil {
		t.Fatal("Put without ticket id should fail")
	}
}

func TestPartialRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A discarded ticket has a hash and status but no artifacts.
	r := &Record{TicketID: "t-2", ContentHash: "abc", Status: ticket.StatusDiscarded}
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "t-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Classification != nil || got.Priority != nil || got.Routing != nil {
		t.Errorf("expected empty artifacts, got %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should default to now on Put")
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, sampleRecord()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "t-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := s.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("snapshot survived delete: %+v", got)
	}

	// Deleting a missing row is not an error.
	if err := s.Delete(ctx, "t-1"); err != nil {
		t.Errorf("Delete of missing row: %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Put(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("in-memory store lost the record")
	}
}
