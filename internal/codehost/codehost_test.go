package codehost

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

func TestParseRepo(t *testing.T) {
	tests := []struct {
		name         string
		repo         string
		defaultOwner string
		wantOwner    string
		wantRepo     string
		wantErr      bool
	}{
		{
			name:      "slug",
			repo:      "mapache/app",
			wantOwner: "mapache",
			wantRepo:  "app",
		},
		{
			name:         "bare name with default owner",
			repo:         "app",
			defaultOwner: "mapache",
			wantOwner:    "mapache",
			wantRepo:     "app",
		},
		{
			name:    "bare name without default owner",
			repo:    "app",
			wantErr: true,
		},
		{
			name:      "ssh remote",
			repo:      "git@github.com:mapache/bridge-sync.git",
			wantOwner: "mapache",
			wantRepo:  "bridge-sync",
		},
		{
			name:      "https remote with .git",
			repo:      "https://github.com/mapache/app.git",
			wantOwner: "mapache",
			wantRepo:  "app",
		},
		{
			name:      "https remote",
			repo:      "https://github.com/mapache/app",
			wantOwner: "mapache",
			wantRepo:  "app",
		},
		{
			name:    "empty",
			repo:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseRepo(tt.repo, tt.defaultOwner)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRepo(%q) should fail", tt.repo)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepo(%q) error: %v", tt.repo, err)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("ParseRepo(%q) = %s/%s, want %s/%s", tt.repo, owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}

func TestParseSessionRef(t *testing.T) {
	ref := sessionRef("mapache", "app", "0190c7f2")
	slug, id, ok := ParseSessionRef(ref)
	if !ok {
		t.Fatalf("ParseSessionRef(%q) not ok", ref)
	}
	if slug != "mapache/app" || id != "0190c7f2" {
		t.Errorf("ParseSessionRef(%q) = %q, %q", ref, slug, id)
	}

	for _, bad := range []string{"", "nope", "agent:", "agent:mapache/app", "agent:mapache/app:"} {
		if _, _, ok := ParseSessionRef(bad); ok {
			t.Errorf("ParseSessionRef(%q) should not parse", bad)
		}
	}
}

func TestNewSelectsKind(t *testing.T) {
	h, err := New(config.CodeHostConfig{Kind: "memory"})
	if err != nil {
		t.Fatalf("New(memory) error: %v", err)
	}
	if h.Name() != "memory" {
		t.Errorf("Name() = %q, want memory", h.Name())
	}

	// Empty kind defaults to the in-process host.
	if h, err = New(config.CodeHostConfig{}); err != nil || h.Name() != "memory" {
		t.Errorf("New(empty kind) = %v, %v, want memory host", h, err)
	}

	if _, err := New(config.CodeHostConfig{Kind: "gitlab"}); err == nil || !strings.Contains(err.Error(), "unknown code host") {
		t.Errorf("New(gitlab) error = %v, want unknown code host", err)
	}
}

func TestMemoryHost(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	brief := &ticket.AgentBrief{
		Problem:   "Bridge mirror drops updates",
		Outcome:   "Edits mirror within a minute",
		Repos:     []string{"mapache/bridge-sync", "mapache/app"},
		TicketKey: "MAP-12",
	}

	ref, err := m.StartAgentSession(ctx, brief)
	if err != nil {
		t.Fatalf("StartAgentSession() error: %v", err)
	}
	if ref != "agent:mapache/bridge-sync:sim-1" {
		t.Errorf("ref = %q, want agent:mapache/bridge-sync:sim-1", ref)
	}

	sessions := m.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("Sessions() returned %d, want 1", len(sessions))
	}
	if sessions[0].TicketKey != "MAP-12" {
		t.Errorf("session ticket = %q, want MAP-12", sessions[0].TicketKey)
	}
	if !strings.Contains(sessions[0].Brief, "Bridge mirror drops updates") {
		t.Errorf("session brief missing problem statement: %q", sessions[0].Brief)
	}

	if err := m.LinkReference(ctx, "MAP-12", ref); err != nil {
		t.Fatalf("LinkReference() error: %v", err)
	}
	if links := m.Links("MAP-12"); len(links) != 1 || links[0] != ref {
		t.Errorf("Links() = %v, want [%s]", links, ref)
	}
}

func TestMemoryHostFailureInjection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	outage := errors.New("host outage")
	brief := &ticket.AgentBrief{Repos: []string{"mapache/app"}, TicketKey: "MAP-1"}

	m.FailWith(OpSession, outage)
	if _, err := m.StartAgentSession(ctx, brief); !errors.Is(err, outage) {
		t.Errorf("StartAgentSession() error = %v, want injected outage", err)
	}

	m.FailWith(OpSession, nil)
	if _, err := m.StartAgentSession(ctx, brief); err != nil {
		t.Errorf("StartAgentSession() after clearing = %v, want nil", err)
	}

	m.FailWith(OpLink, outage)
	if err := m.LinkReference(ctx, "MAP-1", "agent:mapache/app:sim-1"); !errors.Is(err, outage) {
		t.Errorf("LinkReference() error = %v, want injected outage", err)
	}
}

func TestMemoryHostRejectsEmptyBrief(t *testing.T) {
	m := NewMemory()

	if _, err := m.StartAgentSession(context.Background(), &ticket.AgentBrief{}); err == nil {
		t.Error("StartAgentSession() with no repos should fail")
	}
	if _, err := m.StartAgentSession(context.Background(), nil); err == nil {
		t.Error("StartAgentSession(nil) should fail")
	}
}
