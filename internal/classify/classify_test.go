package classify

import (
	"reflect"
	"testing"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

func testCfg() config.ClassifyConfig {
	return config.ClassifyConfig{
		ConfidenceThreshold:     0.55,
		DefaultSourceConfidence: 0.6,
		DefaultSurface:          "app",
		SurfaceKeywords: map[string][]string{
			"solutions": {"solutions", "client deliverable", "workbook"},
			"app":       {"dashboard", "platform", "billing"},
			"bridge":    {"bridge", "sync layer"},
		},
		RepoPatterns: map[string][]string{
			"solutions": {"solutions-"},
			"app":       {"mapache/app"},
			"bridge":    {"mapache/bridge"},
		},
		LargeKeywords:       []string{"migration", "overhaul", "rearchitect"},
		SmallKeywords:       []string{"typo", "tweak", "rename"},
		MultiRepoThreshold:  2,
		SmallMaxSignals:     1,
		MediumMaxSignals:    3,
		ValidatedKeywords:   []string{"customer", "revenue", "pain"},
		MaintenanceKeywords: []string{"dependency", "upkeep"},
		AmbiguousKeywords:   []string{"unclear", "should we"},
	}
}

func TestClassifySource(t *testing.T) {
	c := New(testCfg())

	tests := []struct {
		name     string
		labels   []string
		wantSrc  ticket.Source
		wantConf float64
	}{
		{"explicit opportunity", []string{"source:opportunity-agent"}, ticket.SourceOpportunity, 1.0},
		{"explicit migration", []string{"source:system-migration"}, ticket.SourceMigration, 1.0},
		{"explicit user", []string{"source:user"}, ticket.SourceUser, 1.0},
		{"no marker defaults to user", nil, ticket.SourceUser, 0.6},
		{"unrelated labels default to user", []string{"bug", "surface:app"}, ticket.SourceUser, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(&ticket.Ticket{Key: "MAP-1", Title: "Fix dashboard export", Labels: tt.labels})
			if res.Source != tt.wantSrc {
				t.Errorf("Source = %q, want %q", res.Source, tt.wantSrc)
			}
			if res.SourceConfidence != tt.wantConf {
				t.Errorf("SourceConfidence = %v, want %v", res.SourceConfidence, tt.wantConf)
			}
		})
	}
}

func TestClassifySurfaces(t *testing.T) {
	c := New(testCfg())

	t.Run("solutions keywords only", func(t *testing.T) {
		res := c.Classify(&ticket.Ticket{
			Key:   "MAP-2",
			Title: "Update the client deliverable workbook for solutions team",
		})
		want := []ticket.Surface{ticket.SurfaceSolutions}
		if !reflect.DeepEqual(res.Surfaces, want) {
			t.Errorf("Surfaces = %v, want %v", res.Surfaces, want)
		}
		if res.SurfaceConfidence < 0.55 {
			t.Errorf("SurfaceConfidence = %v, want above threshold", res.SurfaceConfidence)
		}
	})

	t.Run("solutions plus app implies bridge", func(t *testing.T) {
		res := c.Classify(&ticket.Ticket{
			Key:   "MAP-3",
			Title: "Keep solutions workbook in sync with platform billing",
		})
		want := []ticket.Surface{ticket.SurfaceSolutions, ticket.SurfaceApp, ticket.SurfaceBridge}
		if !reflect.DeepEqual(res.Surfaces, want) {
			t.Errorf("Surfaces = %v, want %v", res.Surfaces, want)
		}
	})

	t.Run("explicit label wins", func(t *testing.T) {
		res := c.Classify(&ticket.Ticket{
			Key:    "MAP-4",
			Title:  "Improve throughput",
			Labels: []string{"surface:bridge"},
		})
		want := []ticket.Surface{ticket.SurfaceBridge}
		if !reflect.DeepEqual(res.Surfaces, want) {
			t.Errorf("Surfaces = %v, want %v", res.Surfaces, want)
		}
		if res.SurfaceConfidence != 0.95 {
			t.Errorf("SurfaceConfidence = %v, want 0.95", res.SurfaceConfidence)
		}
	})

	t.Run("no signal falls back below threshold", func(t *testing.T) {
		res := c.Classify(&ticket.Ticket{Key: "MAP-5", Title: "Improve performance of thing"})
		want := []ticket.Surface{ticket.SurfaceApp}
		if !reflect.DeepEqual(res.Surfaces, want) {
			t.Errorf("Surfaces = %v, want default %v", res.Surfaces, want)
		}
		if res.SurfaceConfidence >= 0.55 {
			t.Errorf("SurfaceConfidence = %v, want below threshold", res.SurfaceConfidence)
		}
	})

	t.Run("repo pattern attributes surface", func(t *testing.T) {
		res := c.Classify(&ticket.Ticket{
			Key:   "MAP-6",
			Title: "Deploy fix in mapache/solutions-acme",
		})
		if !res.HasSurface(ticket.SurfaceSolutions) {
			t.Errorf("Surfaces = %v, want solutions attributed via repo pattern", res.Surfaces)
		}
	})
}

func TestClassifySizeRules(t *testing.T) {
	c := New(testCfg())

	tests := []struct {
		name      string
		tk        ticket.Ticket
		wantSize  ticket.Size
		confident bool
	}{
		{
			name: "explicit label beats small keyword",
			tk: ticket.Ticket{
				Key:    "MAP-10",
				Title:  "Tiny tweak to the importer",
				Labels: []string{"size:large"},
			},
			wantSize:  ticket.SizeLarge,
			confident: true,
		},
		{
			name:      "large keyword",
			tk:        ticket.Ticket{Key: "MAP-11", Title: "Database migration for billing"},
			wantSize:  ticket.SizeLarge,
			confident: true,
		},
		{
			name: "multi-repo forces large",
			tk: ticket.Ticket{
				Key:   "MAP-12",
				Title: "Align mapache/app and mapache/solutions-acme behavior",
			},
			wantSize:  ticket.SizeLarge,
			confident: true,
		},
		{
			name: "cross-surface forces large",
			tk: ticket.Ticket{
				Key:   "MAP-13",
				Title: "Keep solutions workbook in sync with platform billing",
			},
			wantSize:  ticket.SizeLarge,
			confident: true,
		},
		{
			name:      "small keyword",
			tk:        ticket.Ticket{Key: "MAP-14", Title: "Fix typo in dashboard header"},
			wantSize:  ticket.SizeSmall,
			confident: true,
		},
		{
			name:      "single signal lands in small band",
			tk:        ticket.Ticket{Key: "MAP-15", Title: "Improve billing"},
			wantSize:  ticket.SizeSmall,
			confident: true,
		},
		{
			name:      "mid signal count lands in medium band",
			tk:        ticket.Ticket{Key: "MAP-16", Title: "Update the client deliverable workbook for solutions team"},
			wantSize:  ticket.SizeMedium,
			confident: true,
		},
		{
			name:      "no evidence degrades to small below threshold",
			tk:        ticket.Ticket{Key: "MAP-17", Title: "Improve performance of thing"},
			wantSize:  ticket.SizeSmall,
			confident: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(&tt.tk)
			if res.Size != tt.wantSize {
				t.Errorf("Size = %q, want %q", res.Size, tt.wantSize)
			}
			if got := res.SizeConfidence >= 0.55; got != tt.confident {
				t.Errorf("SizeConfidence = %v, confident = %v, want %v", res.SizeConfidence, got, tt.confident)
			}
		})
	}
}

func TestClassifyMalformed(t *testing.T) {
	c := New(testCfg())

	res := c.Classify(&ticket.Ticket{Key: "MAP-20", Title: "", Description: "   "})
	if !res.Malformed {
		t.Fatal("Malformed = false, want true")
	}
	if res.Size != ticket.SizeSmall {
		t.Errorf("Size = %q, want small", res.Size)
	}
	if res.SourceConfidence != 0 || res.SurfaceConfidence != 0 || res.SizeConfidence != 0 {
		t.Errorf("confidences = %v/%v/%v, want all zero",
			res.SourceConfidence, res.SurfaceConfidence, res.SizeConfidence)
	}
	if len(res.Surfaces) != 0 {
		t.Errorf("Surfaces = %v, want empty", res.Surfaces)
	}
}

func TestClassifySignalFlags(t *testing.T) {
	c := New(testCfg())

	res := c.Classify(&ticket.Ticket{
		Key:         "MAP-21",
		Title:       "Customers report billing pain",
		Description: "Dependency upkeep needed. Unclear scope, should we split it?",
	})

	if !res.ValidatedSignal {
		t.Error("ValidatedSignal = false, want true")
	}
	if !res.MaintenanceFlavored {
		t.Error("MaintenanceFlavored = false, want true")
	}
	if !res.Ambiguous {
		t.Error("Ambiguous = false, want true")
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := New(testCfg())
	tk := &ticket.Ticket{
		Key:         "MAP-22",
		Title:       "Keep solutions workbook in sync with platform billing",
		Description: "Customers hit stale data in mapache/app and mapache/solutions-acme.",
		Labels:      []string{"source:opportunity-agent"},
	}

	first := c.Classify(tk)
	second := c.Classify(tk)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Classify not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestExtractRepoRefs(t *testing.T) {
	refs := extractRepoRefs(
		"see https://github.com/mapache/bridge.git and mapache/app docs and/or n/a",
		[]string{"Mapache/Infra"},
	)

	want := []string{"mapache/app", "mapache/bridge", "mapache/infra"}
	if !reflect.DeepEqual(refs, want) {
		t.Errorf("extractRepoRefs = %v, want %v", refs, want)
	}
}

func TestExtractRepoRefsDedupes(t *testing.T) {
	refs := extractRepoRefs("mapache/app mapache/app github.com/mapache/app", nil)
	want := []string{"mapache/app"}
	if !reflect.DeepEqual(refs, want) {
		t.Errorf("extractRepoRefs = %v, want %v", refs, want)
	}
}
