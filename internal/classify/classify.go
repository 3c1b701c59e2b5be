// Package classify implements the three-axis ticket classifier: source,
// product surfaces, and size. Classification is a pure function of ticket
// content and the configured vocabulary; the same ticket and config always
// produce the same result.
//
// Size resolution runs through an ordered rule table rather than nested
// conditionals: the first rule whose predicate matches the gathered
// evidence decides. Surfaces accumulate instead, since a ticket can touch
// several at once.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// Classifier scores tickets against the configured vocabulary.
type Classifier struct {
	cfg config.ClassifyConfig
}

// New returns a Classifier bound to the given vocabulary and thresholds.
func New(cfg config.ClassifyConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Confidence levels produced by the scoring mechanics. The decision cutoff
// itself comes from config; these are the scores the evidence can earn.
const (
	confExplicit  = 0.95 // an explicit tracker label decides the axis
	confKeyword   = 0.85 // a configured keyword decides the axis
	confStructure = 0.80 // repo spread or surface spread decides the axis
	confDefaulted = 0.30 // nothing matched, conservative default applied
)

var (
	urlPattern = regexp.MustCompile(`https?://\S+`)
	hostedRef  = regexp.MustCompile(`(?:github|gitlab)\.com/([a-z0-9][a-z0-9_.-]*/[a-z0-9][a-z0-9_.-]+)`)
	hostedSpan = regexp.MustCompile(`(?:github|gitlab)\.com/\S+`)
	// Bare owner/name tokens. The second segment needs three characters so
	// prose like "and/or" does not read as a repository.
	bareRef = regexp.MustCompile(`\b[a-z0-9][a-z0-9_.-]*/[a-z0-9][a-z0-9_.-]{2,}\b`)
)

// evidence is everything the rules look at, gathered in one pass over the
// ticket.
type evidence struct {
	text   string // lowercased title + description
	labels []string

	explicitSource  ticket.Source
	hasSource       bool
	explicitSize    ticket.Size
	hasSize         bool
	explicitSurface bool

	surfaceHits map[ticket.Surface]int // distinct signals per surface
	repoRefs    []string

	largeHits int
	smallHits int

	validated   bool
	maintenance bool
	ambiguous   bool

	signals int // distinct signals matched across all groups
}

// Classify scores one ticket. Malformed content (no usable text) takes the
// zero-confidence path: smallest size, no surfaces, every axis flagged so
// downstream stages degrade to manual review instead of erroring.
func (c *Classifier) Classify(t *ticket.Ticket) ticket.ClassificationResult {
	text := strings.ToLower(strings.TrimSpace(t.Title + "\n" + t.Description))
	if strings.TrimSpace(t.Title) == "" && strings.TrimSpace(t.Description) == "" {
		return ticket.ClassificationResult{
			Source:    ticket.SourceUser,
			Size:      ticket.SizeSmall,
			Malformed: true,
		}
	}

	ev := c.gather(t, text)

	res := ticket.ClassificationResult{
		ValidatedSignal:     ev.validated,
		MaintenanceFlavored: ev.maintenance,
		MultiRepo:           len(ev.repoRefs) >= c.cfg.MultiRepoThreshold,
		Ambiguous:           ev.ambiguous,
		RepoRefs:            ev.repoRefs,
		SignalCount:         ev.signals,
	}

	res.Source, res.SourceConfidence = c.classifySource(ev)
	res.Surfaces, res.SurfaceConfidence = c.classifySurfaces(ev)
	res.Size, res.SizeConfidence = c.classifySize(ev, res.Surfaces)

	return res
}

// gather runs the single evidence-collection pass shared by all three axes.
func (c *Classifier) gather(t *ticket.Ticket, text string) *evidence {
	ev := &evidence{
		text:        text,
		labels:      t.Labels,
		surfaceHits: make(map[ticket.Surface]int),
	}

	for _, l := range t.Labels {
		if src, ok := ticket.ParseSourceLabel(l); ok && !ev.hasSource {
			ev.explicitSource = src
			ev.hasSource = true
			ev.signals++
		}
		if surf, ok := ticket.ParseSurfaceLabel(l); ok {
			ev.surfaceHits[surf]++
			ev.explicitSurface = true
			ev.signals++
		}
		if size, ok := ticket.ParseSizeLabel(l); ok && !ev.hasSize {
			ev.explicitSize = size
			ev.hasSize = true
			ev.signals++
		}
	}

	ev.repoRefs = extractRepoRefs(text, t.Repos)
	ev.signals += len(ev.repoRefs)

	for surfName, keywords := range c.cfg.SurfaceKeywords {
		surf := ticket.Surface(surfName)
		for _, kw := range keywords {
			if containsKeyword(text, kw) {
				ev.surfaceHits[surf]++
				ev.signals++
			}
		}
	}
	for surfName, patterns := range c.cfg.RepoPatterns {
		surf := ticket.Surface(surfName)
		for _, ref := range ev.repoRefs {
			for _, pat := range patterns {
				if strings.Contains(ref, strings.ToLower(pat)) {
					ev.surfaceHits[surf]++
				}
			}
		}
	}

	ev.largeHits = countKeywords(text, c.cfg.LargeKeywords)
	ev.smallHits = countKeywords(text, c.cfg.SmallKeywords)
	ev.signals += ev.largeHits + ev.smallHits

	if n := countKeywords(text, c.cfg.ValidatedKeywords); n > 0 {
		ev.validated = true
		ev.signals += n
	}
	if n := countKeywords(text, c.cfg.MaintenanceKeywords); n > 0 {
		ev.maintenance = true
		ev.signals += n
	}
	ev.ambiguous = countKeywords(text, c.cfg.AmbiguousKeywords) > 0

	return ev
}

func (c *Classifier) classifySource(ev *evidence) (ticket.Source, float64) {
	if ev.hasSource {
		return ev.explicitSource, 1.0
	}
	return ticket.SourceUser, c.cfg.DefaultSourceConfidence
}

// classifySurfaces accumulates every surface with at least one signal.
// Simultaneous solutions and app evidence implies the bridge sits between
// them, so bridge joins the set even without its own signals.
func (c *Classifier) classifySurfaces(ev *evidence) ([]ticket.Surface, float64) {
	hits := ev.surfaceHits
	if hits[ticket.SurfaceSolutions] > 0 && hits[ticket.SurfaceApp] > 0 && hits[ticket.SurfaceBridge] == 0 {
		hits[ticket.SurfaceBridge] = 1
	}

	var surfaces []ticket.Surface
	total := 0
	for _, s := range []ticket.Surface{ticket.SurfaceSolutions, ticket.SurfaceApp, ticket.SurfaceBridge} {
		if hits[s] > 0 {
			surfaces = append(surfaces, s)
			total += hits[s]
		}
	}

	if len(surfaces) == 0 {
		if c.cfg.DefaultSurface != "" {
			surfaces = []ticket.Surface{ticket.Surface(c.cfg.DefaultSurface)}
		}
		return surfaces, confDefaulted
	}
	if ev.explicitSurface {
		return surfaces, confExplicit
	}

	conf := 0.5 + 0.1*float64(total)
	if conf > confKeyword {
		conf = confKeyword
	}
	return surfaces, conf
}

// sizeRule is one row of the ordered size decision table.
type sizeRule struct {
	name string
	when func(ev *evidence, surfaces []ticket.Surface) bool
	size func(ev *evidence) ticket.Size
	conf float64
}

func (c *Classifier) sizeRules() []sizeRule {
	explicit := func(ev *evidence) ticket.Size { return ev.explicitSize }
	fixed := func(s ticket.Size) func(*evidence) ticket.Size {
		return func(*evidence) ticket.Size { return s }
	}

	return []sizeRule{
		{
			name: "explicit-label",
			when: func(ev *evidence, _ []ticket.Surface) bool { return ev.hasSize },
			size: explicit,
			conf: confExplicit,
		},
		{
			name: "large-keyword",
			when: func(ev *evidence, _ []ticket.Surface) bool { return ev.largeHits > 0 },
			size: fixed(ticket.SizeLarge),
			conf: confKeyword,
		},
		{
			name: "multi-repo",
			when: func(ev *evidence, _ []ticket.Surface) bool {
				return len(ev.repoRefs) >= c.cfg.MultiRepoThreshold
			},
			size: fixed(ticket.SizeLarge),
			conf: confStructure,
		},
		{
			name: "cross-surface",
			when: func(_ *evidence, surfaces []ticket.Surface) bool { return len(surfaces) > 1 },
			size: fixed(ticket.SizeLarge),
			conf: confStructure,
		},
		{
			name: "small-keyword",
			when: func(ev *evidence, _ []ticket.Surface) bool { return ev.smallHits > 0 },
			size: fixed(ticket.SizeSmall),
			conf: confStructure,
		},
		{
			name: "band-small",
			when: func(ev *evidence, _ []ticket.Surface) bool {
				return ev.signals > 0 && ev.signals <= c.cfg.SmallMaxSignals
			},
			size: fixed(ticket.SizeSmall),
			conf: 0.65,
		},
		{
			name: "band-medium",
			when: func(ev *evidence, _ []ticket.Surface) bool {
				return ev.signals > c.cfg.SmallMaxSignals && ev.signals <= c.cfg.MediumMaxSignals
			},
			size: fixed(ticket.SizeMedium),
			conf: 0.70,
		},
		{
			name: "band-large",
			when: func(ev *evidence, _ []ticket.Surface) bool {
				return ev.signals > c.cfg.MediumMaxSignals
			},
			size: fixed(ticket.SizeLarge),
			conf: 0.75,
		},
	}
}

// classifySize walks the rule table in order; first match decides. No
// match means no evidence at all, which degrades to the smallest size at
// sub-threshold confidence.
func (c *Classifier) classifySize(ev *evidence, surfaces []ticket.Surface) (ticket.Size, float64) {
	for _, rule := range c.sizeRules() {
		if rule.when(ev, surfaces) {
			return rule.size(ev), rule.conf
		}
	}
	return ticket.SizeSmall, confDefaulted
}

// extractRepoRefs pulls repository slugs from the ticket text and merges
// the tracker-linked repos. Hosted URLs are captured first, then stripped,
// so "github.com/acme/app" yields "acme/app" and not "github.com/acme".
func extractRepoRefs(text string, linked []string) []string {
	seen := make(map[string]bool)
	var refs []string
	addRef := func(ref string) {
		ref = strings.TrimSuffix(strings.Trim(ref, ".,;:()"), ".git")
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	for _, r := range linked {
		addRef(strings.ToLower(r))
	}
	for _, m := range hostedRef.FindAllStringSubmatch(text, -1) {
		addRef(m[1])
	}
	stripped := urlPattern.ReplaceAllString(text, " ")
	stripped = hostedSpan.ReplaceAllString(stripped, " ")
	for _, m := range bareRef.FindAllString(stripped, -1) {
		addRef(m)
	}

	sort.Strings(refs)
	return refs
}

func containsKeyword(text, keyword string) bool {
	return keyword != "" && strings.Contains(text, strings.ToLower(keyword))
}

func countKeywords(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if containsKeyword(text, kw) {
			n++
		}
	}
	return n
}
