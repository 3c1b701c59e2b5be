// Package prioritize scores classified tickets with an additive rule table.
//
// Rules live in an external TOML file as ordered (condition, delta) pairs.
// Conditions are named predicates over the classification result; deltas
// add onto the configured base score and the sum is clamped to the
// configured bounds. Scoring is a pure function: identical classification
// and rules always produce an identical score and a byte-identical
// rationale.
package prioritize

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// Rule is one ordered row of the priority rule table.
type Rule struct {
	Name  string `toml:"name"`
	When  string `toml:"when"`
	Delta int    `toml:"delta"`
}

type rulesFile struct {
	Rule []Rule `toml:"rule"`
}

// condition is a named predicate over a classification result. threshold
// is the configured confidence cutoff, shared with the router.
type condition func(cls *ticket.ClassificationResult, threshold float64) bool

var conditions = map[string]condition{
	"bridge-surface": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.HasSurface(ticket.SurfaceBridge)
	},
	"app-surface": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.HasSurface(ticket.SurfaceApp)
	},
	"solutions-surface": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.HasSurface(ticket.SurfaceSolutions)
	},
	"solutions-only": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.OnlySurface(ticket.SurfaceSolutions)
	},
	"opportunity-source": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.Source == ticket.SourceOpportunity
	},
	"migration-source": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.Source == ticket.SourceMigration
	},
	"validated-opportunity": func(cls *ticket.ClassificationResult, threshold float64) bool {
		return cls.Source == ticket.SourceOpportunity &&
			cls.SourceConfidence >= threshold &&
			cls.ValidatedSignal
	},
	"validated-signal": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.ValidatedSignal
	},
	"no-validated-signal": func(cls *ticket.ClassificationResult, _ float64) bool {
		return !cls.ValidatedSignal
	},
	"maintenance": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.MaintenanceFlavored
	},
	"solutions-only-maintenance": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.OnlySurface(ticket.SurfaceSolutions) && cls.MaintenanceFlavored
	},
	"multi-repo": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.MultiRepo
	},
	"large-size": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.Size == ticket.SizeLarge
	},
	"small-size": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.Size == ticket.SizeSmall
	},
	"ambiguous": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.Ambiguous
	},
	"malformed": func(cls *ticket.ClassificationResult, _ float64) bool {
		return cls.Malformed
	},
	"low-confidence": func(cls *ticket.ClassificationResult, threshold float64) bool {
		return cls.SourceConfidence < threshold ||
			cls.SurfaceConfidence < threshold ||
			cls.SizeConfidence < threshold
	},
}

// Conditions returns the sorted names of every known rule condition, for
// error messages and operator docs.
func Conditions() []string {
	names := make([]string, 0, len(conditions))
	for name := range conditions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadRules reads the ordered rule table from a TOML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path) // #nosec G304 - rules path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("failed to read priority rules: %w", err)
	}
	var rf rulesFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse priority rules: %w", err)
	}
	return rf.Rule, nil
}

// Prioritizer applies the rule table to classification results.
type Prioritizer struct {
	cfg       config.PriorityConfig
	rules     []Rule
	threshold float64
}

// New builds a Prioritizer and verifies every rule references a known
// condition. An unknown condition is a configuration error and fatal at
// startup.
func New(cfg config.PriorityConfig, rules []Rule, confidenceThreshold float64) (*Prioritizer, error) {
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("priority rule %d: name is required", i)
		}
		if _, ok := conditions[r.When]; !ok {
			return nil, fmt.Errorf("priority rule %q: unknown condition %q (valid: %s)",
				r.Name, r.When, strings.Join(Conditions(), ", "))
		}
	}
	return &Prioritizer{cfg: cfg, rules: rules, threshold: confidenceThreshold}, nil
}

// Score evaluates the rule table in file order. Every matching rule's delta
// is added to the base, the sum is clamped, and the rationale names each
// applied rule with its signed delta.
func (p *Prioritizer) Score(cls *ticket.ClassificationResult) ticket.PriorityScore {
	score := p.cfg.Base

	var rationale strings.Builder
	fmt.Fprintf(&rationale, "base %d", p.cfg.Base)

	for _, r := range p.rules {
		if !conditions[r.When](cls, p.threshold) {
			continue
		}
		score += r.Delta
		fmt.Fprintf(&rationale, "; %s(%+d)", r.Name, r.Delta)
	}

	if score > p.cfg.Max {
		score = p.cfg.Max
		fmt.Fprintf(&rationale, "; clamped to max %d", p.cfg.Max)
	}
	if score < p.cfg.Min {
		score = p.cfg.Min
		fmt.Fprintf(&rationale, "; clamped to min %d", p.cfg.Min)
	}

	return ticket.PriorityScore{Score: score, Rationale: rationale.String()}
}
