// Package config loads and validates the engine configuration.
//
// All classification vocabulary, priority weights, and routing thresholds
// come from the config file. Nothing in the pipeline packages carries
// built-in keyword lists or numeric cutoffs, so tuning never requires a
// rebuild. Validation is strict: a missing or inconsistent key is a fatal
// startup error, never a silent default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mapache-ai/shaper/internal/ticket"
)

// Config is the full engine configuration, loaded from one YAML file plus
// environment overrides (SHAPER_ prefix, dots replaced by underscores).
type Config struct {
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	CodeHost  CodeHostConfig  `mapstructure:"codehost"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Relevance RelevanceConfig `mapstructure:"relevance"`
	Leanify   LeanifyConfig   `mapstructure:"leanify"`
	Priority  PriorityConfig  `mapstructure:"priority"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Learn     LearnConfig     `mapstructure:"learn"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Dir is the directory containing the config file. Relative paths in
	// the config (rules file, roster, audit log) resolve against it.
	Dir string `mapstructure:"-"`
}

// TrackerConfig selects and configures the ticket tracker collaborator.
type TrackerConfig struct {
	Kind      string            `mapstructure:"kind"` // "linear" or "memory"
	Team      string            `mapstructure:"team"`
	Endpoint  string            `mapstructure:"endpoint"`
	APIKeyEnv string            `mapstructure:"api_key_env"`
	APIKey    string            `mapstructure:"-"` // resolved from APIKeyEnv at load
	States    map[string]string `mapstructure:"states"`   // lifecycle status -> tracker workflow state name
	Projects  []string          `mapstructure:"projects"` // optional project filter for sweeps
}

// StateName maps a lifecycle status to the tracker's workflow state name.
// Falls back to the status string itself when no mapping is configured.
func (t TrackerConfig) StateName(s ticket.Status) string {
	if name, ok := t.States[string(s)]; ok {
		return name
	}
	return string(s)
}

// CodeHostConfig configures the code-hosting collaborator used for agent
// session dispatch and back-references.
type CodeHostConfig struct {
	Kind     string `mapstructure:"kind"` // "github" or "memory"
	APIBase  string `mapstructure:"api_base"`
	TokenEnv string `mapstructure:"token_env"`
	Token    string `mapstructure:"-"` // resolved from TokenEnv at load
	Org      string `mapstructure:"org"`
}

// ClassifyConfig is the classifier's vocabulary and thresholds.
type ClassifyConfig struct {
	ConfidenceThreshold     float64             `mapstructure:"confidence_threshold"`
	DefaultSourceConfidence float64             `mapstructure:"default_source_confidence"`
	DefaultSurface          string              `mapstructure:"default_surface"`
	SurfaceKeywords         map[string][]string `mapstructure:"surface_keywords"`
	RepoPatterns            map[string][]string `mapstructure:"repo_patterns"`
	LargeKeywords           []string            `mapstructure:"large_keywords"`
	SmallKeywords           []string            `mapstructure:"small_keywords"`
	MultiRepoThreshold      int                 `mapstructure:"multi_repo_threshold"`
	SmallMaxSignals         int                 `mapstructure:"small_max_signals"`
	MediumMaxSignals        int                 `mapstructure:"medium_max_signals"`
	ValidatedKeywords       []string            `mapstructure:"validated_keywords"`
	MaintenanceKeywords     []string            `mapstructure:"maintenance_keywords"`
	AmbiguousKeywords       []string            `mapstructure:"ambiguous_keywords"`
}

// RelevanceConfig is the admission vocabulary: a ticket with none of these
// signals anywhere in its content is discarded.
type RelevanceConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// LeanifyConfig bounds the canonical rewrite.
type LeanifyConfig struct {
	CodeBlockMaxLines int `mapstructure:"code_block_max_lines"`
	ProblemMaxChars   int `mapstructure:"problem_max_chars"`
	MaxLinks          int `mapstructure:"max_links"`
}

// PriorityConfig holds scoring bounds and the rules file location. The
// (condition, delta) rules themselves live in a separate TOML file so
// operators can reorder and retune them without touching the main config.
type PriorityConfig struct {
	Base      int            `mapstructure:"base"`
	Min       int            `mapstructure:"min"`
	Max       int            `mapstructure:"max"`
	RulesFile string         `mapstructure:"rules_file"`
	Bands     map[string]int `mapstructure:"bands"` // urgent/high/normal score floors
}

// TrackerPriority maps a clamped score onto the tracker's 1..4 priority
// scale using the configured band floors.
func (p PriorityConfig) TrackerPriority(score int) int {
	if floor, ok := p.Bands["urgent"]; ok && score >= floor {
		return 1
	}
	if floor, ok := p.Bands["high"]; ok && score >= floor {
		return 2
	}
	if floor, ok := p.Bands["normal"]; ok && score >= floor {
		return 3
	}
	return 4
}

// AuditConfig locates the append-only audit log.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// SnapshotConfig locates the per-ticket state snapshot database.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// LearnConfig tunes the self-learning recorder.
type LearnConfig struct {
	WindowDays       int     `mapstructure:"window_days"`
	FailureThreshold int     `mapstructure:"failure_threshold"`
	FailureRate      float64 `mapstructure:"failure_rate"`
	Label            string  `mapstructure:"label"` // label applied to filed improvement tickets
}

// AgentsConfig locates the coding-agent roster.
type AgentsConfig struct {
	RosterFile string `mapstructure:"roster_file"`
}

// SweepConfig controls the scheduled triage sweep in serve mode.
type SweepConfig struct {
	Schedule    string `mapstructure:"schedule"` // cron expression, empty disables
	Concurrency int    `mapstructure:"concurrency"`
}

// WebhookConfig configures the inbound webhook listener.
type WebhookConfig struct {
	Addr      string `mapstructure:"addr"`
	SecretEnv string `mapstructure:"secret_env"`
	Secret    string `mapstructure:"-"` // resolved from SecretEnv at load
}

// TelemetryConfig controls OpenTelemetry export. Disabled by default.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Stdout       bool   `mapstructure:"stdout"`
}

// Load reads, overlays, resolves, and validates the configuration at path.
// Any validation failure is returned as a single error listing every issue
// found; callers treat it as fatal.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SHAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Infrastructure defaults only. Vocabulary and thresholds have no
	// defaults: they must be stated in the file.
	v.SetDefault("tracker.kind", "linear")
	v.SetDefault("tracker.endpoint", "")
	v.SetDefault("codehost.kind", "github")
	v.SetDefault("audit.path", ".shaper/audit.jsonl")
	v.SetDefault("snapshot.path", ".shaper/state.db")
	v.SetDefault("webhook.addr", ":8787")
	v.SetDefault("sweep.concurrency", 4)
	v.SetDefault("learn.label", "shaper:improvement")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Dir = filepath.Dir(path)
	if cfg.Tracker.APIKeyEnv != "" {
		cfg.Tracker.APIKey = os.Getenv(cfg.Tracker.APIKeyEnv)
	}
	if cfg.CodeHost.TokenEnv != "" {
		cfg.CodeHost.Token = os.Getenv(cfg.CodeHost.TokenEnv)
	}
	if cfg.Webhook.SecretEnv != "" {
		cfg.Webhook.Secret = os.Getenv(cfg.Webhook.SecretEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve turns a config-relative path into an absolute one.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Validate checks every required key and cross-field constraint. All
// problems are reported at once so an operator fixes the file in one pass.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	switch c.Tracker.Kind {
	case "linear":
		if c.Tracker.Team == "" {
			add("tracker.team: required")
		}
		if c.Tracker.APIKeyEnv == "" {
			add("tracker.api_key_env: required for tracker.kind=linear")
		} else if c.Tracker.APIKey == "" {
			add("tracker.api_key_env: environment variable %s is empty", c.Tracker.APIKeyEnv)
		}
	case "memory":
		// test double, no credentials
	default:
		add("tracker.kind: %q is invalid (valid values: linear, memory)", c.Tracker.Kind)
	}

	switch c.CodeHost.Kind {
	case "github", "memory":
	default:
		add("codehost.kind: %q is invalid (valid values: github, memory)", c.CodeHost.Kind)
	}

	cl := c.Classify
	if cl.ConfidenceThreshold <= 0 || cl.ConfidenceThreshold > 1 {
		add("classify.confidence_threshold: must be in (0, 1], got %v", cl.ConfidenceThreshold)
	}
	if cl.DefaultSourceConfidence <= 0 || cl.DefaultSourceConfidence > 1 {
		add("classify.default_source_confidence: must be in (0, 1], got %v", cl.DefaultSourceConfidence)
	}
	if len(cl.SurfaceKeywords) == 0 {
		add("classify.surface_keywords: required, no surface vocabulary configured")
	}
	for name := range cl.SurfaceKeywords {
		if !ticket.Surface(name).IsValid() {
			add("classify.surface_keywords: unknown surface %q", name)
		}
	}
	for name := range cl.RepoPatterns {
		if !ticket.Surface(name).IsValid() {
			add("classify.repo_patterns: unknown surface %q", name)
		}
	}
	if cl.DefaultSurface != "" && !ticket.Surface(cl.DefaultSurface).IsValid() {
		add("classify.default_surface: unknown surface %q", cl.DefaultSurface)
	}
	if len(cl.LargeKeywords) == 0 {
		add("classify.large_keywords: required")
	}
	if len(cl.SmallKeywords) == 0 {
		add("classify.small_keywords: required")
	}
	if cl.MultiRepoThreshold < 2 {
		add("classify.multi_repo_threshold: must be at least 2, got %d", cl.MultiRepoThreshold)
	}
	if cl.SmallMaxSignals < 1 {
		add("classify.small_max_signals: must be at least 1, got %d", cl.SmallMaxSignals)
	}
	if cl.MediumMaxSignals <= cl.SmallMaxSignals {
		add("classify.medium_max_signals: must be greater than small_max_signals (%d), got %d",
			cl.SmallMaxSignals, cl.MediumMaxSignals)
	}
	if len(cl.ValidatedKeywords) == 0 {
		add("classify.validated_keywords: required")
	}
	if len(cl.MaintenanceKeywords) == 0 {
		add("classify.maintenance_keywords: required")
	}
	if len(cl.AmbiguousKeywords) == 0 {
		add("classify.ambiguous_keywords: required")
	}

	if len(c.Relevance.Keywords) == 0 {
		add("relevance.keywords: required, no relevance vocabulary configured")
	}

	if c.Leanify.CodeBlockMaxLines < 1 {
		add("leanify.code_block_max_lines: must be at least 1, got %d", c.Leanify.CodeBlockMaxLines)
	}
	if c.Leanify.ProblemMaxChars < 1 {
		add("leanify.problem_max_chars: must be at least 1, got %d", c.Leanify.ProblemMaxChars)
	}
	if c.Leanify.MaxLinks < 1 {
		add("leanify.max_links: must be at least 1, got %d", c.Leanify.MaxLinks)
	}

	p := c.Priority
	if p.Min >= p.Max {
		add("priority: min (%d) must be less than max (%d)", p.Min, p.Max)
	}
	if p.Base < p.Min || p.Base > p.Max {
		add("priority.base: %d outside [%d, %d]", p.Base, p.Min, p.Max)
	}
	if p.RulesFile == "" {
		add("priority.rules_file: required")
	}
	for band := range p.Bands {
		switch band {
		case "urgent", "high", "normal":
		default:
			add("priority.bands: unknown band %q (valid: urgent, high, normal)", band)
		}
	}

	if c.Audit.Path == "" {
		add("audit.path: required")
	}
	if c.Snapshot.Path == "" {
		add("snapshot.path: required")
	}

	if c.Learn.WindowDays < 1 {
		add("learn.window_days: must be at least 1, got %d", c.Learn.WindowDays)
	}
	if c.Learn.FailureThreshold < 1 {
		add("learn.failure_threshold: must be at least 1, got %d", c.Learn.FailureThreshold)
	}
	if c.Learn.FailureRate <= 0 || c.Learn.FailureRate > 1 {
		add("learn.failure_rate: must be in (0, 1], got %v", c.Learn.FailureRate)
	}

	if c.Sweep.Concurrency < 1 {
		add("sweep.concurrency: must be at least 1, got %d", c.Sweep.Concurrency)
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(issues, "\n  - "))
	}
	return nil
}
