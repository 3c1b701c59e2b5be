// Package health tracks collaborator wellbeing: quota headroom from
// rate-limit headers and consecutive failures, rolled up into a single
// status served at /healthz.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// Status grades a collaborator or the whole engine.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// rank orders statuses from best to worst for the rollup.
func (s Status) rank() int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 0
	}
}

const (
	degradedAfterErrors  = 3
	unhealthyAfterErrors = 8
	quotaWarnFraction    = 0.1
)

// Collaborator is the reported view of one tracked dependency.
type Collaborator struct {
	Name              string    `json:"name"`
	Status            Status    `json:"status"`
	ConsecutiveErrors int       `json:"consecutive_errors,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	QuotaRemaining    int       `json:"quota_remaining,omitempty"`
	QuotaLimit        int       `json:"quota_limit,omitempty"`
	LastActivity      time.Time `json:"last_activity"`
}

// Report is the rolled-up health view.
type Report struct {
	Status        Status         `json:"status"`
	Collaborators []Collaborator `json:"collaborators"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

type state struct {
	consecutiveErrors int
	lastError         string
	quotaRemaining    int
	quotaLimit        int
	hasQuota          bool
	lastStatus        Status
	lastActivity      time.Time
}

func (st *state) status() Status {
	switch {
	case st.consecutiveErrors >= unhealthyAfterErrors:
		return StatusUnhealthy
	case st.hasQuota && st.quotaLimit > 0 && st.quotaRemaining == 0:
		return StatusUnhealthy
	case st.consecutiveErrors >= degradedAfterErrors:
		return StatusDegraded
	case st.hasQuota && st.quotaLimit > 0 &&
		float64(st.quotaRemaining)/float64(st.quotaLimit) < quotaWarnFraction:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Monitor aggregates collaborator signals. All methods are safe for
// concurrent use.
type Monitor struct {
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
	names  []string // registration order, kept stable for reports
	states map[string]*state
}

// NewMonitor creates a monitor that logs status transitions to logger.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger,
		now:    time.Now,
		states: make(map[string]*state),
	}
}

// Register adds a collaborator so it appears in reports before any
// activity. Registering twice is a no-op.
func (m *Monitor) Register(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(name)
}

// RecordSuccess clears the failure streak for the collaborator.
func (m *Monitor) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensure(name)
	st.consecutiveErrors = 0
	st.lastError = ""
	st.lastActivity = m.now()
	m.noteTransition(name, st)
}

// RecordError extends the failure streak for the collaborator.
func (m *Monitor) RecordError(name string, err error) {
	if err == nil {
		m.RecordSuccess(name)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensure(name)
	st.consecutiveErrors++
	st.lastError = err.Error()
	st.lastActivity = m.now()
	m.noteTransition(name, st)
}

// RecordQuota stores the latest rate-limit headroom for the collaborator.
func (m *Monitor) RecordQuota(name string, remaining, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensure(name)
	st.quotaRemaining = remaining
	st.quotaLimit = limit
	st.hasQuota = true
	st.lastActivity = m.now()
	m.noteTransition(name, st)
}

// QuotaFunc returns a callback bound to one collaborator, shaped for the
// tracker and code-host quota hooks.
func (m *Monitor) QuotaFunc(name string) func(remaining, limit int) {
	return func(remaining, limit int) {
		m.RecordQuota(name, remaining, limit)
	}
}

// Report renders the current view. The overall status is the worst
// collaborator status; an empty monitor is healthy.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{
		Status:        StatusHealthy,
		Collaborators: make([]Collaborator, 0, len(m.names)),
		GeneratedAt:   m.now(),
	}
	for _, name := range m.names {
		st := m.states[name]
		status := st.status()
		if status.rank() > report.Status.rank() {
			report.Status = status
		}
		report.Collaborators = append(report.Collaborators, Collaborator{
			Name:              name,
			Status:            status,
			ConsecutiveErrors: st.consecutiveErrors,
			LastError:         st.lastError,
			QuotaRemaining:    st.quotaRemaining,
			QuotaLimit:        st.quotaLimit,
			LastActivity:      st.lastActivity,
		})
	}
	return report
}

// ensure must be called with the mutex held.
func (m *Monitor) ensure(name string) *state {
	if st, ok := m.states[name]; ok {
		return st
	}
	st := &state{lastStatus: StatusHealthy}
	m.states[name] = st
	m.names = append(m.names, name)
	return st
}

// noteTransition logs when a collaborator changes status. Must be called
// with the mutex held.
func (m *Monitor) noteTransition(name string, st *state) {
	status := st.status()
	if status == st.lastStatus {
		return
	}
	attrs := []any{
		"collaborator", name,
		"from", string(st.lastStatus),
		"to", string(status),
	}
	if st.lastError != "" {
		attrs = append(attrs, "last_error", st.lastError)
	}
	if st.hasQuota {
		attrs = append(attrs, "quota_remaining", st.quotaRemaining, "quota_limit", st.quotaLimit)
	}
	if status.rank() > st.lastStatus.rank() {
		m.logger.Warn("collaborator health declined", attrs...)
	} else {
		m.logger.Info("collaborator health recovered", attrs...)
	}
	st.lastStatus = status
}
