package health

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestMonitorStartsHealthy(t *testing.T) {
	m := NewMonitor(nil)
	m.Register("tracker")
	m.Register("codehost")

	report := m.Report()
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", report.Status)
	}
	if len(report.Collaborators) != 2 {
		t.Fatalf("collaborators = %d, want 2", len(report.Collaborators))
	}
	if report.Collaborators[0].Name != "tracker" {
		t.Errorf("collaborators[0] = %q, want registration order kept", report.Collaborators[0].Name)
	}
}

func TestErrorStreakDegradesThenFails(t *testing.T) {
	m := NewMonitor(nil)
	boom := errors.New("tracker timeout")

	m.RecordError("tracker", boom)
	m.RecordError("tracker", boom)
	if got := m.Report().Status; got != StatusHealthy {
		t.Errorf("status after 2 errors = %s, want healthy", got)
	}

	m.RecordError("tracker", boom)
	if got := m.Report().Status; got != StatusDegraded {
		t.Errorf("status after 3 errors = %s, want degraded", got)
	}

	for i := 0; i < 5; i++ {
		m.RecordError("tracker", boom)
	}
	report := m.Report()
	if report.Status != StatusUnhealthy {
		t.Errorf("status after 8 errors = %s, want unhealthy", report.Status)
	}
	if report.Collaborators[0].LastError != "tracker timeout" {
		t.Errorf("last error = %q, want tracker timeout", report.Collaborators[0].LastError)
	}

	// One success clears the streak.
	m.RecordSuccess("tracker")
	if got := m.Report().Status; got != StatusHealthy {
		t.Errorf("status after recovery = %s, want healthy", got)
	}
}

func TestQuotaThresholds(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		limit     int
		want      Status
	}{
		{name: "plenty left", remaining: 1000, limit: 1500, want: StatusHealthy},
		{name: "under ten percent", remaining: 50, limit: 1500, want: StatusDegraded},
		{name: "exhausted", remaining: 0, limit: 1500, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(nil)
			m.RecordQuota("tracker", tt.remaining, tt.limit)
			if got := m.Report().Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRollupTakesWorstStatus(t *testing.T) {
	m := NewMonitor(nil)
	m.RecordSuccess("tracker")
	m.RecordQuota("codehost", 10, 1500)

	report := m.Report()
	if report.Status != StatusDegraded {
		t.Errorf("rollup = %s, want degraded", report.Status)
	}

	m.RecordQuota("codehost", 0, 1500)
	if got := m.Report().Status; got != StatusUnhealthy {
		t.Errorf("rollup = %s, want unhealthy", got)
	}
}

func TestTransitionsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	m := NewMonitor(slog.New(slog.NewTextHandler(&buf, nil)))

	boom := errors.New("boom")
	for i := 0; i < degradedAfterErrors; i++ {
		m.RecordError("tracker", boom)
	}
	if out := buf.String(); !strings.Contains(out, "health declined") || !strings.Contains(out, "to=degraded") {
		t.Errorf("log output missing decline transition: %q", out)
	}

	buf.Reset()
	m.RecordSuccess("tracker")
	if out := buf.String(); !strings.Contains(out, "health recovered") {
		t.Errorf("log output missing recovery transition: %q", out)
	}

	// Steady state stays quiet.
	buf.Reset()
	m.RecordSuccess("tracker")
	if buf.Len() != 0 {
		t.Errorf("steady-state success logged: %q", buf.String())
	}
}

func TestQuotaFuncBindsCollaborator(t *testing.T) {
	m := NewMonitor(nil)
	report := m.QuotaFunc("tracker")

	report(1180, 1500)

	got := m.Report()
	if len(got.Collaborators) != 1 || got.Collaborators[0].Name != "tracker" {
		t.Fatalf("collaborators = %+v, want one tracker entry", got.Collaborators)
	}
	if got.Collaborators[0].QuotaRemaining != 1180 || got.Collaborators[0].QuotaLimit != 1500 {
		t.Errorf("quota = %d/%d, want 1180/1500", got.Collaborators[0].QuotaRemaining, got.Collaborators[0].QuotaLimit)
	}
}
