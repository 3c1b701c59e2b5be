package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mapache-ai/shaper/internal/health"
	"github.com/mapache-ai/shaper/internal/ticket"
)

type fakeEngine struct {
	mu      sync.Mutex
	tickets []string
	sweeps  []string
	report  health.Report
	err     error
}

func (f *fakeEngine) TriageTicket(ctx context.Context, key string) (*ticket.TriageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, key)
	if f.err != nil {
		return nil, f.err
	}
	return &ticket.TriageResult{Key: key, Status: ticket.StatusReady}, nil
}

func (f *fakeEngine) Triage(ctx context.Context, scope string) ([]ticket.TriageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps = append(f.sweeps, scope)
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakeEngine) Health() health.Report { return f.report }

func (f *fakeEngine) triaged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tickets...)
}

func (f *fakeEngine) swept() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sweeps...)
}

const testSecret = "hunter2"

func setupServer(t *testing.T) (*Server, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{report: health.Report{Status: health.StatusHealthy}}
	s := NewServer(Options{Engine: eng, Secret: testSecret})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, eng
}

// deliver posts a signed payload and returns the recorded response.
func deliver(t *testing.T, s *Server, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tracker", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func signed(body string) string {
	return Sign([]byte(testSecret), []byte(body))
}

// drain waits for background triage jobs so assertions see their effects.
func drain(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
}

func TestTicketEventTriggersTriage(t *testing.T) {
	s, eng := setupServer(t)
	body := `{"action":"ticket.updated","ticket":{"key":"MAP-7"}}`

	rec := deliver(t, s, body, signed(body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body)
	}
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if !resp.Accepted || resp.Ticket != "MAP-7" {
		t.Errorf("response = %+v, want accepted MAP-7", resp)
	}

	drain(t, s)
	if got := eng.triaged(); len(got) != 1 || got[0] != "MAP-7" {
		t.Errorf("triaged tickets = %v, want [MAP-7]", got)
	}
}

func TestProjectEventTriggersScopedSweep(t *testing.T) {
	s, eng := setupServer(t)
	body := `{"action":"project.updated","project":{"key":"MAP"}}`

	rec := deliver(t, s, body, signed(body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	drain(t, s)
	if got := eng.swept(); len(got) != 1 || got[0] != "MAP" {
		t.Errorf("sweeps = %v, want [MAP]", got)
	}
	if got := eng.triaged(); len(got) != 0 {
		t.Errorf("triaged tickets = %v, want none", got)
	}
}

func TestRejectsBadSignature(t *testing.T) {
	s, eng := setupServer(t)
	body := `{"action":"ticket.updated","ticket":{"key":"MAP-7"}}`

	tests := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong secret", Sign([]byte("not-the-secret"), []byte(body))},
		{"signature of other body", signed(`{"action":"ticket.updated"}`)},
		{"garbage", "sha256=zzzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := deliver(t, s, body, tt.signature)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}

	drain(t, s)
	if got := eng.triaged(); len(got) != 0 {
		t.Errorf("rejected deliveries still triaged %v", got)
	}
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	eng := &fakeEngine{}
	s := NewServer(Options{Engine: eng, Secret: ""})
	body := `{"action":"ticket.updated","ticket":{"key":"MAP-7"}}`

	rec := deliver(t, s, body, Sign(nil, []byte(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d: unconfigured receivers must not accept writes", rec.Code, http.StatusUnauthorized)
	}
}

func TestRejectsInvalidJSON(t *testing.T) {
	s, _ := setupServer(t)
	body := `{"action": "ticket.updated",`

	rec := deliver(t, s, body, signed(body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTicketEventRequiresKey(t *testing.T) {
	s, eng := setupServer(t)
	body := `{"action":"ticket.created"}`

	rec := deliver(t, s, body, signed(body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	drain(t, s)
	if got := eng.triaged(); len(got) != 0 {
		t.Errorf("triaged tickets = %v, want none", got)
	}
}

func TestUnknownActionAcknowledged(t *testing.T) {
	s, eng := setupServer(t)
	body := `{"action":"comment.created","ticket":{"key":"MAP-7"}}`

	rec := deliver(t, s, body, signed(body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp.Accepted {
		t.Error("unknown action reported as accepted")
	}

	drain(t, s)
	if len(eng.triaged()) != 0 || len(eng.swept()) != 0 {
		t.Error("unknown action reached the engine")
	}
}

func TestTriageFailureStaysBackground(t *testing.T) {
	s, eng := setupServer(t)
	eng.err = errors.New("tracker down")
	body := `{"action":"ticket.updated","ticket":{"key":"MAP-7"}}`

	// The delivery is acknowledged regardless; the failure is the
	// engine's to log and the tracker must not retry forever.
	rec := deliver(t, s, body, signed(body))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	drain(t, s)
}

func TestHealthEndpoint(t *testing.T) {
	s, eng := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var report health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("health response not JSON: %v", err)
	}
	if report.Status != health.StatusHealthy {
		t.Errorf("report status = %q, want healthy", report.Status)
	}

	eng.report = health.Report{Status: health.StatusUnhealthy}
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"action":"ticket.updated"}`)

	sig := Sign(secret, body)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature %q missing scheme prefix", sig)
	}
	if !verify(secret, body, sig) {
		t.Error("verify rejected its own signature")
	}
	if verify(secret, []byte("tampered"), sig) {
		t.Error("verify accepted a tampered body")
	}
	if verify([]byte("other"), body, sig) {
		t.Error("verify accepted a foreign secret")
	}
}
