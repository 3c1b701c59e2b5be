package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mapache-ai/shaper/internal/health"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// Triager is the engine surface the receiver drives.
type Triager interface {
	TriageTicket(ctx context.Context, key string) (*ticket.TriageResult, error)
	Triage(ctx context.Context, scope string) ([]ticket.TriageResult, error)
	Health() health.Report
}

// Options configures the receiver.
type Options struct {
	Engine Triager
	Secret string
	Logger *slog.Logger
}

// Server is the inbound webhook listener: tracker events on
// POST /webhooks/tracker, collaborator health on GET /healthz.
type Server struct {
	engine Triager
	secret []byte
	logger *slog.Logger
	router *chi.Mux

	httpServer *http.Server

	// Background triage jobs run on base so they survive the delivery
	// request's context; Shutdown waits for them.
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewServer builds the receiver around an engine.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	s := &Server{
		engine: opts.Engine,
		secret: []byte(opts.Secret),
		logger: logger,
		base:   base,
		stop:   stop,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/webhooks/tracker", s.handleTrackerEvent)
	r.Get("/healthz", s.handleHealth)
	s.router = r
	return s
}

// Handler returns the HTTP handler for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting deliveries and waits for background triage
// jobs to finish. When ctx expires first, the stragglers are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.stop()
		return ctx.Err()
	}
	s.stop()
	return err
}

// event is the tracker delivery payload. Only the fields the receiver
// acts on are decoded; everything else in the delivery is ignored.
type event struct {
	Action string `json:"action"`
	Ticket *struct {
		Key string `json:"key"`
	} `json:"ticket,omitempty"`
	Project *struct {
		Key string `json:"key"`
	} `json:"project,omitempty"`
}

type response struct {
	Accepted bool   `json:"accepted"`
	Action   string `json:"action,omitempty"`
	Ticket   string `json:"ticket,omitempty"`
	Project  string `json:"project,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleTrackerEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "failed to read request body"})
		return
	}
	defer func() { _ = r.Body.Close() }()

	if !verify(s.secret, body, r.Header.Get(SignatureHeader)) {
		s.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, response{Error: "invalid signature"})
		return
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "invalid JSON payload"})
		return
	}

	switch ev.Action {
	case "ticket.created", "ticket.updated":
		if ev.Ticket == nil || ev.Ticket.Key == "" {
			writeJSON(w, http.StatusBadRequest, response{Action: ev.Action, Error: "event names no ticket"})
			return
		}
		key := ev.Ticket.Key
		s.spawn(func(ctx context.Context) {
			res, err := s.engine.TriageTicket(ctx, key)
			if err != nil {
				s.logger.Warn("webhook triage failed", "ticket", key, "error", err)
				return
			}
			s.logger.Info("webhook triage", "ticket", key, "status", res.Status, "skipped", res.Skipped)
		})
		writeJSON(w, http.StatusAccepted, response{Accepted: true, Action: ev.Action, Ticket: key})

	case "project.updated":
		scope := ""
		if ev.Project != nil {
			scope = ev.Project.Key
		}
		s.spawn(func(ctx context.Context) {
			results, err := s.engine.Triage(ctx, scope)
			if err != nil {
				s.logger.Warn("webhook sweep failed", "project", scope, "error", err)
				return
			}
			s.logger.Info("webhook sweep", "project", scope, "tickets", len(results))
		})
		writeJSON(w, http.StatusAccepted, response{Accepted: true, Action: ev.Action, Project: scope})

	default:
		// Unknown actions are acknowledged so the tracker stops retrying
		// deliveries this receiver will never act on.
		writeJSON(w, http.StatusAccepted, response{Accepted: false, Action: ev.Action})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Health()
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) spawn(job func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job(s.base)
	}()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
