// Package ops exposes the worker's operational HTTP surface: a health
// endpoint probing critical dependencies and a status endpoint reporting
// poller loop counters. Internal only, no authentication, not a feature API.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"guildpost/internal/scheduler"
)

// probeTimeout bounds the total time spent on health probes per request.
const probeTimeout = 2 * time.Second

// HealthProbe checks one critical dependency (database, chat API).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function into a HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

// StatsSource yields loop counter snapshots for the status endpoint.
type StatsSource interface {
	Stats() scheduler.Stats
}

// Server is the ops HTTP server.
type Server struct {
	probes []HealthProbe
	loops  []StatsSource
	logger *slog.Logger
}

// NewServer creates an ops server over the given probes and loops.
func NewServer(probes []HealthProbe, loops []StatsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{probes: probes, loops: loops, logger: logger}
}

// Router builds the chi router for the ops surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// handleHealth runs all probes concurrently under a shared deadline and
// reports 200 only when every dependency is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if len(s.probes) > 0 {
		resp.Components = make(map[string]componentStatus, len(s.probes))

		type result struct {
			name string
			err  error
		}
		results := make(chan result, len(s.probes))
		var wg sync.WaitGroup
		for _, p := range s.probes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- result{name: p.Name(), err: p.Check(ctx)}
			}()
		}
		wg.Wait()
		close(results)

		for res := range results {
			if res.err != nil {
				resp.Status = "unhealthy"
				resp.Components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
			} else {
				resp.Components[res.name] = componentStatus{Status: "healthy"}
			}
		}
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statusResponse struct {
	Loops []scheduler.Stats `json:"loops"`
}

// handleStatus reports per-loop pass counters.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Loops: make([]scheduler.Stats, 0, len(s.loops))}
	for _, l := range s.loops {
		resp.Loops = append(resp.Loops, l.Stats())
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
