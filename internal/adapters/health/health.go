// Package health also carries C6's HTTP surface: liveness, readiness,
// startup, the statistics endpoint, and the Prometheus scrape handler.
// Grounded on the teacher's health_handler.go (three simple probe handlers,
// a JSON Check/HealthResponse shape) routed through go-chi/chi the way the
// pack's API services mount their handlers, with go-chi/render replacing
// hand-rolled json.NewEncoder calls.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outboxrelay/relay/internal/adapters/middleware"
	"github.com/outboxrelay/relay/internal/core/ports"
)

// Check is one named probe's result, in the teacher's Check shape.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Probe is what the supervisor exposes for the health surface to read;
// implemented by *supervisor.Supervisor, kept as an interface here so this
// package never imports supervisor (it would be a cycle: supervisor wants
// metrics from health, health wants state from supervisor).
type Probe interface {
	State() string
	StartedAt() time.Time
}

// StatsProvider exposes a JSON-able snapshot for the /stats endpoint.
type StatsProvider interface {
	StatsSnapshot() interface{}
}

// Server is C6's HTTP surface.
type Server struct {
	probe          Probe
	stats          StatsProvider
	store          ports.OutboxStore
	publisher      ports.Publisher
	breaker        ports.CircuitBreaker
	startupTimeout time.Duration

	httpServer *http.Server
}

// NewServer builds the chi router and binds it to addr. Call Start to begin
// serving.
func NewServer(addr string, probe Probe, stats StatsProvider, store ports.OutboxStore,
	publisher ports.Publisher, breaker ports.CircuitBreaker, startupTimeout time.Duration,
	corsAllowedOrigins []string) *Server {
	s := &Server{
		probe: probe, stats: stats, store: store, publisher: publisher,
		breaker: breaker, startupTimeout: startupTimeout,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(corsAllowedOrigins))
	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Get("/startupz", s.handleStartup)
	r.Get("/stats", s.handleStats)
	r.Post("/admin/reset-cb", s.handleResetBreaker)
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start runs the HTTP server; it blocks until the server stops.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying router so tests can drive it directly with
// httptest instead of binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleLiveness reports healthy unless the supervisor has transitioned to
// error. It never touches external systems, per spec.md §4.6.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.probe.State() == "error" {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, Check{Status: "DOWN", Message: "supervisor in error state"})
		return
	}
	render.JSON(w, r, Check{Status: "UP"})
}

// handleReadiness reports ready iff the supervisor is running, both C1 and
// C2 ping succeed, and the breaker is not open. Each ping result also
// refreshes the corresponding connection-status gauge, since this poll is
// the only place both dependencies are checked on a regular cadence.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.probe.State() != "running" {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, Check{Status: "DOWN", Message: "supervisor not running"})
		return
	}

	dbErr := s.store.Ping(r.Context())
	setConnectionStatus(DBConnectionStatus, dbErr)
	if dbErr != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, Check{Status: "DOWN", Message: "outbox store unreachable"})
		return
	}

	brokerErr := s.publisher.Ping(r.Context())
	setConnectionStatus(BrokerConnectionStatus, brokerErr)
	if brokerErr != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, Check{Status: "DOWN", Message: "broker unreachable"})
		return
	}

	if s.breaker.State() == ports.BreakerOpen {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, Check{Status: "DOWN", Message: "circuit breaker open"})
		return
	}
	render.JSON(w, r, Check{Status: "UP"})
}

func setConnectionStatus(gauge prometheus.Gauge, err error) {
	if err != nil {
		gauge.Set(0)
		return
	}
	gauge.Set(1)
}

// handleStartup reports started once the supervisor has left "starting";
// beyond startup_timeout it reports "timeout" instead of "starting".
func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	state := s.probe.State()
	if state != "starting" {
		render.JSON(w, r, Check{Status: "UP"})
		return
	}
	if time.Since(s.probe.StartedAt()) > s.startupTimeout {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, Check{Status: "timeout", Message: "startup exceeded startup_timeout"})
		return
	}
	render.Status(r, http.StatusServiceUnavailable)
	render.JSON(w, r, Check{Status: "starting"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.stats.StatsSnapshot())
}

// handleResetBreaker backs the reset-cb CLI subcommand: the breaker is
// in-process state local to the running "start" instance, so resetting it
// from a separate CLI invocation has to go over this admin endpoint rather
// than touching shared memory directly.
func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	s.breaker.Reset()
	render.JSON(w, r, Check{Status: "UP", Message: "circuit breaker reset"})
}
