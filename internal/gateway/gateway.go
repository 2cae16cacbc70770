// Package gateway is the HTTP and WebSocket surface of the relay: the agent's
// long-poll endpoints, the direct and legacy tool intake, the settings and
// approval REST routes and the dashboard broadcast socket.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/toolrelay/internal/approval"
	"github.com/basket/toolrelay/internal/audit"
	"github.com/basket/toolrelay/internal/bus"
	"github.com/basket/toolrelay/internal/legacy"
	"github.com/basket/toolrelay/internal/otel"
	"github.com/basket/toolrelay/internal/relay"
	"github.com/basket/toolrelay/internal/shared"
	"github.com/basket/toolrelay/internal/tools"
)

// AgentMonitor reports remote agent connectivity.
type AgentMonitor interface {
	AgentOnline() bool
}

type Config struct {
	Relay  *relay.Relay
	Runner *tools.Runner
	Gate   *approval.Gate
	Legacy *legacy.Processor
	Agent  AgentMonitor
	Bus    *bus.Bus
	Logger *slog.Logger

	Metrics        *otel.Metrics
	Tracer         trace.Tracer
	MetricsHandler http.Handler

	// AuthToken protects /api/* and /ws. The agent endpoints stay open.
	AuthToken string
	// AllowOrigins controls accepted Origin headers for browser requests.
	// Empty means same-origin only.
	AllowOrigins    []string
	MaxRequestBytes int64

	// ConfigFingerprint is reported by the queue and stats routes.
	ConfigFingerprint string

	// Shutdown is invoked after POST /api/shutdown has been answered.
	Shutdown func()
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	auth   *AuthMiddleware

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	sub      *bus.Subscription
	stopOnce sync.Once
	stop     chan struct{}
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "gateway"),
		tracer:  cfg.Tracer,
		auth:    NewAuthMiddleware(cfg.AuthToken),
		clients: map[*client]struct{}{},
		stop:    make(chan struct{}),
	}
	if cfg.Bus != nil {
		s.sub = cfg.Bus.Subscribe("")
		go s.forwardBusEvents()
	}
	return s
}

// Close stops forwarding bus events to socket clients.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.sub != nil {
			s.cfg.Bus.Unsubscribe(s.sub)
		}
	})
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(NewCORSMiddleware(s.cfg.AllowOrigins))
	r.Use(RequestSizeLimitMiddleware(s.cfg.MaxRequestBytes))

	r.Get("/ping", s.handlePing)
	r.Get("/command", s.handleCommand)
	r.Post("/result", s.handleResult)
	if s.cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.MetricsHandler)
	}

	r.Group(func(api chi.Router) {
		api.Use(s.auth.Wrap)

		api.Get("/ws", s.handleWS)

		api.Route("/api", func(r chi.Router) {
			r.Post("/{tool}/direct", s.handleDirect)

			for _, tool := range legacyTools {
				r.Post("/"+tool, s.handleLegacySubmit(tool))
			}
			r.Get("/status/{id}", s.handleLegacyStatus)
			r.Get("/result/{id}", s.handleLegacyResult)
			r.Get("/queue", s.handleLegacyQueue)

			r.Get("/settings", s.handleGetSettings)
			r.Post("/settings/auto-accept", s.handleSetAutoAccept)
			r.Post("/settings/strict-mode", s.handleSetStrictMode)
			r.Post("/settings/whitelist/{tool}", s.handleToggleWhitelist)

			r.Get("/approvals", s.handleListApprovals)
			r.Post("/approvals/{id}", s.handleResolveApproval)

			r.Get("/stats", s.handleStats)
			r.Post("/shutdown", s.handleShutdown)
		})
	})

	return r
}

// observe traces each request and records its duration per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := otel.StartServerSpan(r.Context(), s.tracer, r.Method+" "+r.URL.Path)
		defer span.End()
		traceID := shared.NewTraceID()
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		r = r.WithContext(shared.WithTraceID(ctx, traceID))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetName(r.Method + " " + route)
		span.SetAttributes(otel.AttrRoute.String(route), otel.AttrStatus.Int(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		s.cfg.Metrics.RecordRequest(r.Context(), route, status, time.Since(start))
		s.logger.Debug("http request", append(shared.LogAttrs(r.Context()),
			"method", r.Method, "route", route, "status", status, "duration", time.Since(start))...)
	})
}

// Stats is the introspection view served on /api/stats.
type Stats struct {
	relay.Stats
	Legacy            int    `json:"legacy"`
	Approvals         int    `json:"approvals"`
	AgentOnline       bool   `json:"agentOnline"`
	Clients           int    `json:"clients"`
	Denied            int64  `json:"denied"`
	ConfigFingerprint string `json:"configFingerprint,omitempty"`
}

func (s *Server) Stats() Stats {
	st := Stats{ConfigFingerprint: s.cfg.ConfigFingerprint, Denied: audit.DenyCount()}
	if s.cfg.Relay != nil {
		st.Stats = s.cfg.Relay.Stats()
	}
	if s.cfg.Legacy != nil {
		st.Legacy = s.cfg.Legacy.Len()
	}
	if s.cfg.Gate != nil {
		st.Approvals = s.cfg.Gate.PendingCount()
	}
	if s.cfg.Agent != nil {
		st.AgentOnline = s.cfg.Agent.AgentOnline()
	}
	s.clientsMu.RLock()
	st.Clients = len(s.clients)
	s.clientsMu.RUnlock()
	return st
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("shutdown requested")
	writeJSON(w, http.StatusOK, map[string]string{"message": "server shutting down"})
	if s.cfg.Shutdown != nil {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		go s.cfg.Shutdown()
	}
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeArgs reads a JSON object body. An empty body is an empty object.
func decodeArgs(r *http.Request) (map[string]any, error) {
	args := map[string]any{}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&args); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
