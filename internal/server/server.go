// Package server is the HTTP shell around the pipeline: request/response
// envelopes, transport validation, health, metrics exposition, and the
// token-guarded admin read endpoints. Transport concerns end here — the
// pipeline never sees an http.Request.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sefton37/kelloggchat/internal/backend"
	"github.com/sefton37/kelloggchat/internal/inbox"
	"github.com/sefton37/kelloggchat/internal/observe"
	"github.com/sefton37/kelloggchat/internal/pipeline"
	"github.com/sefton37/kelloggchat/internal/reqlog"
)

// Config holds the server's own settings.
type Config struct {
	// MaxRequestSize caps the request body in bytes.
	MaxRequestSize int64

	// AdminToken guards /admin routes; empty disables them.
	AdminToken string

	// MetricsEnabled mounts /metrics when true.
	MetricsEnabled bool

	// ReqLogPath feeds the admin analytics reads.
	ReqLogPath string
}

// Server carries the handler dependencies.
type Server struct {
	cfg     Config
	orch    *pipeline.Orchestrator
	backend *backend.Client
	inbox   *inbox.Store
	metrics *observe.Metrics
	started time.Time
}

// chatRequest is the POST /chat body.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// chatEnvelope is the POST /chat response body, success or refusal.
type chatEnvelope struct {
	Success  bool         `json:"success"`
	Response *chatPayload `json:"response,omitempty"`
	Error    *chatError   `json:"error,omitempty"`
	Metadata chatMetadata `json:"metadata"`
}

type chatPayload struct {
	Content string `json:"content"`
	Domain  string `json:"domain"`
}

type chatError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatMetadata struct {
	ResponseTimeMS int64            `json:"response_time_ms"`
	RequestID      string           `json:"request_id"`
	ConversationID string           `json:"conversation_id,omitempty"`
	LayerTimingsMS map[string]int64 `json:"layer_timings_ms,omitempty"`
}

// healthResponse is the GET /health body.
type healthResponse struct {
	Status        string `json:"status"`
	ModelsLoaded  bool   `json:"models_loaded"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// New creates a Server.
func New(cfg Config, orch *pipeline.Orchestrator, b *backend.Client, ib *inbox.Store, metrics *observe.Metrics) *Server {
	if metrics == nil {
		metrics = observe.NewNoopMetrics()
	}
	return &Server{
		cfg:     cfg,
		orch:    orch,
		backend: b,
		inbox:   ib,
		metrics: metrics,
		started: time.Now(),
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Post("/chat", s.handleChat)
	r.Get("/health", s.handleHealth)

	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if s.cfg.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/inbox", s.handleInboxList)
			r.Get("/inbox/{id}", s.handleInboxGet)
			r.Get("/analytics/summary", s.handleAnalyticsSummary)
		})
	}
	return r
}

// handleChat is the transport edge of the pipeline. Only malformed
// transport gets a 4xx; every pipeline verdict ships as 200 with the
// verdict in the body, and only a true internal failure is a 5xx.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			http.Error(w, `{"error": "content type must be application/json"}`, http.StatusUnsupportedMediaType)
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestSize)
	var req chatRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeResult(w, pipeline.Result{
				Code:    pipeline.CodeInputTooLong,
				Content: pipeline.CannedMessage(pipeline.CodeInputTooLong),
			})
			return
		}
		http.Error(w, `{"error": "request body is not valid JSON"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	res := s.orch.Handle(r.Context(), pipeline.Input{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		RemoteAddr:     r.RemoteAddr,
		ForwardedFor:   r.Header.Get("X-Forwarded-For"),
	})
	s.writeResult(w, res)
}

// writeResult maps a pipeline Result onto the response envelope.
func (s *Server) writeResult(w http.ResponseWriter, res pipeline.Result) {
	env := chatEnvelope{
		Success: res.Ok(),
		Metadata: chatMetadata{
			ResponseTimeMS: res.ResponseTimeMS,
			RequestID:      res.RequestID,
			ConversationID: res.ConversationID,
			LayerTimingsMS: res.LayerTimingsMS,
		},
	}
	status := http.StatusOK
	if res.Ok() {
		env.Response = &chatPayload{Content: res.Content, Domain: string(res.Domain)}
	} else {
		env.Error = &chatError{Code: string(res.Code), Message: res.Content}
		if res.Code == pipeline.CodeInternalError {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, env)
}

// handleHealth reports liveness plus backend probe state. A process that
// serves HTTP but cannot reach its models is degraded, not down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	modelsLoaded := s.backend.Healthy()
	status := "healthy"
	if !modelsLoaded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		ModelsLoaded:  modelsLoaded,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

// requireAdmin enforces the bearer token on /admin routes.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token != s.cfg.AdminToken {
			http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleInboxList returns all contact messages, newest first.
func (s *Server) handleInboxList(w http.ResponseWriter, _ *http.Request) {
	msgs, err := s.inbox.List()
	if err != nil {
		slog.Error("inbox list failed", "err", err)
		http.Error(w, `{"error": "inbox unavailable"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

// handleInboxGet returns one contact message.
func (s *Server) handleInboxGet(w http.ResponseWriter, r *http.Request) {
	msg, err := s.inbox.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// analyticsSummary aggregates the request log for the admin dashboard.
type analyticsSummary struct {
	TotalRequests      int            `json:"total_requests"`
	Outcomes           map[string]int `json:"outcomes"`
	Domains            map[string]int `json:"domains"`
	BlockedByLayer     map[string]int `json:"blocked_by_layer"`
	MeanResponseTimeMS int64          `json:"mean_response_time_ms"`
}

// handleAnalyticsSummary reads the request log and aggregates it. The log
// holds only derived data, so this surface cannot leak message content.
func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, _ *http.Request) {
	records, err := reqlog.Read(s.cfg.ReqLogPath)
	if err != nil {
		slog.Error("analytics read failed", "err", err)
		http.Error(w, `{"error": "analytics unavailable"}`, http.StatusInternalServerError)
		return
	}

	sum := analyticsSummary{
		Outcomes:       make(map[string]int),
		Domains:        make(map[string]int),
		BlockedByLayer: make(map[string]int),
	}
	var totalMS int64
	for _, rec := range records {
		sum.TotalRequests++
		totalMS += rec.ResponseTimeMS
		switch {
		case rec.BlockedAtLayer != "":
			sum.Outcomes["blocked"]++
			sum.BlockedByLayer[rec.BlockedAtLayer]++
		default:
			sum.Outcomes["ok"]++
		}
		if rec.DomainMatched != "" {
			sum.Domains[rec.DomainMatched]++
		}
	}
	if sum.TotalRequests > 0 {
		sum.MeanResponseTimeMS = totalMS / int64(sum.TotalRequests)
	}
	writeJSON(w, http.StatusOK, sum)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		io.WriteString(w, `{"error": "encoding failure"}`)
	}
}

// Run serves the router until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
