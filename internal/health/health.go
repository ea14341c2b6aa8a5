// Package health implements the Observability Surface (C14): a small
// chi-routed HTTP server exposing /healthz and the Prometheus
// /metrics exposition endpoint, bound to loopback by default via
// --metrics-addr.
//
// The teacher itself never wires the go-chi dependency it carries in
// go.mod into a running server; this is grounded on the wider pack's
// chi.NewRouter/middleware.Logger/middleware.Recoverer wiring instead
// (horos47/core/chassis.Server), adapted from a QUIC/MCP chassis down
// to a plain HTTP mux.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/originpath/assocpipeline/internal/metrics"
	"github.com/originpath/assocpipeline/internal/model"
)

// StatusProvider supplies the current job phase for the health
// endpoint. The orchestrator implements this; health doesn't depend on
// the orchestrator package to avoid an import cycle.
type StatusProvider interface {
	CurrentPhase() model.Phase
	JobID() string
}

// Server hosts /healthz and /metrics.
type Server struct {
	addr   string
	http   *http.Server
	mu     sync.RWMutex
	status StatusProvider
}

// New builds a Server bound to addr (e.g. "127.0.0.1:9090").
func New(addr string) *Server {
	s := &Server{addr: addr}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// /metrics and /healthz are read by external dashboards, often from a
	// different origin than the pipeline host itself.
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetStatusProvider wires the orchestrator's current status into the
// health endpoint. Safe to call after Start.
func (s *Server) SetStatusProvider(p StatusProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = p
}

type healthResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	Phase  string `json:"phase,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	provider := s.status
	s.mu.RUnlock()

	resp := healthResponse{Status: "ok"}
	if provider != nil {
		resp.JobID = provider.JobID()
		resp.Phase = string(provider.CurrentPhase())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("health server listening", zap.String("addr", s.addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
