// Package api serves the operational HTTP surface: a JSON status snapshot
// and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pylonengine/netsync/pkg/log"
	"github.com/pylonengine/netsync/pkg/metrics"
)

type StatusServer struct {
	server *http.Server
}

type NewStatusServerOptions struct {
	Addr   string
	Source metrics.StatusSource
	// Registry defaults to a fresh registry with the manager collector.
	Registry *prometheus.Registry
}

// NewStatusServer creates an http.Server for status and metrics requests.
func NewStatusServer(opts NewStatusServerOptions) *StatusServer {
	registry := opts.Registry
	if registry == nil {
		registry = metrics.NewRegistry(opts.Source)
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", handleStatus(opts.Source)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &StatusServer{
		server: &http.Server{
			Addr:    opts.Addr,
			Handler: r,
		},
	}
}

func handleStatus(source metrics.StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(source.Status()); err != nil {
			log.Error("Failed to write status response: %v", err)
		}
	}
}

// Start starts the StatusServer
func (s *StatusServer) Start() {
	log.Info("Status server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Status server closed")
			return
		}
		log.Error("Status server error: %v", err)
	}
}

// Stop stops the StatusServer
func (s *StatusServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
