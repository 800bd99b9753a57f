// HTTP control plane for the running simulation
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uavsim/internal/metrics"
	"uavsim/internal/sim"
	"uavsim/internal/telemetry"
)

// Server exposes the fleet manager over a REST API, a Prometheus scrape
// endpoint, and a websocket alert stream.
type Server struct {
	manager   *sim.Manager
	collector *metrics.Collector
	log       *slog.Logger
	hub       *alertHub
	http      *http.Server
}

// NewServer wires routes and subscribes the websocket hub to alerts.
func NewServer(addr string, manager *sim.Manager, collector *metrics.Collector, log *slog.Logger) *Server {
	s := &Server{
		manager:   manager,
		collector: collector,
		log:       log,
		hub:       newAlertHub(log),
	}
	manager.OnAlert(s.hub.broadcast)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/simulation/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/simulation/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/roster", s.handleRoster).Methods(http.MethodGet)
	api.HandleFunc("/uavs", s.handleAddUAV).Methods(http.MethodPost)
	api.HandleFunc("/uavs/{id}", s.handleRemoveUAV).Methods(http.MethodDelete)

	api.HandleFunc("/faults", s.handleActiveFaults).Methods(http.MethodGet)
	api.HandleFunc("/faults", s.handleClearAllFaults).Methods(http.MethodDelete)
	api.HandleFunc("/faults/scenarios", s.handleScenarios).Methods(http.MethodGet)
	api.HandleFunc("/uavs/{id}/subsystems/{subsystem}/faults", s.handleInjectFault).Methods(http.MethodPost)
	api.HandleFunc("/uavs/{id}/subsystems/{subsystem}/faults/{type}", s.handleClearFault).Methods(http.MethodDelete)

	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/acknowledge", s.handleAckAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)

	api.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)
	api.HandleFunc("/detector/config", s.handleDetectorConfig).Methods(http.MethodPut)
	api.HandleFunc("/detector/feedback", s.handleFeedback).Methods(http.MethodPost)
	api.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodGet)
	api.HandleFunc("/system", s.handleSystemMetrics).Methods(http.MethodGet)

	r.HandleFunc("/ws/alerts", s.hub.handleWS)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("admin server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and closes all websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	return s.http.Shutdown(ctx)
}

// writeJSON renders v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		verr *telemetry.ValidationError
		nerr *telemetry.NotFoundError
		cerr *telemetry.ConflictError
		lerr *telemetry.CapacityError
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &nerr):
		status = http.StatusNotFound
	case errors.As(err, &cerr):
		status = http.StatusConflict
	case errors.As(err, &lerr):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
