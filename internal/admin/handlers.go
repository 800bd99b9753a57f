package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"uavsim/internal/anomaly"
	"uavsim/internal/fault"
	"uavsim/internal/logging"
	"uavsim/internal/telemetry"
)

func (s *Server) handleRoster(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Roster())
}

// The pipeline must outlive the request, so start/stop run under a background
// context carrying the server's logger.
func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.manager.Start(logging.NewContext(context.Background(), s.log))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.manager.Stop(logging.NewContext(context.Background(), s.log))
	w.WriteHeader(http.StatusNoContent)
}

type addUAVRequest struct {
	UAVID      string   `json:"uav_id"`
	Subsystems []string `json:"subsystems,omitempty"`
}

func (s *Server) handleAddUAV(w http.ResponseWriter, r *http.Request) {
	var req addUAVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &telemetry.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	info, err := s.manager.AddUAV(r.Context(), req.UAVID, req.Subsystems)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleRemoveUAV(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.manager.RemoveUAV(r.Context(), id) {
		writeError(w, &telemetry.NotFoundError{Resource: "uav " + id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActiveFaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ActiveFaults())
}

func (s *Server) handleScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.FaultScenarios())
}

func (s *Server) handleClearAllFaults(w http.ResponseWriter, _ *http.Request) {
	n := s.manager.ClearAllFaults()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

type injectFaultRequest struct {
	FaultType    string             `json:"fault_type"`
	ScenarioID   string             `json:"scenario_id,omitempty"`
	DurationSecs float64            `json:"duration_secs,omitempty"`
	Parameters   map[string]float64 `json:"parameters,omitempty"`
}

func (s *Server) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req injectFaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &telemetry.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	inst, err := s.manager.InjectFault(vars["id"], vars["subsystem"], fault.InjectParams{
		FaultType:  req.FaultType,
		ScenarioID: req.ScenarioID,
		Duration:   time.Duration(req.DurationSecs * float64(time.Second)),
		Parameters: req.Parameters,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleClearFault(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.manager.ClearFault(vars["id"], vars["subsystem"], vars["type"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Alerts())
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.AcknowledgeAlert(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ResolveAlert(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.LatestResults())
}

func (s *Server) handleDetectorConfig(w http.ResponseWriter, r *http.Request) {
	var update anomaly.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, &telemetry.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if err := s.manager.UpdateDetectorConfig(update); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type feedbackRequest struct {
	FalsePositive bool `json:"false_positive"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &telemetry.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	s.manager.RecordFeedback(req.FalsePositive)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Statistics())
}

type systemMetricsResponse struct {
	Current *telemetry.PerformanceMetrics  `json:"current,omitempty"`
	History []telemetry.PerformanceMetrics `json:"history"`
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := systemMetricsResponse{History: []telemetry.PerformanceMetrics{}}
	if s.collector != nil {
		if cur, ok := s.collector.Current(); ok {
			resp.Current = &cur
		}
		resp.History = s.collector.History()
	}
	writeJSON(w, http.StatusOK, resp)
}
