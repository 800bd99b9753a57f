package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"uavsim/internal/anomaly"
	"uavsim/internal/fault"
	"uavsim/internal/sim"
	"uavsim/internal/telemetry"
)

func testServer(t *testing.T) (*Server, *sim.Manager) {
	t.Helper()
	m := sim.New(sim.Config{
		TelemetryPeriod: 5 * time.Millisecond,
		Subsystems:      []string{telemetry.SubsystemPower},
		Detector:        anomaly.Config{WindowSize: 20, MinSamples: 5},
		Faults:          fault.Config{MaxConcurrent: 2, EvalInterval: time.Hour},
	}, nil, nil)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0", m, nil, log), m
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	return w
}

func TestAddAndRemoveUAV(t *testing.T) {
	s, _ := testServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/uavs", addUAVRequest{UAVID: "UAV_001"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", w.Code, w.Body.String())
	}
	var info sim.UAVInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.UAVID != "UAV_001" || len(info.Subsystems) != 1 {
		t.Errorf("unexpected info: %+v", info)
	}

	// Duplicate registration conflicts.
	if w := doJSON(t, s, http.MethodPost, "/api/uavs", addUAVRequest{UAVID: "UAV_001"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate add status = %d, want 409", w.Code)
	}
	// Empty ID is rejected.
	if w := doJSON(t, s, http.MethodPost, "/api/uavs", addUAVRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty id status = %d, want 400", w.Code)
	}

	if w := doJSON(t, s, http.MethodDelete, "/api/uavs/UAV_001", nil); w.Code != http.StatusNoContent {
		t.Errorf("remove status = %d, want 204", w.Code)
	}
	if w := doJSON(t, s, http.MethodDelete, "/api/uavs/UAV_001", nil); w.Code != http.StatusNotFound {
		t.Errorf("remove again status = %d, want 404", w.Code)
	}
}

func TestStartStopEndpoints(t *testing.T) {
	s, m := testServer(t)
	doJSON(t, s, http.MethodPost, "/api/uavs", addUAVRequest{UAVID: "UAV_001"})

	if w := doJSON(t, s, http.MethodPost, "/api/simulation/start", nil); w.Code != http.StatusNoContent {
		t.Fatalf("start = %d", w.Code)
	}
	if !m.Statistics().Running {
		t.Error("manager not running after start")
	}
	// Idempotent: a second start is a no-op.
	if w := doJSON(t, s, http.MethodPost, "/api/simulation/start", nil); w.Code != http.StatusNoContent {
		t.Errorf("second start = %d", w.Code)
	}

	if w := doJSON(t, s, http.MethodPost, "/api/simulation/stop", nil); w.Code != http.StatusNoContent {
		t.Fatalf("stop = %d", w.Code)
	}
	if m.Statistics().Running {
		t.Error("manager still running after stop")
	}
}

func TestRosterEndpoint(t *testing.T) {
	s, m := testServer(t)
	m.AddUAV(httptest.NewRequest("GET", "/", nil).Context(), "UAV_002", nil)

	w := doJSON(t, s, http.MethodGet, "/api/roster", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var roster []sim.UAVInfo
	if err := json.NewDecoder(w.Body).Decode(&roster); err != nil {
		t.Fatal(err)
	}
	if len(roster) != 1 || roster[0].UAVID != "UAV_002" {
		t.Errorf("roster = %+v", roster)
	}
}

func TestFaultEndpoints(t *testing.T) {
	s, _ := testServer(t)
	doJSON(t, s, http.MethodPost, "/api/uavs", addUAVRequest{UAVID: "UAV_001"})

	inject := injectFaultRequest{FaultType: telemetry.FaultVoltageDrop, DurationSecs: 3600}
	w := doJSON(t, s, http.MethodPost, "/api/uavs/UAV_001/subsystems/Power/faults", inject)
	if w.Code != http.StatusCreated {
		t.Fatalf("inject status = %d: %s", w.Code, w.Body.String())
	}

	// Duplicate triple conflicts; unknown agent is 404; bad type is 400.
	if w := doJSON(t, s, http.MethodPost, "/api/uavs/UAV_001/subsystems/Power/faults", inject); w.Code != http.StatusConflict {
		t.Errorf("duplicate inject = %d, want 409", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/uavs/UAV_009/subsystems/Power/faults", inject); w.Code != http.StatusNotFound {
		t.Errorf("unknown uav inject = %d, want 404", w.Code)
	}
	bad := injectFaultRequest{FaultType: "flux_capacitor"}
	if w := doJSON(t, s, http.MethodPost, "/api/uavs/UAV_001/subsystems/Power/faults", bad); w.Code != http.StatusBadRequest {
		t.Errorf("bad type inject = %d, want 400", w.Code)
	}

	// The cap maps to 429.
	doJSON(t, s, http.MethodPost, "/api/uavs/UAV_001/subsystems/Power/faults",
		injectFaultRequest{FaultType: telemetry.FaultBatteryFailure})
	if w := doJSON(t, s, http.MethodPost, "/api/uavs/UAV_001/subsystems/Power/faults",
		injectFaultRequest{FaultType: telemetry.FaultDropout}); w.Code != http.StatusTooManyRequests {
		t.Errorf("over-cap inject = %d, want 429", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/faults", nil)
	var active []telemetry.FaultInstance
	json.NewDecoder(w.Body).Decode(&active)
	if len(active) != 2 {
		t.Errorf("active faults = %d, want 2", len(active))
	}

	if w := doJSON(t, s, http.MethodDelete, "/api/uavs/UAV_001/subsystems/Power/faults/"+telemetry.FaultVoltageDrop, nil); w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", w.Code)
	}
	w = doJSON(t, s, http.MethodDelete, "/api/faults", nil)
	var cleared map[string]int
	json.NewDecoder(w.Body).Decode(&cleared)
	if cleared["cleared"] != 1 {
		t.Errorf("clear-all = %v, want 1", cleared)
	}
}

func TestAlertEndpoints(t *testing.T) {
	s, _ := testServer(t)
	doJSON(t, s, http.MethodPost, "/api/uavs", addUAVRequest{UAVID: "UAV_001"})
	doJSON(t, s, http.MethodPost, "/api/uavs/UAV_001/subsystems/Power/faults",
		injectFaultRequest{FaultType: telemetry.FaultVoltageDrop})

	w := doJSON(t, s, http.MethodGet, "/api/alerts", nil)
	var alerts []telemetry.Alert
	if err := json.NewDecoder(w.Body).Decode(&alerts); err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want the injection alert", len(alerts))
	}

	if w := doJSON(t, s, http.MethodPost, "/api/alerts/"+alerts[0].ID+"/acknowledge", nil); w.Code != http.StatusNoContent {
		t.Errorf("acknowledge = %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/alerts/"+alerts[0].ID+"/resolve", nil); w.Code != http.StatusNoContent {
		t.Errorf("resolve = %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/alerts/missing/acknowledge", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown alert = %d, want 404", w.Code)
	}
}

func TestDetectorConfigEndpoint(t *testing.T) {
	s, _ := testServer(t)

	th := 0.42
	w := doJSON(t, s, http.MethodPut, "/api/detector/config", anomaly.ConfigUpdate{Threshold: &th})
	if w.Code != http.StatusOK {
		t.Fatalf("config update = %d: %s", w.Code, w.Body.String())
	}
	bad := 2.0
	if w := doJSON(t, s, http.MethodPut, "/api/detector/config", anomaly.ConfigUpdate{Threshold: &bad}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid threshold = %d, want 400", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/statistics", nil)
	var stats sim.Statistics
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Detector.Threshold != 0.42 {
		t.Errorf("threshold = %f, want 0.42", stats.Detector.Threshold)
	}

	if w := doJSON(t, s, http.MethodPost, "/api/detector/feedback", feedbackRequest{FalsePositive: true}); w.Code != http.StatusNoContent {
		t.Errorf("feedback = %d, want 204", w.Code)
	}
}

func TestSystemMetricsWithoutCollector(t *testing.T) {
	s, _ := testServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/system", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp systemMetricsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Current != nil {
		t.Error("no collector should mean no current sample")
	}
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	s, _ := testServer(t)
	if w := doJSON(t, s, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	w := doJSON(t, s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("prometheus exposition missing standard collectors")
	}
}

func clientCount(h *alertHub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func TestWebsocketDeadClientIsReleased(t *testing.T) {
	s, _ := testServer(t)
	ts := httptest.NewServer(s.http.Handler)
	defer ts.Close()
	defer s.hub.close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if clientCount(s.hub) != 1 {
		t.Fatalf("clients = %d, want 1", clientCount(s.hub))
	}

	// Sever the transport so the server's next read or write on this
	// connection fails, then keep broadcasting until the hub drops it.
	conn.UnderlyingConn().Close()
	deadline := time.Now().Add(2 * time.Second)
	for clientCount(s.hub) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dead client never released from the hub")
		}
		s.hub.broadcast(telemetry.NewAlert("UAV_001", telemetry.SubsystemPower,
			telemetry.SeverityLow, "ping", nil))
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketAlertStream(t *testing.T) {
	s, m := testServer(t)
	ts := httptest.NewServer(s.http.Handler)
	defer ts.Close()
	defer s.hub.close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	// Give the handler goroutine a moment to register the client.
	time.Sleep(50 * time.Millisecond)

	m.AddUAV(httptest.NewRequest("GET", "/", nil).Context(), "UAV_001", nil)
	if _, err := m.InjectFault("UAV_001", telemetry.SubsystemPower, fault.InjectParams{
		FaultType: telemetry.FaultVoltageDrop,
	}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var alert telemetry.Alert
	if err := conn.ReadJSON(&alert); err != nil {
		t.Fatalf("read alert: %v", err)
	}
	if alert.UAVID != "UAV_001" || !strings.Contains(alert.Message, "fault injected") {
		t.Errorf("unexpected alert: %+v", alert)
	}
}
