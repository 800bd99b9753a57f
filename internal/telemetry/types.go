// Core data model shared by the telemetry pipeline
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Status describes the health of a subsystem as reported in telemetry.
type Status string

// Subsystem status values.
const (
	StatusNominal  Status = "nominal"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

// Severity levels for alerts and fault scenarios.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Data represents one telemetry sample emitted by an agent. Samples are
// immutable once published; subscribers must treat the payload as read-only.
type Data struct {
	Timestamp    time.Time          `json:"ts"`
	UAVID        string             `json:"uav_id"`
	Subsystem    string             `json:"subsystem"`
	Payload      map[string]float64 `json:"data"`
	Status       Status             `json:"status"`
	AnomalyScore *float64           `json:"anomaly_score,omitempty"`
}

// Key returns the stream key identifying the (UAV, subsystem) pair.
func (d Data) Key() string {
	return d.UAVID + "/" + d.Subsystem
}

// DetectionResult is the outcome of scoring one telemetry sample.
type DetectionResult struct {
	Timestamp    time.Time          `json:"ts"`
	UAVID        string             `json:"uav_id"`
	Subsystem    string             `json:"subsystem"`
	AnomalyScore float64            `json:"anomaly_score"`
	IsAnomaly    bool               `json:"is_anomaly"`
	Features     map[string]float64 `json:"features"`
	Algorithm    string             `json:"algorithm"`
	Confidence   float64            `json:"confidence"`
}

// Alert is raised for detected anomalies and fault lifecycle events.
// Alerts are never deleted; they are only acknowledged or resolved.
type Alert struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"ts"`
	UAVID        string         `json:"uav_id"`
	Subsystem    string         `json:"subsystem"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	Resolved     bool           `json:"resolved"`
}

// NewAlert creates an alert with a fresh unique ID.
func NewAlert(uavID, subsystem string, sev Severity, msg string, data map[string]any) Alert {
	return Alert{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		UAVID:     uavID,
		Subsystem: subsystem,
		Severity:  sev,
		Message:   msg,
		Data:      data,
	}
}

// FaultScenario is a static fault template from configuration.
// Scenarios are read-only at runtime.
type FaultScenario struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Subsystem   string             `json:"subsystem" yaml:"subsystem"`
	FaultType   string             `json:"fault_type" yaml:"fault_type"`
	Probability float64            `json:"probability" yaml:"probability"`
	Duration    time.Duration      `json:"duration" yaml:"duration"`
	Severity    Severity           `json:"severity" yaml:"severity"`
	Parameters  map[string]float64 `json:"parameters" yaml:"parameters"`
	Enabled     bool               `json:"enabled" yaml:"enabled"`
}

// FaultInstance is a live fault attached to one agent. At most one instance
// per (uav_id, subsystem, fault_type) triple may be active.
type FaultInstance struct {
	ID         string             `json:"id"`
	ScenarioID string             `json:"scenario_id,omitempty"`
	UAVID      string             `json:"uav_id"`
	Subsystem  string             `json:"subsystem"`
	FaultType  string             `json:"fault_type"`
	Severity   Severity           `json:"severity"`
	StartedAt  time.Time          `json:"started_at"`
	ExpiresAt  time.Time          `json:"expires_at"`
	Parameters map[string]float64 `json:"parameters"`
}

// TripleKey identifies the fault state machine this instance belongs to.
func (f FaultInstance) TripleKey() string {
	return f.UAVID + "/" + f.Subsystem + "/" + f.FaultType
}

// PerformanceMetrics is a point-in-time process resource snapshot.
type PerformanceMetrics struct {
	Timestamp    time.Time `json:"ts"`
	CPUPercent   float64   `json:"cpu_percent"`
	MemPercent   float64   `json:"mem_percent"`
	DiskPercent  float64   `json:"disk_percent"`
	Goroutines   int       `json:"goroutines"`
	HeapAllocMB  float64   `json:"heap_alloc_mb"`
	SampleMillis int64     `json:"sample_millis"`
}
