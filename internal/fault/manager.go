// Fault injection lifecycle and concurrency-cap enforcement
package fault

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"uavsim/internal/logging"
	"uavsim/internal/telemetry"
)

// DefaultDuration applies when an injection gives no duration.
const DefaultDuration = 30 * time.Second

// Target is the agent-side attachment point for a fault instance.
type Target interface {
	SetFault(telemetry.FaultInstance)
	ClearFault()
}

// Registry resolves (uav, subsystem) pairs to their agents. Implemented by
// the telemetry manager's agent registry.
type Registry interface {
	Lookup(uavID, subsystem string) (Target, bool)
	UAVs() []string
}

// AlertFunc receives fault lifecycle alerts (start and end).
type AlertFunc func(telemetry.Alert)

// Config controls the fault manager.
type Config struct {
	MaxConcurrent int
	AutoInject    bool
	EvalInterval  time.Duration
	Scenarios     []telemetry.FaultScenario
}

// InjectParams describe one fault injection request.
type InjectParams struct {
	FaultType  string             `json:"fault_type"`
	ScenarioID string             `json:"scenario_id,omitempty"`
	Duration   time.Duration      `json:"duration,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// Stats is a snapshot of fault manager counters.
type Stats struct {
	Injected        uint64            `json:"injected"`
	Cleared         uint64            `json:"cleared"`
	Active          int               `json:"active"`
	MaxConcurrent   int               `json:"max_concurrent"`
	ByType          map[string]uint64 `json:"by_type"`
	BySubsystem     map[string]uint64 `json:"by_subsystem"`
	AvgDurationSecs float64           `json:"avg_duration_secs"`
	Scenarios       int               `json:"scenarios"`
}

// Manager owns the Inactive -> Active -> Inactive state machine for every
// (uav, subsystem, fault_type) triple. All transitions serialize on one
// mutex, so a manual clear and the expiry sweeper can never both emit the
// end alert for the same instance.
type Manager struct {
	registry  Registry
	alertFn   AlertFunc
	max       int
	scenarios []telemetry.FaultScenario
	auto      bool
	interval  time.Duration

	mu     sync.Mutex
	active map[string]*telemetry.FaultInstance

	injected      uint64
	cleared       uint64
	byType        map[string]uint64
	bySubsystem   map[string]uint64
	totalDuration time.Duration

	now func() time.Time
	rng *rand.Rand
}

// New creates a fault manager. alertFn may be nil.
func New(cfg Config, registry Registry, alertFn AlertFunc) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = time.Second
	}
	return &Manager{
		registry:    registry,
		alertFn:     alertFn,
		max:         cfg.MaxConcurrent,
		scenarios:   cfg.Scenarios,
		auto:        cfg.AutoInject,
		interval:    cfg.EvalInterval,
		active:      make(map[string]*telemetry.FaultInstance),
		byType:      make(map[string]uint64),
		bySubsystem: make(map[string]uint64),
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Inject activates a fault on the given stream. It fails with a typed error
// and leaves all state unchanged when the request is malformed, the stream
// is unknown, the triple already has an active fault, or the global cap is
// reached.
func (m *Manager) Inject(uavID, subsystem string, params InjectParams) (telemetry.FaultInstance, error) {
	if uavID == "" {
		return telemetry.FaultInstance{}, &telemetry.ValidationError{Field: "uav_id", Reason: "must not be empty"}
	}
	if !telemetry.KnownFaultType(params.FaultType) {
		return telemetry.FaultInstance{}, &telemetry.ValidationError{Field: "fault_type", Reason: "unknown fault type " + params.FaultType}
	}
	duration := params.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}

	target, ok := m.registry.Lookup(uavID, subsystem)
	if !ok {
		return telemetry.FaultInstance{}, &telemetry.NotFoundError{Resource: "agent " + uavID + "/" + subsystem}
	}

	now := m.now()
	inst := telemetry.FaultInstance{
		ID:         uuid.New().String(),
		ScenarioID: params.ScenarioID,
		UAVID:      uavID,
		Subsystem:  subsystem,
		FaultType:  params.FaultType,
		Severity:   m.severityFor(params),
		StartedAt:  now,
		ExpiresAt:  now.Add(duration),
		Parameters: params.Parameters,
	}

	m.mu.Lock()
	if _, dup := m.active[inst.TripleKey()]; dup {
		m.mu.Unlock()
		return telemetry.FaultInstance{}, &telemetry.ConflictError{Resource: "fault " + inst.TripleKey()}
	}
	if len(m.active) >= m.max {
		m.mu.Unlock()
		return telemetry.FaultInstance{}, &telemetry.CapacityError{Limit: m.max}
	}
	m.active[inst.TripleKey()] = &inst
	m.injected++
	m.byType[inst.FaultType]++
	m.bySubsystem[subsystem]++
	target.SetFault(inst)
	m.mu.Unlock()

	m.emit(telemetry.NewAlert(uavID, subsystem, inst.Severity,
		"fault injected: "+inst.FaultType, map[string]any{
			"fault_id":   inst.ID,
			"fault_type": inst.FaultType,
			"expires_at": inst.ExpiresAt,
		}))
	return inst, nil
}

// severityFor derives the instance severity from the fault type. A
// scenario-driven injection carries the scenario's configured severity when
// one is set.
func (m *Manager) severityFor(params InjectParams) telemetry.Severity {
	if params.ScenarioID != "" {
		for _, sc := range m.scenarios {
			if sc.ID == params.ScenarioID && sc.Severity != "" {
				return sc.Severity
			}
		}
	}
	return telemetry.FaultSeverity(params.FaultType)
}

// Clear deactivates one fault. Clearing an unknown triple returns a
// NotFoundError; the end alert for any instance is emitted exactly once no
// matter how Clear races with the expiry sweeper.
func (m *Manager) Clear(uavID, subsystem, faultType string) error {
	key := uavID + "/" + subsystem + "/" + faultType
	m.mu.Lock()
	inst, ok := m.active[key]
	if !ok {
		m.mu.Unlock()
		return &telemetry.NotFoundError{Resource: "fault " + key}
	}
	cleared := m.removeLocked(inst)
	m.mu.Unlock()

	m.emitEnd(cleared, "cleared")
	return nil
}

// ClearAll deactivates every active fault. Injections that begin after
// ClearAll acquires the lock are unaffected by it.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	removed := make([]telemetry.FaultInstance, 0, len(m.active))
	for _, inst := range m.active {
		removed = append(removed, m.removeLocked(inst))
	}
	m.mu.Unlock()

	for _, inst := range removed {
		m.emitEnd(inst, "cleared")
	}
	return len(removed)
}

// removeLocked is the single deactivation path shared by Clear, ClearAll,
// and the expiry sweeper. Caller holds m.mu.
func (m *Manager) removeLocked(inst *telemetry.FaultInstance) telemetry.FaultInstance {
	delete(m.active, inst.TripleKey())
	if target, ok := m.registry.Lookup(inst.UAVID, inst.Subsystem); ok {
		target.ClearFault()
	}
	m.cleared++
	m.totalDuration += m.now().Sub(inst.StartedAt)
	return *inst
}

func (m *Manager) emitEnd(inst telemetry.FaultInstance, reason string) {
	m.emit(telemetry.NewAlert(inst.UAVID, inst.Subsystem, telemetry.SeverityLow,
		"fault "+reason+": "+inst.FaultType, map[string]any{
			"fault_id":      inst.ID,
			"fault_type":    inst.FaultType,
			"duration_secs": m.now().Sub(inst.StartedAt).Seconds(),
		}))
}

func (m *Manager) emit(alert telemetry.Alert) {
	if m.alertFn != nil {
		m.alertFn(alert)
	}
}

// Run drives the expiry sweeper and, when enabled, probability-based
// scenario triggering until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("fault manager running", "max_concurrent", m.max, "auto_inject", m.auto)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
			if m.auto {
				m.evaluateScenarios(log)
			}
		case <-ctx.Done():
			log.Info("fault manager stopped")
			return
		}
	}
}

// sweep expires faults whose deadline has passed.
func (m *Manager) sweep() {
	now := m.now()
	m.mu.Lock()
	var expired []telemetry.FaultInstance
	for _, inst := range m.active {
		if !now.Before(inst.ExpiresAt) {
			expired = append(expired, m.removeLocked(inst))
		}
	}
	m.mu.Unlock()

	for _, inst := range expired {
		m.emitEnd(inst, "expired")
	}
}

// evaluateScenarios rolls each enabled scenario's probability against a
// random registered UAV. Triggered injections go through the same Inject
// path, so the concurrency cap holds regardless of trigger origin.
func (m *Manager) evaluateScenarios(log *slog.Logger) {
	uavs := m.registry.UAVs()
	if len(uavs) == 0 {
		return
	}
	for _, sc := range m.scenarios {
		if !sc.Enabled || sc.Probability <= 0 {
			continue
		}
		if m.rng.Float64() >= sc.Probability {
			continue
		}
		uavID := uavs[m.rng.Intn(len(uavs))]
		_, err := m.Inject(uavID, sc.Subsystem, InjectParams{
			FaultType:  sc.FaultType,
			ScenarioID: sc.ID,
			Duration:   sc.Duration,
			Parameters: sc.Parameters,
		})
		if err != nil {
			// Conflicts and cap hits are expected under random triggering.
			log.Debug("scenario trigger rejected", "scenario", sc.Name, "err", err)
		}
	}
}

// Active returns a consistent snapshot of all active fault instances.
func (m *Manager) Active() []telemetry.FaultInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]telemetry.FaultInstance, 0, len(m.active))
	for _, inst := range m.active {
		cp := *inst
		out = append(out, cp)
	}
	return out
}

// Scenarios returns the configured scenario catalog.
func (m *Manager) Scenarios() []telemetry.FaultScenario {
	return append([]telemetry.FaultScenario(nil), m.scenarios...)
}

// Statistics returns a snapshot of fault counters.
func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType := make(map[string]uint64, len(m.byType))
	for k, v := range m.byType {
		byType[k] = v
	}
	bySub := make(map[string]uint64, len(m.bySubsystem))
	for k, v := range m.bySubsystem {
		bySub[k] = v
	}
	avg := 0.0
	if m.cleared > 0 {
		avg = m.totalDuration.Seconds() / float64(m.cleared)
	}
	return Stats{
		Injected:        m.injected,
		Cleared:         m.cleared,
		Active:          len(m.active),
		MaxConcurrent:   m.max,
		ByType:          byType,
		BySubsystem:     bySub,
		AvgDurationSecs: avg,
		Scenarios:       len(m.scenarios),
	}
}
