// Fleet manager orchestrating agents, detection, and fault injection
package sim

import (
	"context"
	"sort"
	"sync"
	"time"

	"uavsim/internal/agent"
	"uavsim/internal/anomaly"
	"uavsim/internal/bus"
	"uavsim/internal/fault"
	"uavsim/internal/logging"
	"uavsim/internal/sink"
	"uavsim/internal/telemetry"
)

// Config controls the fleet manager.
type Config struct {
	TelemetryPeriod time.Duration
	BusPolicy       bus.Policy
	BusBuffer       int
	Subsystems      []string
	Detector        anomaly.Config
	Faults          fault.Config
}

// UAVInfo describes one UAV and its running agents.
type UAVInfo struct {
	UAVID      string   `json:"uav_id"`
	Subsystems []string `json:"subsystems"`
}

// Statistics aggregates runtime counters across components.
type Statistics struct {
	Running       bool          `json:"running"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	UAVs          int           `json:"uavs"`
	Agents        int           `json:"agents"`
	Detector      anomaly.Stats `json:"detector"`
	Faults        fault.Stats   `json:"faults"`
	Alerts        int           `json:"alerts"`
	SinkDrops     uint64        `json:"sink_drops"`
}

// AlertFunc observes alerts as they are raised.
type AlertFunc func(telemetry.Alert)

// pipelineSubscriber names the manager's own bus subscription.
const pipelineSubscriber = "pipeline"

// Manager owns the simulated fleet: agents publish to the bus, the pipeline
// consumer scores every sample, and the fault manager mutates agents. One
// manager per process.
type Manager struct {
	cfg      Config
	bus      *bus.Bus
	detector *anomaly.Detector
	faults   *fault.Manager
	out      sink.TelemetrySink

	mu     sync.Mutex
	agents map[string]map[string]*agent.Agent

	runMu     sync.Mutex
	running   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	pipeDone  chan struct{}
	bgDone    chan struct{}
	startedAt time.Time

	resMu  sync.RWMutex
	latest map[string]telemetry.DetectionResult

	alertMu  sync.RWMutex
	alerts   []*telemetry.Alert
	alertFns []AlertFunc

	sinkDrops uint64
}

// New creates a fleet manager. out may be nil to discard telemetry after
// detection.
func New(cfg Config, detector *anomaly.Detector, out sink.TelemetrySink) *Manager {
	if cfg.TelemetryPeriod <= 0 {
		cfg.TelemetryPeriod = agent.DefaultPeriod
	}
	if cfg.BusBuffer <= 0 {
		cfg.BusBuffer = 256
	}
	if len(cfg.Subsystems) == 0 {
		cfg.Subsystems = telemetry.StandardSubsystems()
	}
	if detector == nil {
		detector = anomaly.New(cfg.Detector, nil)
	}
	m := &Manager{
		cfg:      cfg,
		bus:      bus.New(cfg.BusPolicy, cfg.BusBuffer),
		detector: detector,
		out:      out,
		agents:   make(map[string]map[string]*agent.Agent),
		latest:   make(map[string]telemetry.DetectionResult),
	}
	m.faults = fault.New(cfg.Faults, (*agentRegistry)(m), m.raiseAlert)
	m.detector.RegisterAnomalyCallback(m.onAnomaly)
	return m
}

// agentRegistry adapts the manager's agent map to the fault manager.
type agentRegistry Manager

func (r *agentRegistry) Lookup(uavID, subsystem string) (fault.Target, bool) {
	m := (*Manager)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[uavID][subsystem]
	if !ok {
		return nil, false
	}
	return a, true
}

func (r *agentRegistry) UAVs() []string {
	m := (*Manager)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.agents))
	for id := range m.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddUAV registers a UAV with agents for the given subsystems. An empty
// subsystem list uses the manager's configured set. Agents start immediately
// when the manager is running.
func (m *Manager) AddUAV(ctx context.Context, uavID string, subsystems []string) (UAVInfo, error) {
	if uavID == "" {
		return UAVInfo{}, &telemetry.ValidationError{Field: "uav_id", Reason: "must not be empty"}
	}
	if len(subsystems) == 0 {
		subsystems = m.cfg.Subsystems
	}

	agents := make(map[string]*agent.Agent, len(subsystems))
	for _, sub := range subsystems {
		a, err := agent.New(uavID, sub, m.cfg.TelemetryPeriod, m.bus)
		if err != nil {
			return UAVInfo{}, err
		}
		agents[sub] = a
	}

	m.mu.Lock()
	if _, dup := m.agents[uavID]; dup {
		m.mu.Unlock()
		return UAVInfo{}, &telemetry.ConflictError{Resource: "uav " + uavID}
	}
	m.agents[uavID] = agents
	m.mu.Unlock()

	// Agents run under the manager's context, not the caller's: an AddUAV
	// issued from a request handler must outlive the request.
	m.runMu.Lock()
	if m.running {
		for _, a := range agents {
			a.Start(m.runCtx)
		}
	}
	m.runMu.Unlock()

	logging.FromContext(ctx).Info("uav added", "uav_id", uavID, "subsystems", len(agents))
	return m.info(uavID, agents), nil
}

// RemoveUAV stops and deregisters a UAV's agents and clears its faults.
// Removing an unknown UAV is a no-op.
func (m *Manager) RemoveUAV(ctx context.Context, uavID string) bool {
	m.mu.Lock()
	agents, ok := m.agents[uavID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.agents, uavID)
	m.mu.Unlock()

	for sub, a := range agents {
		a.Stop()
		if f := a.ActiveFault(); f != nil {
			// Ignore NotFound: the sweeper may have expired it concurrently.
			_ = m.faults.Clear(uavID, sub, f.FaultType)
		}
	}
	logging.FromContext(ctx).Info("uav removed", "uav_id", uavID)
	return true
}

// Roster lists registered UAVs sorted by ID.
func (m *Manager) Roster() []UAVInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UAVInfo, 0, len(m.agents))
	for id, agents := range m.agents {
		out = append(out, m.info(id, agents))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UAVID < out[b].UAVID })
	return out
}

func (m *Manager) info(uavID string, agents map[string]*agent.Agent) UAVInfo {
	subs := make([]string, 0, len(agents))
	for sub := range agents {
		subs = append(subs, sub)
	}
	sort.Strings(subs)
	return UAVInfo{UAVID: uavID, Subsystems: subs}
}

// Start launches the pipeline consumer, the fault manager loop, and every
// registered agent. Starting a running manager is a no-op; starting after a
// Stop resumes production on the same fleet.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.pipeDone = make(chan struct{})
	m.bgDone = make(chan struct{})

	sub := m.bus.Subscribe(pipelineSubscriber)
	go m.consume(runCtx, sub, m.pipeDone)
	go func(done chan struct{}) {
		defer close(done)
		m.faults.Run(runCtx)
	}(m.bgDone)

	m.mu.Lock()
	for _, agents := range m.agents {
		for _, a := range agents {
			a.Start(runCtx)
		}
	}
	m.mu.Unlock()

	logging.FromContext(ctx).Info("fleet manager started",
		"period", m.cfg.TelemetryPeriod, "bus_buffer", m.cfg.BusBuffer)
}

// Stop halts agents first, then cancels the pipeline subscription so the
// consumer drains every sample published before the stop. Stop is idempotent
// and returns once the pipeline has exited. The bus stays open, so a later
// Start resumes the fleet with agents, faults, and windows intact.
func (m *Manager) Stop(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	cancel := m.cancel
	pipeDone := m.pipeDone
	bgDone := m.bgDone

	m.mu.Lock()
	var agents []*agent.Agent
	for _, bySub := range m.agents {
		for _, a := range bySub {
			agents = append(agents, a)
		}
	}
	m.mu.Unlock()
	for _, a := range agents {
		a.Stop()
	}

	m.bus.Unsubscribe(pipelineSubscriber)
	<-pipeDone
	cancel()
	<-bgDone

	logging.FromContext(ctx).Info("fleet manager stopped")
}

// consume is the pipeline: every published sample is scored, annotated, and
// forwarded to the sink. It exits when the bus closes its channel.
func (m *Manager) consume(ctx context.Context, sub *bus.Subscription, done chan<- struct{}) {
	defer close(done)
	log := logging.FromContext(ctx)
	for sample := range sub.C() {
		res := m.detector.ProcessTelemetry(sample)

		m.resMu.Lock()
		m.latest[sample.Key()] = res
		m.resMu.Unlock()

		if m.out != nil {
			score := res.AnomalyScore
			sample.AnomalyScore = &score
			if err := m.out.Write(sample); err != nil {
				m.resMu.Lock()
				m.sinkDrops++
				m.resMu.Unlock()
				log.Warn("sink write failed", "key", sample.Key(), "err", err)
			}
		}
	}
}

// onAnomaly converts a detection into an alert.
func (m *Manager) onAnomaly(res telemetry.DetectionResult) {
	m.raiseAlert(telemetry.NewAlert(res.UAVID, res.Subsystem, anomalySeverity(res.AnomalyScore),
		"anomaly detected", map[string]any{
			"anomaly_score": res.AnomalyScore,
			"confidence":    res.Confidence,
			"algorithm":     res.Algorithm,
		}))
}

// anomalySeverity grades an anomaly score into an alert severity.
func anomalySeverity(score float64) telemetry.Severity {
	switch {
	case score >= 0.95:
		return telemetry.SeverityCritical
	case score >= 0.9:
		return telemetry.SeverityHigh
	default:
		return telemetry.SeverityMedium
	}
}

// raiseAlert appends to the alert log and notifies observers.
func (m *Manager) raiseAlert(alert telemetry.Alert) {
	m.alertMu.Lock()
	cp := alert
	m.alerts = append(m.alerts, &cp)
	fns := append([]AlertFunc(nil), m.alertFns...)
	m.alertMu.Unlock()
	for _, fn := range fns {
		fn(alert)
	}
}

// OnAlert registers an observer for future alerts.
func (m *Manager) OnAlert(fn AlertFunc) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	m.alertFns = append(m.alertFns, fn)
}

// Alerts returns the alert log, newest last. Alerts are never deleted.
func (m *Manager) Alerts() []telemetry.Alert {
	m.alertMu.RLock()
	defer m.alertMu.RUnlock()
	out := make([]telemetry.Alert, len(m.alerts))
	for i, a := range m.alerts {
		out[i] = *a
	}
	return out
}

// AcknowledgeAlert marks an alert acknowledged.
func (m *Manager) AcknowledgeAlert(id string) error {
	return m.updateAlert(id, func(a *telemetry.Alert) { a.Acknowledged = true })
}

// ResolveAlert marks an alert resolved.
func (m *Manager) ResolveAlert(id string) error {
	return m.updateAlert(id, func(a *telemetry.Alert) { a.Resolved = true })
}

func (m *Manager) updateAlert(id string, apply func(*telemetry.Alert)) error {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			apply(a)
			return nil
		}
	}
	return &telemetry.NotFoundError{Resource: "alert " + id}
}

// InjectFault activates a fault on one stream.
func (m *Manager) InjectFault(uavID, subsystem string, params fault.InjectParams) (telemetry.FaultInstance, error) {
	return m.faults.Inject(uavID, subsystem, params)
}

// ClearFault deactivates one fault.
func (m *Manager) ClearFault(uavID, subsystem, faultType string) error {
	return m.faults.Clear(uavID, subsystem, faultType)
}

// ClearAllFaults deactivates every active fault and reports how many.
func (m *Manager) ClearAllFaults() int {
	return m.faults.ClearAll()
}

// ActiveFaults lists active fault instances.
func (m *Manager) ActiveFaults() []telemetry.FaultInstance {
	return m.faults.Active()
}

// FaultScenarios lists the configured scenario catalog.
func (m *Manager) FaultScenarios() []telemetry.FaultScenario {
	return m.faults.Scenarios()
}

// LatestResults returns the most recent detection result per stream.
func (m *Manager) LatestResults() []telemetry.DetectionResult {
	m.resMu.RLock()
	defer m.resMu.RUnlock()
	out := make([]telemetry.DetectionResult, 0, len(m.latest))
	for _, res := range m.latest {
		out = append(out, res)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].UAVID != out[b].UAVID {
			return out[a].UAVID < out[b].UAVID
		}
		return out[a].Subsystem < out[b].Subsystem
	})
	return out
}

// ResultFor returns the latest detection result for one stream.
func (m *Manager) ResultFor(uavID, subsystem string) (telemetry.DetectionResult, bool) {
	m.resMu.RLock()
	defer m.resMu.RUnlock()
	res, ok := m.latest[uavID+"/"+subsystem]
	return res, ok
}

// RegisterAnomalyCallback forwards to the detector.
func (m *Manager) RegisterAnomalyCallback(cb anomaly.Callback) {
	m.detector.RegisterAnomalyCallback(cb)
}

// UpdateDetectorConfig forwards to the detector.
func (m *Manager) UpdateDetectorConfig(u anomaly.ConfigUpdate) error {
	return m.detector.UpdateConfiguration(u)
}

// RecordFeedback forwards operator feedback to the detector.
func (m *Manager) RecordFeedback(falsePositive bool) {
	m.detector.RecordFeedback(falsePositive)
}

// Statistics aggregates counters across the pipeline.
func (m *Manager) Statistics() Statistics {
	m.runMu.Lock()
	running := m.running
	started := m.startedAt
	m.runMu.Unlock()

	uptime := 0.0
	if running {
		uptime = time.Since(started).Seconds()
	}

	m.mu.Lock()
	uavs := len(m.agents)
	agents := 0
	for _, bySub := range m.agents {
		agents += len(bySub)
	}
	m.mu.Unlock()

	m.resMu.RLock()
	drops := m.sinkDrops
	m.resMu.RUnlock()

	m.alertMu.RLock()
	alerts := len(m.alerts)
	m.alertMu.RUnlock()

	return Statistics{
		Running:       running,
		UptimeSeconds: uptime,
		UAVs:          uavs,
		Agents:        agents,
		Detector:      m.detector.Statistics(),
		Faults:        m.faults.Statistics(),
		Alerts:        alerts,
		SinkDrops:     drops,
	}
}
