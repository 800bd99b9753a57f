// Per-subsystem telemetry agents driven by a fixed-period tick
package agent

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"uavsim/internal/bus"
	"uavsim/internal/logging"
	"uavsim/internal/telemetry"
)

// DefaultPeriod is the sampling period used when configuration gives none.
const DefaultPeriod = 100 * time.Millisecond

// Agent produces telemetry for one (UAV, subsystem) stream. Each agent runs
// its own goroutine so a stall in one agent never delays another's tick.
type Agent struct {
	uavID     string
	subsystem string
	period    time.Duration
	gen       telemetry.Generator
	rng       *rand.Rand
	bus       *bus.Bus

	mu    sync.Mutex
	fault *telemetry.FaultInstance

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool

	now func() time.Time
}

// New creates an agent for the given stream. It fails with a ValidationError
// when the subsystem has no generator variant.
func New(uavID, subsystem string, period time.Duration, b *bus.Bus) (*Agent, error) {
	if uavID == "" {
		return nil, &telemetry.ValidationError{Field: "uav_id", Reason: "must not be empty"}
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	gen, err := telemetry.NewGenerator(subsystem, rng)
	if err != nil {
		return nil, err
	}
	return &Agent{
		uavID:     uavID,
		subsystem: subsystem,
		period:    period,
		gen:       gen,
		rng:       rng,
		bus:       b,
		now:       time.Now,
	}, nil
}

// UAVID returns the owning UAV identifier.
func (a *Agent) UAVID() string { return a.uavID }

// Subsystem returns the subsystem this agent simulates.
func (a *Agent) Subsystem() string { return a.subsystem }

// Period returns the sampling period.
func (a *Agent) Period() time.Duration { return a.period }

// Start begins the tick loop. Starting a running agent is a no-op.
func (a *Agent) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(ctx, a.stop, a.done)
}

// Stop halts the tick loop and waits until the goroutine has exited, so no
// sample is published after Stop returns. Stop is idempotent.
func (a *Agent) Stop() {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return
	}
	a.running = false
	close(a.stop)
	done := a.done
	a.runMu.Unlock()
	<-done
}

func (a *Agent) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logging.FromContext(ctx)
	ticker := time.NewTicker(a.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.tick()
		case <-stop:
			return
		case <-ctx.Done():
			log.Debug("agent cancelled", "uav_id", a.uavID, "subsystem", a.subsystem)
			return
		}
	}
}

// tick generates one sample, applies any attached fault, and publishes.
func (a *Agent) tick() {
	payload, status := a.gen.Step()
	sample := telemetry.Data{
		Timestamp: a.now().UTC(),
		UAVID:     a.uavID,
		Subsystem: a.subsystem,
		Payload:   payload,
		Status:    status,
	}

	// The fault is read and applied under the lock: a tick observes an
	// injected fault either in full or not at all.
	a.mu.Lock()
	if a.fault != nil {
		if !telemetry.ApplyFault(&sample, *a.fault, a.rng) {
			a.mu.Unlock()
			return
		}
	}
	a.mu.Unlock()

	a.bus.Publish(sample)
}

// SetFault attaches a fault instance; it replaces any previous one.
func (a *Agent) SetFault(f telemetry.FaultInstance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := f
	a.fault = &cp
}

// ClearFault detaches the active fault, if any.
func (a *Agent) ClearFault() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fault = nil
}

// ActiveFault returns a copy of the attached fault, or nil.
func (a *Agent) ActiveFault() *telemetry.FaultInstance {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault == nil {
		return nil
	}
	cp := *a.fault
	return &cp
}
