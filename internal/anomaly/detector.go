// Streaming ensemble anomaly detection over per-stream sliding windows
package anomaly

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"uavsim/internal/telemetry"
)

// Algorithm names the scoring scheme reported in detection results.
const Algorithm = "ensemble"

// recentResults is how many of the latest outcomes feed the rolling
// detection rate.
const recentResults = 100

var (
	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavsim_detector_processed_total",
		Help: "Telemetry samples scored, per subsystem.",
	}, []string{"subsystem"})
	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uavsim_detector_anomalies_total",
		Help: "Samples flagged anomalous, per subsystem.",
	}, []string{"subsystem"})
)

// Callback receives every anomalous detection result, synchronously with the
// ProcessTelemetry call that produced it.
type Callback func(telemetry.DetectionResult)

// Weights set the contribution of each scorer to the fused score.
type Weights struct {
	Robust   float64 `json:"robust" yaml:"robust"`
	Boundary float64 `json:"boundary" yaml:"boundary"`
	Density  float64 `json:"density" yaml:"density"`
}

func (w Weights) valid() bool {
	return w.Robust >= 0 && w.Boundary >= 0 && w.Density >= 0 &&
		w.Robust+w.Boundary+w.Density > 0
}

// Config is the runtime-adjustable detector configuration.
type Config struct {
	Threshold  float64 `json:"threshold" yaml:"threshold"`
	WindowSize int     `json:"window_size" yaml:"window_size"`
	MinSamples int     `json:"min_samples" yaml:"min_samples"`
	Weights    Weights `json:"weights" yaml:"weights"`
	Adaptive   bool    `json:"adaptive" yaml:"adaptive"`
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:  0.8,
		WindowSize: 100,
		MinSamples: 10,
		Weights:    Weights{Robust: 1, Boundary: 1, Density: 1},
	}
}

// ConfigUpdate is a validated partial update; nil fields are untouched.
type ConfigUpdate struct {
	Threshold  *float64 `json:"threshold,omitempty"`
	WindowSize *int     `json:"window_size,omitempty"`
	MinSamples *int     `json:"min_samples,omitempty"`
	Weights    *Weights `json:"weights,omitempty"`
	Adaptive   *bool    `json:"adaptive,omitempty"`
}

// SubsystemStats counts processed and anomalous samples for one subsystem.
type SubsystemStats struct {
	Processed uint64 `json:"processed"`
	Anomalies uint64 `json:"anomalies"`
}

// Stats is a snapshot of detector counters.
type Stats struct {
	Processed     uint64                    `json:"processed"`
	Anomalies     uint64                    `json:"anomalies"`
	DetectionRate float64                   `json:"detection_rate"`
	Threshold     float64                   `json:"threshold"`
	Windows       int                       `json:"windows"`
	PerSubsystem  map[string]SubsystemStats `json:"per_subsystem"`
}

// Detector scores telemetry streams with a fused scorer ensemble. Calls for
// different stream keys run concurrently; calls for the same key serialize
// on that key's window.
type Detector struct {
	log *slog.Logger

	winMu   sync.RWMutex
	windows map[string]*window

	cfgMu  sync.RWMutex
	cfg    Config
	offset float64 // adaptive threshold shift, clamped to ±maxOffset

	cbMu      sync.RWMutex
	callbacks []Callback

	statMu       sync.Mutex
	processed    uint64
	anomalies    uint64
	perSubsystem map[string]*SubsystemStats
	recent       [recentResults]bool
	recentIdx    int
	recentN      int
}

const maxOffset = 0.1

// New creates a detector with the given configuration; zero-value fields
// fall back to defaults.
func New(cfg Config, log *slog.Logger) *Detector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if !cfg.Weights.valid() {
		cfg.Weights = def.Weights
	}
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		log:          log,
		windows:      make(map[string]*window),
		cfg:          cfg,
		perSubsystem: make(map[string]*SubsystemStats),
	}
}

// ProcessTelemetry scores one sample. It never returns an error: scorer
// failures degrade confidence, malformed payload values are substituted
// with last-known values, and a cold window reports is_anomaly=false.
func (d *Detector) ProcessTelemetry(sample telemetry.Data) telemetry.DetectionResult {
	cfg, offset := d.config()
	w := d.windowFor(sample)

	w.mu.Lock()
	vec, clean := w.extract(sample.Payload)
	history := w.snapshot()
	w.push(vec)
	fill := float64(len(history)+1) / float64(cfg.WindowSize)
	if fill > 1 {
		fill = 1
	}
	features := w.features(vec)
	w.mu.Unlock()

	result := telemetry.DetectionResult{
		Timestamp: sample.Timestamp,
		UAVID:     sample.UAVID,
		Subsystem: sample.Subsystem,
		Features:  features,
		Algorithm: Algorithm,
	}

	if len(history)+1 < cfg.MinSamples {
		// Cold start: never flag, report partial confidence.
		result.Confidence = 0.5 * fill
		d.record(result)
		return result
	}

	score, confidence := d.fuse(cfg, history, vec, sample.Key())
	if !clean {
		confidence *= 0.5
	}
	result.AnomalyScore = score
	result.Confidence = confidence * fill

	threshold := cfg.Threshold
	if cfg.Adaptive {
		threshold = clampThreshold(threshold + offset)
	}
	result.IsAnomaly = score >= threshold

	d.record(result)
	if result.IsAnomaly {
		d.notify(result)
	}
	return result
}

// fuse runs the scorer ensemble, skipping scorers that fail and scaling
// confidence by the surviving fraction.
func (d *Detector) fuse(cfg Config, history [][]float64, vec []float64, key string) (score, confidence float64) {
	type scorer struct {
		name   string
		weight float64
		fn     func([][]float64, []float64) (float64, error)
	}
	scorers := []scorer{
		{"robust", cfg.Weights.Robust, robustDistanceScore},
		{"boundary", cfg.Weights.Boundary, boundaryScore},
		{"density", cfg.Weights.Density, localDensityScore},
	}

	var weighted, weightSum float64
	survived := 0
	for _, s := range scorers {
		if s.weight == 0 {
			survived++ // disabled on purpose, not a failure
			continue
		}
		v, err := s.fn(history, vec)
		if err != nil {
			d.log.Debug("scorer skipped", "scorer", s.name, "key", key, "err", err)
			continue
		}
		weighted += s.weight * v
		weightSum += s.weight
		survived++
	}
	if weightSum == 0 {
		return 0, 0
	}
	return weighted / weightSum, float64(survived) / float64(len(scorers))
}

func (d *Detector) windowFor(sample telemetry.Data) *window {
	key := sample.Key()
	d.winMu.RLock()
	w, ok := d.windows[key]
	d.winMu.RUnlock()
	if ok {
		return w
	}

	d.winMu.Lock()
	defer d.winMu.Unlock()
	if w, ok = d.windows[key]; ok {
		return w
	}
	// Feature order is fixed at window creation from the first sample.
	order := make([]string, 0, len(sample.Payload))
	for k := range sample.Payload {
		order = append(order, k)
	}
	sort.Strings(order)
	d.cfgMu.RLock()
	size := d.cfg.WindowSize
	d.cfgMu.RUnlock()
	w = newWindow(order, size)
	d.windows[key] = w
	return w
}

// RegisterAnomalyCallback adds a listener for anomalous results. Panics in
// callbacks are recovered and logged, never propagated to the caller of
// ProcessTelemetry.
func (d *Detector) RegisterAnomalyCallback(cb Callback) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.callbacks = append(d.callbacks, cb)
}

func (d *Detector) notify(result telemetry.DetectionResult) {
	d.cbMu.RLock()
	cbs := append([]Callback(nil), d.callbacks...)
	d.cbMu.RUnlock()
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("anomaly callback panicked", "err", r)
				}
			}()
			cb(result)
		}()
	}
}

// RecordFeedback adjusts the adaptive threshold offset: false positives push
// the effective threshold up, confirmed anomalies ease it back down.
func (d *Detector) RecordFeedback(falsePositive bool) {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	if falsePositive {
		d.offset += 0.01
	} else {
		d.offset -= 0.005
	}
	if d.offset > maxOffset {
		d.offset = maxOffset
	}
	if d.offset < -maxOffset {
		d.offset = -maxOffset
	}
}

// UpdateConfiguration validates the partial update and applies it
// atomically. A window resize keeps the newest min(old, new) samples.
func (d *Detector) UpdateConfiguration(u ConfigUpdate) error {
	if u.Threshold != nil && (*u.Threshold <= 0 || *u.Threshold > 1) {
		return &telemetry.ValidationError{Field: "threshold", Reason: "must be in (0, 1]"}
	}
	if u.WindowSize != nil && *u.WindowSize < 2 {
		return &telemetry.ValidationError{Field: "window_size", Reason: "must be at least 2"}
	}
	if u.MinSamples != nil && *u.MinSamples < 2 {
		return &telemetry.ValidationError{Field: "min_samples", Reason: "must be at least 2"}
	}
	if u.Weights != nil && !u.Weights.valid() {
		return &telemetry.ValidationError{Field: "weights", Reason: "must be non-negative with a positive sum"}
	}

	d.cfgMu.Lock()
	resize := 0
	if u.Threshold != nil {
		d.cfg.Threshold = *u.Threshold
	}
	if u.MinSamples != nil {
		d.cfg.MinSamples = *u.MinSamples
	}
	if u.Weights != nil {
		d.cfg.Weights = *u.Weights
	}
	if u.Adaptive != nil {
		d.cfg.Adaptive = *u.Adaptive
		if !d.cfg.Adaptive {
			d.offset = 0
		}
	}
	if u.WindowSize != nil && *u.WindowSize != d.cfg.WindowSize {
		d.cfg.WindowSize = *u.WindowSize
		resize = *u.WindowSize
	}
	d.cfgMu.Unlock()

	if resize > 0 {
		d.winMu.RLock()
		defer d.winMu.RUnlock()
		for _, w := range d.windows {
			w.mu.Lock()
			w.resize(resize)
			w.mu.Unlock()
		}
	}
	return nil
}

// Statistics returns a snapshot of detection counters and the rolling
// detection rate over the most recent results.
func (d *Detector) Statistics() Stats {
	cfg, _ := d.config()

	d.statMu.Lock()
	defer d.statMu.Unlock()
	per := make(map[string]SubsystemStats, len(d.perSubsystem))
	for name, s := range d.perSubsystem {
		per[name] = *s
	}
	rate := 0.0
	if d.recentN > 0 {
		flagged := 0
		for i := 0; i < d.recentN; i++ {
			if d.recent[i] {
				flagged++
			}
		}
		rate = float64(flagged) / float64(d.recentN)
	}

	d.winMu.RLock()
	windows := len(d.windows)
	d.winMu.RUnlock()

	return Stats{
		Processed:     d.processed,
		Anomalies:     d.anomalies,
		DetectionRate: rate,
		Threshold:     cfg.Threshold,
		Windows:       windows,
		PerSubsystem:  per,
	}
}

func (d *Detector) record(result telemetry.DetectionResult) {
	processedTotal.WithLabelValues(result.Subsystem).Inc()
	if result.IsAnomaly {
		anomaliesTotal.WithLabelValues(result.Subsystem).Inc()
	}

	d.statMu.Lock()
	defer d.statMu.Unlock()
	d.processed++
	s := d.perSubsystem[result.Subsystem]
	if s == nil {
		s = &SubsystemStats{}
		d.perSubsystem[result.Subsystem] = s
	}
	s.Processed++
	if result.IsAnomaly {
		d.anomalies++
		s.Anomalies++
	}
	d.recent[d.recentIdx] = result.IsAnomaly
	d.recentIdx = (d.recentIdx + 1) % recentResults
	if d.recentN < recentResults {
		d.recentN++
	}
}

func (d *Detector) config() (Config, float64) {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg, d.offset
}

func clampThreshold(t float64) float64 {
	if t < 0.05 {
		return 0.05
	}
	if t > 0.99 {
		return 0.99
	}
	return t
}
