package anomaly

import (
	"math"
	"sync"
	"testing"
	"time"

	"uavsim/internal/telemetry"
)

func powerSample(voltage, current, soc float64) telemetry.Data {
	return telemetry.Data{
		Timestamp: time.Now().UTC(),
		UAVID:     "UAV_001",
		Subsystem: telemetry.SubsystemPower,
		Payload: map[string]float64{
			"battery_voltage": voltage,
			"battery_current": current,
			"state_of_charge": soc,
		},
		Status: telemetry.StatusNominal,
	}
}

// feedBaseline pushes n nearly identical samples with a little noise.
func feedBaseline(d *Detector, n int) telemetry.DetectionResult {
	var last telemetry.DetectionResult
	for i := 0; i < n; i++ {
		jitter := float64(i%5) * 0.01
		last = d.ProcessTelemetry(powerSample(12.5+jitter, 8.4+jitter, 90-jitter))
	}
	return last
}

func TestColdStartSuppression(t *testing.T) {
	d := New(Config{MinSamples: 10}, nil)
	for i := 0; i < 9; i++ {
		// Wildly varying values, still inside the cold-start window.
		res := d.ProcessTelemetry(powerSample(float64(i)*100, float64(-i)*50, float64(i*i)))
		if res.IsAnomaly {
			t.Fatalf("sample %d flagged during cold start", i)
		}
		if res.Confidence >= 1 {
			t.Errorf("cold-start confidence should be reduced, got %f", res.Confidence)
		}
	}
}

func TestOutlierScoresAboveBaseline(t *testing.T) {
	d := New(Config{WindowSize: 5, MinSamples: 5, Threshold: 0.8}, nil)
	baseline := feedBaseline(d, 5)
	outlier := d.ProcessTelemetry(powerSample(125.0, 8.4, 90)) // 10x voltage
	if outlier.AnomalyScore <= baseline.AnomalyScore {
		t.Errorf("outlier score %f not above baseline score %f",
			outlier.AnomalyScore, baseline.AnomalyScore)
	}
}

func TestBaselineNotFlagged(t *testing.T) {
	d := New(DefaultConfig(), nil)
	res := feedBaseline(d, 60)
	if res.IsAnomaly {
		t.Errorf("steady baseline flagged anomalous (score %f)", res.AnomalyScore)
	}
}

func TestThresholdUpdateAppliesToNextSample(t *testing.T) {
	// Fused scores are strictly below 1, so threshold 1 never flags.
	d := New(Config{WindowSize: 20, MinSamples: 5, Threshold: 1.0}, nil)
	feedBaseline(d, 20)
	before := d.ProcessTelemetry(powerSample(125.0, 200.0, 5.0))
	if before.IsAnomaly {
		t.Fatalf("score %f unexpectedly cleared threshold 1.0", before.AnomalyScore)
	}

	th := 0.1
	if err := d.UpdateConfiguration(ConfigUpdate{Threshold: &th}); err != nil {
		t.Fatalf("UpdateConfiguration: %v", err)
	}
	if got := d.Statistics().Threshold; got != 0.1 {
		t.Errorf("Statistics threshold = %f, want 0.1", got)
	}
	// Past results are untouched; the new threshold binds the next sample.
	if before.IsAnomaly {
		t.Error("past result mutated by configuration update")
	}
	after := d.ProcessTelemetry(powerSample(125.0, 200.0, 5.0))
	if !after.IsAnomaly {
		t.Errorf("score %f should exceed threshold 0.1", after.AnomalyScore)
	}
}

func TestUpdateConfigurationValidation(t *testing.T) {
	d := New(DefaultConfig(), nil)
	bad := 1.5
	if err := d.UpdateConfiguration(ConfigUpdate{Threshold: &bad}); err == nil {
		t.Error("expected validation error for threshold 1.5")
	}
	size := 1
	if err := d.UpdateConfiguration(ConfigUpdate{WindowSize: &size}); err == nil {
		t.Error("expected validation error for window_size 1")
	}
	w := Weights{Robust: -1, Boundary: 1, Density: 1}
	if err := d.UpdateConfiguration(ConfigUpdate{Weights: &w}); err == nil {
		t.Error("expected validation error for negative weight")
	}
	// Threshold must be unchanged after rejected updates.
	if got := d.Statistics().Threshold; got != DefaultConfig().Threshold {
		t.Errorf("threshold changed by rejected update: %f", got)
	}
}

func TestWindowResizeKeepsNewestSamples(t *testing.T) {
	w := newWindow([]string{"a"}, 10)
	for i := 0; i < 10; i++ {
		w.push([]float64{float64(i)})
	}
	w.resize(4)
	got := w.snapshot()
	if len(got) != 4 {
		t.Fatalf("expected 4 kept vectors, got %d", len(got))
	}
	for i, vec := range got {
		if vec[0] != float64(6+i) {
			t.Errorf("kept[%d] = %v, want %d", i, vec[0], 6+i)
		}
	}
	// Growing keeps everything.
	w.resize(8)
	if len(w.snapshot()) != 4 {
		t.Errorf("grow lost samples: %d", len(w.snapshot()))
	}
}

func TestDegenerateWindowDegradesGracefully(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 5}, nil)
	var res telemetry.DetectionResult
	for i := 0; i < 15; i++ {
		// Identical samples: boundary and density scorers cannot fit.
		res = d.ProcessTelemetry(powerSample(12.5, 8.4, 90))
	}
	if res.IsAnomaly {
		t.Error("identical samples flagged anomalous")
	}
	if res.Confidence >= 1 {
		t.Errorf("confidence should reflect skipped scorers, got %f", res.Confidence)
	}
}

func TestMalformedPayloadReducesConfidence(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 5}, nil)
	feedBaseline(d, 10)
	clean := d.ProcessTelemetry(powerSample(12.5, 8.4, 90))

	bad := powerSample(math.NaN(), 8.4, 90)
	res := d.ProcessTelemetry(bad)
	if res.Confidence >= clean.Confidence {
		t.Errorf("NaN payload should reduce confidence: %f >= %f", res.Confidence, clean.Confidence)
	}
	// The NaN feature falls back to the last-known value.
	if math.IsNaN(res.Features["battery_voltage"]) {
		t.Error("NaN leaked into result features")
	}
}

func TestAnomalyCallbackInvokedAndPanicsRecovered(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 5, Threshold: 0.1}, nil)
	var mu sync.Mutex
	var seen []telemetry.DetectionResult
	d.RegisterAnomalyCallback(func(telemetry.DetectionResult) { panic("boom") })
	d.RegisterAnomalyCallback(func(r telemetry.DetectionResult) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	})

	feedBaseline(d, 20)
	res := d.ProcessTelemetry(powerSample(500, 300, 0))
	if !res.IsAnomaly {
		t.Fatalf("expected anomaly, score %f", res.AnomalyScore)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].UAVID != "UAV_001" {
		t.Errorf("callback after a panicking one was not invoked: %+v", seen)
	}
}

func TestAdaptiveFeedbackShiftsEffectiveThreshold(t *testing.T) {
	d := New(Config{WindowSize: 20, MinSamples: 5, Threshold: 0.5, Adaptive: true}, nil)
	feedBaseline(d, 20)

	probe := func() bool { return d.ProcessTelemetry(powerSample(40, 30, 40)).IsAnomaly }
	base := probe()

	// Pile on false-positive feedback; the effective threshold rises.
	for i := 0; i < 20; i++ {
		d.RecordFeedback(true)
	}
	_, offset := d.config()
	if offset != maxOffset {
		t.Errorf("offset should clamp at %f, got %f", maxOffset, offset)
	}
	if base {
		// A borderline sample that flagged before may no longer flag.
		raised := probe()
		_ = raised // direction asserted via offset clamp above
	}
	for i := 0; i < 100; i++ {
		d.RecordFeedback(false)
	}
	if _, offset := d.config(); offset != -maxOffset {
		t.Errorf("offset should clamp at %f, got %f", -maxOffset, offset)
	}
}

func TestStatisticsPerSubsystem(t *testing.T) {
	d := New(Config{WindowSize: 10, MinSamples: 3, Threshold: 0.99}, nil)
	feedBaseline(d, 8)
	stats := d.Statistics()
	if stats.Processed != 8 {
		t.Errorf("processed = %d, want 8", stats.Processed)
	}
	sub, ok := stats.PerSubsystem[telemetry.SubsystemPower]
	if !ok || sub.Processed != 8 {
		t.Errorf("per-subsystem stats missing or wrong: %+v", stats.PerSubsystem)
	}
	if stats.Windows != 1 {
		t.Errorf("windows = %d, want 1", stats.Windows)
	}
}

func TestConcurrentKeysProceedIndependently(t *testing.T) {
	d := New(Config{WindowSize: 50, MinSamples: 5}, nil)
	var wg sync.WaitGroup
	for _, uav := range []string{"UAV_001", "UAV_002", "UAV_003", "UAV_004"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := powerSample(12.5, 8.4, 90)
				s.UAVID = id
				d.ProcessTelemetry(s)
			}
		}(uav)
	}
	wg.Wait()
	if got := d.Statistics().Processed; got != 800 {
		t.Errorf("processed = %d, want 800", got)
	}
}
