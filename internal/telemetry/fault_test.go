package telemetry

import (
	"math/rand"
	"testing"
	"time"
)

func sampleFor(subsystem string, payload map[string]float64) *Data {
	return &Data{
		Timestamp: time.Now().UTC(),
		UAVID:     "UAV_001",
		Subsystem: subsystem,
		Payload:   payload,
		Status:    StatusNominal,
	}
}

func TestApplyFaultBatteryFailure(t *testing.T) {
	sample := sampleFor(SubsystemPower, map[string]float64{
		"battery_voltage": 12.4,
		"state_of_charge": 80,
		"power_draw":      100,
	})
	f := FaultInstance{FaultType: FaultBatteryFailure}
	if !ApplyFault(sample, f, rand.New(rand.NewSource(1))) {
		t.Fatal("battery failure should not suppress the sample")
	}
	if sample.Payload["battery_voltage"] != 0 || sample.Payload["state_of_charge"] != 0 {
		t.Errorf("expected zeroed battery fields, got %+v", sample.Payload)
	}
	if sample.Status != StatusOffline {
		t.Errorf("expected offline status, got %s", sample.Status)
	}
}

func TestApplyFaultVoltageDrop(t *testing.T) {
	sample := sampleFor(SubsystemPower, map[string]float64{"battery_voltage": 10.0})
	f := FaultInstance{FaultType: FaultVoltageDrop, Parameters: map[string]float64{"drop_factor": 0.5}}
	ApplyFault(sample, f, rand.New(rand.NewSource(1)))
	if sample.Payload["battery_voltage"] != 5.0 {
		t.Errorf("expected voltage 5.0, got %f", sample.Payload["battery_voltage"])
	}
	if sample.Status != StatusDegraded {
		t.Errorf("expected degraded status, got %s", sample.Status)
	}
}

func TestApplyFaultGPSDriftShiftsPosition(t *testing.T) {
	sample := sampleFor(SubsystemNavigation, map[string]float64{
		"latitude":     34.05,
		"longitude":    -118.24,
		"gps_accuracy": 2,
	})
	f := FaultInstance{FaultType: FaultGPSDrift, Parameters: map[string]float64{"drift_deg": 0.1}}
	ApplyFault(sample, f, rand.New(rand.NewSource(3)))
	if sample.Payload["latitude"] == 34.05 && sample.Payload["longitude"] == -118.24 {
		t.Error("expected position drift")
	}
	if sample.Payload["gps_accuracy"] <= 2 {
		t.Errorf("expected accuracy penalty, got %f", sample.Payload["gps_accuracy"])
	}
}

func TestApplyFaultDropoutSuppresses(t *testing.T) {
	f := FaultInstance{FaultType: FaultDropout, Parameters: map[string]float64{"drop_rate": 1.0}}
	sample := sampleFor(SubsystemCommunication, map[string]float64{"rssi": -60})
	if ApplyFault(sample, f, rand.New(rand.NewSource(1))) {
		t.Error("drop_rate=1 should always suppress the sample")
	}
}

func TestFaultSeverityMapping(t *testing.T) {
	cases := map[string]Severity{
		FaultBatteryFailure:  SeverityCritical,
		FaultMotorFailure:    SeverityCritical,
		FaultSignalLoss:      SeverityHigh,
		FaultGPSDrift:        SeverityMedium,
		"something_else":     SeverityMedium,
	}
	for faultType, want := range cases {
		if got := FaultSeverity(faultType); got != want {
			t.Errorf("FaultSeverity(%s)=%s, want %s", faultType, got, want)
		}
	}
}
