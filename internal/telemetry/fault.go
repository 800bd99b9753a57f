// Fault transforms applied to nominal telemetry before publication
package telemetry

import (
	"math/rand"
	"strings"
)

// Fault type identifiers understood by ApplyFault.
const (
	FaultBatteryFailure  = "battery_failure"
	FaultVoltageDrop     = "voltage_drop"
	FaultGPSDrift        = "gps_drift"
	FaultSignalLoss      = "signal_loss"
	FaultMotorFailure    = "motor_failure"
	FaultThrustReduction = "thrust_reduction"
	FaultSensorFailure   = "sensor_failure"
	FaultThermalRunaway  = "thermal_runaway"
	FaultDropout         = "dropout"
)

// KnownFaultType reports whether t names a supported fault transform.
func KnownFaultType(t string) bool {
	switch t {
	case FaultBatteryFailure, FaultVoltageDrop, FaultGPSDrift, FaultSignalLoss,
		FaultMotorFailure, FaultThrustReduction, FaultSensorFailure,
		FaultThermalRunaway, FaultDropout:
		return true
	}
	return false
}

// FaultSeverity maps a fault type to its alert severity.
func FaultSeverity(faultType string) Severity {
	switch faultType {
	case FaultBatteryFailure, FaultMotorFailure, FaultThermalRunaway:
		return SeverityCritical
	case FaultSignalLoss, FaultThrustReduction:
		return SeverityHigh
	case FaultGPSDrift, FaultSensorFailure, FaultVoltageDrop:
		return SeverityMedium
	default:
		return SeverityMedium
	}
}

// ApplyFault rewrites the sample payload in place according to the fault type
// and returns false when the sample should be suppressed entirely. The sample
// is still owned by the producing agent at this point, so in-place mutation is
// safe; it becomes immutable on publish.
func ApplyFault(sample *Data, f FaultInstance, rng *rand.Rand) bool {
	p := f.Parameters
	switch f.FaultType {
	case FaultBatteryFailure:
		zeroKeys(sample.Payload, "battery_voltage", "battery_current", "state_of_charge", "power_draw")
		sample.Status = StatusOffline

	case FaultVoltageDrop:
		factor := 1 - param(p, "drop_factor", 0.3)
		scaleKeys(sample.Payload, factor, "battery_voltage", "state_of_charge")
		sample.Status = worst(sample.Status, StatusDegraded)

	case FaultGPSDrift:
		drift := param(p, "drift_deg", 0.005)
		addKey(sample.Payload, "latitude", (rng.Float64()*2-1)*drift)
		addKey(sample.Payload, "longitude", (rng.Float64()*2-1)*drift)
		if v, ok := sample.Payload["gps_accuracy"]; ok {
			sample.Payload["gps_accuracy"] = v + param(p, "accuracy_penalty", 10)
		}
		sample.Status = worst(sample.Status, StatusDegraded)

	case FaultSignalLoss:
		if _, ok := sample.Payload["rssi"]; ok {
			sample.Payload["rssi"] = -110
		}
		if _, ok := sample.Payload["packet_loss"]; ok {
			sample.Payload["packet_loss"] = 100
		}
		zeroKeys(sample.Payload, "snr", "bandwidth_mbps")
		sample.Status = StatusCritical

	case FaultMotorFailure:
		scaleKeys(sample.Payload, 0.25, "motor_rpm_avg", "total_thrust")
		addKey(sample.Payload, "vibration", 1.5)
		sample.Status = StatusCritical

	case FaultThrustReduction:
		factor := 1 - param(p, "reduction", 0.4)
		scaleKeys(sample.Payload, factor, "total_thrust")
		sample.Status = worst(sample.Status, StatusDegraded)

	case FaultSensorFailure:
		noise := param(p, "noise", 5)
		for k := range sample.Payload {
			sample.Payload[k] += (rng.Float64()*2 - 1) * noise
		}
		sample.Status = worst(sample.Status, StatusDegraded)

	case FaultThermalRunaway:
		for k := range sample.Payload {
			if strings.Contains(k, "temp") {
				sample.Payload[k] = param(p, "temperature", 85)
			}
		}
		sample.Status = StatusCritical

	case FaultDropout:
		if rng.Float64() < param(p, "drop_rate", 0.5) {
			return false
		}
	}
	return true
}

func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func zeroKeys(payload map[string]float64, keys ...string) {
	for _, k := range keys {
		if _, ok := payload[k]; ok {
			payload[k] = 0
		}
	}
}

func scaleKeys(payload map[string]float64, factor float64, keys ...string) {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			payload[k] = v * factor
		}
	}
}

func addKey(payload map[string]float64, key string, delta float64) {
	if v, ok := payload[key]; ok {
		payload[key] = v + delta
	}
}

// worst keeps the more severe of two statuses.
func worst(a, b Status) Status {
	rank := map[Status]int{StatusNominal: 0, StatusDegraded: 1, StatusCritical: 2, StatusOffline: 3}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
