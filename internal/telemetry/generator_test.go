package telemetry

import (
	"errors"
	"math/rand"
	"testing"
)

func TestNewGeneratorStandardSet(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, name := range StandardSubsystems() {
		gen, err := NewGenerator(name, rng)
		if err != nil {
			t.Fatalf("NewGenerator(%s): %v", name, err)
		}
		if gen.Subsystem() != name {
			t.Errorf("expected subsystem %s, got %s", name, gen.Subsystem())
		}
		payload, status := gen.Step()
		if len(payload) == 0 {
			t.Errorf("%s: expected non-empty payload", name)
		}
		if status == "" {
			t.Errorf("%s: expected a status", name)
		}
	}
}

func TestNewGeneratorUnknownSubsystem(t *testing.T) {
	_, err := NewGenerator("Warp_Drive", rand.New(rand.NewSource(1)))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPowerGeneratorDrainsBattery(t *testing.T) {
	gen := newPowerGen(rand.New(rand.NewSource(42)))
	first, _ := gen.Step()
	var last map[string]float64
	for i := 0; i < 100; i++ {
		last, _ = gen.Step()
	}
	if last["state_of_charge"] >= first["state_of_charge"] {
		t.Errorf("expected state of charge to drain: first=%f last=%f",
			first["state_of_charge"], last["state_of_charge"])
	}
}

func TestStandardSubsystemCount(t *testing.T) {
	if got := len(StandardSubsystems()); got != 11 {
		t.Errorf("standard subsystem set = %d, want 11", got)
	}
}

func TestMissionPlanningGeneratorConsumesReserves(t *testing.T) {
	gen := newMissionPlanningGen(rand.New(rand.NewSource(3)))
	first, _ := gen.Step()
	var last map[string]float64
	for i := 0; i < 200; i++ {
		last, _ = gen.Step()
	}
	if last["fuel_remaining"] >= first["fuel_remaining"] {
		t.Errorf("expected fuel to drain: first=%f last=%f",
			first["fuel_remaining"], last["fuel_remaining"])
	}
	if last["battery_remaining"] >= first["battery_remaining"] {
		t.Errorf("expected battery to drain: first=%f last=%f",
			first["battery_remaining"], last["battery_remaining"])
	}
	if last["completion_percent"] < 0 || last["completion_percent"] > 100 {
		t.Errorf("completion out of range: %f", last["completion_percent"])
	}
}

func TestDataStorageGeneratorAccumulatesUsage(t *testing.T) {
	gen := newDataStorageGen(rand.New(rand.NewSource(9)))
	first, _ := gen.Step()
	var last map[string]float64
	for i := 0; i < 200; i++ {
		last, _ = gen.Step()
	}
	if last["usage_percent"] <= first["usage_percent"] {
		t.Errorf("expected usage to grow: first=%f last=%f",
			first["usage_percent"], last["usage_percent"])
	}
}

func TestSafetySystemsGeneratorStaysInBounds(t *testing.T) {
	gen := newSafetySystemsGen(rand.New(rand.NewSource(5)))
	for i := 0; i < 200; i++ {
		payload, _ := gen.Step()
		if payload["safety_margin"] < 10 || payload["safety_margin"] > 100 {
			t.Fatalf("safety margin out of bounds: %f", payload["safety_margin"])
		}
		if payload["detection_range"] < 50 || payload["detection_range"] > 500 {
			t.Fatalf("detection range out of bounds: %f", payload["detection_range"])
		}
	}
}

func TestNavigationGeneratorMoves(t *testing.T) {
	gen := newNavigationGen(rand.New(rand.NewSource(7)))
	before, _ := gen.Step()
	after, _ := gen.Step()
	if before["latitude"] == after["latitude"] && before["longitude"] == after["longitude"] {
		t.Errorf("expected position to change between ticks")
	}
}
