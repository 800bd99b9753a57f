// YAML config loader with CUE validation integration
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"uavsim/internal/telemetry"
)

// SimulationConfig sizes the fleet and its sampling cadence.
type SimulationConfig struct {
	UAVCount          int      `yaml:"uav_count"`
	UAVPrefix         string   `yaml:"uav_prefix"`
	Subsystems        []string `yaml:"subsystems"`
	TelemetryPeriodMS int      `yaml:"telemetry_period_ms"`
}

// BusConfig controls the in-process telemetry bus.
type BusConfig struct {
	Policy string `yaml:"policy"` // drop_oldest or block
	Buffer int    `yaml:"buffer"`
}

// WeightsConfig are the ensemble scorer weights.
type WeightsConfig struct {
	Robust   float64 `yaml:"robust"`
	Boundary float64 `yaml:"boundary"`
	Density  float64 `yaml:"density"`
}

// DetectorConfig controls the anomaly detector.
type DetectorConfig struct {
	Threshold  float64        `yaml:"threshold"`
	WindowSize int            `yaml:"window_size"`
	MinSamples int            `yaml:"min_samples"`
	Adaptive   bool           `yaml:"adaptive"`
	Weights    *WeightsConfig `yaml:"weights,omitempty"`
}

// Scenario is one fault scenario template. Durations are expressed in
// seconds to keep the YAML plain.
type Scenario struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	Subsystem    string             `yaml:"subsystem"`
	FaultType    string             `yaml:"fault_type"`
	Probability  float64            `yaml:"probability"`
	DurationSecs float64            `yaml:"duration_secs"`
	Severity     string             `yaml:"severity"`
	Parameters   map[string]float64 `yaml:"parameters,omitempty"`
	Enabled      bool               `yaml:"enabled"`
}

// FaultsConfig controls the fault manager.
type FaultsConfig struct {
	MaxConcurrent    int        `yaml:"max_concurrent"`
	AutoInject       bool       `yaml:"auto_inject"`
	EvalIntervalSecs float64    `yaml:"eval_interval_secs"`
	Scenarios        []Scenario `yaml:"scenarios"`
}

// MetricsConfig controls the resource collector.
type MetricsConfig struct {
	IntervalSecs float64 `yaml:"interval_secs"`
	Retention    int     `yaml:"retention"`
}

// AdminConfig controls the HTTP control plane.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FileSinkConfig enables the JSONL file sink.
type FileSinkConfig struct {
	TelemetryPath string `yaml:"telemetry_path"`
	ResultsPath   string `yaml:"results_path"`
}

// GreptimeSinkConfig enables the GreptimeDB sink.
type GreptimeSinkConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// RedisSinkConfig enables the Redis latest-state cache.
type RedisSinkConfig struct {
	Addr string `yaml:"addr"`
}

// SinksConfig selects telemetry sinks. All enabled sinks receive every
// sample.
type SinksConfig struct {
	Stdout   bool                `yaml:"stdout"`
	File     *FileSinkConfig     `yaml:"file,omitempty"`
	Greptime *GreptimeSinkConfig `yaml:"greptime,omitempty"`
	Redis    *RedisSinkConfig    `yaml:"redis,omitempty"`
}

// Config is the root configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Bus        BusConfig        `yaml:"bus"`
	Detector   DetectorConfig   `yaml:"detector"`
	Faults     FaultsConfig     `yaml:"faults"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Admin      AdminConfig      `yaml:"admin"`
	Logging    LoggingConfig    `yaml:"logging"`
	Sinks      SinksConfig      `yaml:"sinks"`
}

// Load reads YAML config, validates it against a CUE schema when a schema
// path is given, and fills defaults.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	if cueSchemaPath != "" {
		if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Simulation.UAVCount <= 0 {
		c.Simulation.UAVCount = 3
	}
	if c.Simulation.UAVPrefix == "" {
		c.Simulation.UAVPrefix = "UAV_"
	}
	if len(c.Simulation.Subsystems) == 0 {
		c.Simulation.Subsystems = telemetry.StandardSubsystems()
	}
	if c.Simulation.TelemetryPeriodMS <= 0 {
		c.Simulation.TelemetryPeriodMS = 100
	}
	if c.Bus.Policy == "" {
		c.Bus.Policy = "drop_oldest"
	}
	if c.Bus.Buffer <= 0 {
		c.Bus.Buffer = 256
	}
	if c.Faults.MaxConcurrent <= 0 {
		c.Faults.MaxConcurrent = 3
	}
	if c.Faults.EvalIntervalSecs <= 0 {
		c.Faults.EvalIntervalSecs = 1
	}
	if c.Metrics.IntervalSecs <= 0 {
		c.Metrics.IntervalSecs = 5
	}
	if c.Metrics.Retention <= 0 {
		c.Metrics.Retention = 120
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8080"
	}
}

// TelemetryPeriod returns the sampling period as a duration.
func (c *Config) TelemetryPeriod() time.Duration {
	return time.Duration(c.Simulation.TelemetryPeriodMS) * time.Millisecond
}

// EvalInterval returns the fault evaluation interval as a duration.
func (c *Config) EvalInterval() time.Duration {
	return time.Duration(c.Faults.EvalIntervalSecs * float64(time.Second))
}

// MetricsInterval returns the resource sampling interval as a duration.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Metrics.IntervalSecs * float64(time.Second))
}

// FaultScenarios converts the configured scenarios into runtime templates.
func (c *Config) FaultScenarios() []telemetry.FaultScenario {
	out := make([]telemetry.FaultScenario, len(c.Faults.Scenarios))
	for i, sc := range c.Faults.Scenarios {
		out[i] = telemetry.FaultScenario{
			ID:          sc.ID,
			Name:        sc.Name,
			Subsystem:   sc.Subsystem,
			FaultType:   sc.FaultType,
			Probability: sc.Probability,
			Duration:    time.Duration(sc.DurationSecs * float64(time.Second)),
			Severity:    telemetry.Severity(sc.Severity),
			Parameters:  sc.Parameters,
			Enabled:     sc.Enabled,
		}
	}
	return out
}
