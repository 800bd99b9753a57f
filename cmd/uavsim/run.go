package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"uavsim/internal/admin"
	"uavsim/internal/anomaly"
	"uavsim/internal/bus"
	"uavsim/internal/config"
	"uavsim/internal/fault"
	"uavsim/internal/logging"
	"uavsim/internal/metrics"
	"uavsim/internal/sim"
)

var (
	runConfigPath string
	runSchemaPath string
	runPrintOnly  bool
	runLogFile    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fleet simulation",
	Long:  "run starts the fleet agents, the detection pipeline, the fault manager, and the admin API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}

		log := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: os.Stderr,
		})
		ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), log))
		defer cancel()

		out, cleanup, err := newSinks(cfg, runPrintOnly, runLogFile, log)
		if err != nil {
			return err
		}
		defer cleanup()

		detector := anomaly.New(anomaly.Config{
			Threshold:  cfg.Detector.Threshold,
			WindowSize: cfg.Detector.WindowSize,
			MinSamples: cfg.Detector.MinSamples,
			Adaptive:   cfg.Detector.Adaptive,
			Weights:    detectorWeights(cfg),
		}, log)

		manager := sim.New(sim.Config{
			TelemetryPeriod: cfg.TelemetryPeriod(),
			BusPolicy:       busPolicy(cfg.Bus.Policy),
			BusBuffer:       cfg.Bus.Buffer,
			Subsystems:      cfg.Simulation.Subsystems,
			Faults: fault.Config{
				MaxConcurrent: cfg.Faults.MaxConcurrent,
				AutoInject:    cfg.Faults.AutoInject,
				EvalInterval:  cfg.EvalInterval(),
				Scenarios:     cfg.FaultScenarios(),
			},
		}, detector, out)

		for i := 0; i < cfg.Simulation.UAVCount; i++ {
			uavID := fmt.Sprintf("%s%03d", cfg.Simulation.UAVPrefix, i+1)
			if _, err := manager.AddUAV(ctx, uavID, nil); err != nil {
				return err
			}
		}

		collector := metrics.New(cfg.MetricsInterval(), cfg.Metrics.Retention)
		collector.Start(ctx)
		defer collector.Stop()

		manager.Start(ctx)

		srv := admin.NewServer(cfg.Admin.Addr, manager, collector, log)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigs:
			log.Info("shutdown signal received")
		case err := <-errCh:
			if err != nil {
				manager.Stop(ctx)
				return err
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin shutdown failed", "err", err)
		}
		manager.Stop(ctx)
		log.Info("simulation stopped")
		return nil
	},
}

func busPolicy(name string) bus.Policy {
	if name == "block" {
		return bus.Block
	}
	return bus.DropOldest
}

func detectorWeights(cfg *config.Config) anomaly.Weights {
	if cfg.Detector.Weights == nil {
		return anomaly.Weights{}
	}
	return anomaly.Weights{
		Robust:   cfg.Detector.Weights.Robust,
		Boundary: cfg.Detector.Weights.Boundary,
		Density:  cfg.Detector.Weights.Density,
	}
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/simulation.yaml", "Path to simulation configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "schemas/simulation.cue", "Path to CUE schema file")
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print telemetry to STDOUT regardless of configured sinks")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Path to export telemetry logs (JSONL)")
}
