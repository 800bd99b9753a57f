package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"uavsim/internal/config"
)

var (
	validateConfigPath string
	validateSchemaPath string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a simulation configuration",
	Long:  "validate checks a configuration file against the CUE schema and reports the effective settings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath, validateSchemaPath)
		if err != nil {
			return err
		}
		fmt.Printf("configuration valid: %d UAVs, %d subsystems, period %s, %d fault scenarios\n",
			cfg.Simulation.UAVCount, len(cfg.Simulation.Subsystems),
			cfg.TelemetryPeriod(), len(cfg.Faults.Scenarios))
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "config/simulation.yaml", "Path to simulation configuration YAML")
	validateCmd.Flags().StringVar(&validateSchemaPath, "schema", "schemas/simulation.cue", "Path to CUE schema file")
}
