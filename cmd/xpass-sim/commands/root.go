package commands

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/simulation"
)

const configEnv = "XPASS_CONFIG"

var rootCmd = &cobra.Command{
	Use:     "xpass-sim",
	Short:   "Simulator for credit-based receiver-driven congestion control",
	Version: simulation.Version,
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
