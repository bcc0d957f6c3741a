package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/simulation"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the xpass-sim version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(simulation.Version)
	},
}
