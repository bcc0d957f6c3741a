package commands

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/simulation"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/util/pathutil"
)

var (
	genOutput  string
	genReplace bool
	genSeed    int64
)

func init() {
	genConfigCmd.Flags().StringVarP(&genOutput, "output", "o", "xpass-sim.json", "path of generated config file (.json or .toml)")
	genConfigCmd.Flags().BoolVarP(&genReplace, "replace", "r", false, "rewrite existing config")
	genConfigCmd.Flags().Int64Var(&genSeed, "seed", 1, "seed of the generated config")
	rootCmd.AddCommand(genConfigCmd)
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "Generate a default simulation config",
	Run: func(_ *cobra.Command, _ []string) {
		logger := logging.MustGetLogger("gen-config")

		output, err := pathutil.Expand(genOutput)
		if err != nil {
			logger.WithError(err).Fatal("invalid output path")
		}

		conf := simulation.DefaultConfig()
		conf.Seed = genSeed

		if strings.EqualFold(filepath.Ext(output), ".toml") {
			var buf bytes.Buffer
			if err := simulation.WriteTOML(&buf, conf); err != nil {
				logger.WithError(err).Fatal("failed to encode toml config")
			}
			err = pathutil.WriteConfig(buf.Bytes(), output, genReplace)
		} else {
			err = pathutil.WriteJSONConfig(conf, output, genReplace)
		}
		if err != nil {
			logger.Fatal(err)
		}
	},
}
