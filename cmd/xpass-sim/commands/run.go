package commands

import (
	"encoding/json"
	"log/syslog"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/flowlog"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/simulation"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/util/env"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/util/pathutil"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

const (
	seedEnv     = "XPASS_SEED"
	durationEnv = "XPASS_DURATION"
	logLevelEnv = "XPASS_LOG_LEVEL"
)

var (
	syslogAddr  string
	tag         string
	profileMode string
	seed        int64
	duration    time.Duration
	logLevel    string
	csvPath     string
	jsonReport  bool
)

func init() {
	runCmd.Flags().StringVarP(&syslogAddr, "syslog", "", "none", "syslog server address. E.g. localhost:514")
	runCmd.Flags().StringVarP(&tag, "tag", "", "xpass-sim", "logging tag")
	runCmd.Flags().StringVarP(&profileMode, "pprof", "p", "none", "enable profiling with pprof. Mode:  none or one of: [cpu, mem, mutex, block, trace]")
	runCmd.Flags().Int64VarP(&seed, "seed", "s", 0, "override the seed of the config")
	runCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "override the traffic duration of the config")
	runCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "override the log level of the config")
	runCmd.Flags().StringVarP(&csvPath, "csv", "", "", "write the flow log as CSV to this path")
	runCmd.Flags().BoolVarP(&jsonReport, "json", "j", false, "print the report as JSON")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [config-path]",
	Short: "Runs a simulation",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSimulation(cmd, args); err != nil {
			logging.MustGetLogger(tag).Fatal(err)
		}
	},
}

// runSimulation returns instead of exiting so the profile and the flow log
// are closed on every path.
func runSimulation(cmd *cobra.Command, args []string) error {
	profilePath := profile.ProfilePath("./logs/" + tag)
	switch profileMode {
	case "cpu":
		defer profile.Start(profilePath, profile.CPUProfile).Stop()
	case "mem":
		defer profile.Start(profilePath, profile.MemProfile).Stop()
	case "mutex":
		defer profile.Start(profilePath, profile.MutexProfile).Stop()
	case "block":
		defer profile.Start(profilePath, profile.BlockProfile).Stop()
	case "trace":
		defer profile.Start(profilePath, profile.TraceProfile).Stop()
	default:
		// do nothing
	}

	logger := logging.MustGetLogger(tag)

	conf, err := loadConfig(cmd, args)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	sim, err := simulation.New(conf)
	if err != nil {
		return errors.Wrap(err, "failed to initialise simulation")
	}
	defer func() {
		if err := sim.Close(); err != nil {
			logger.WithError(err).Error("Failed to close simulation")
		}
	}()

	if syslogAddr != "none" {
		hook, err := logrus_syslog.NewSyslogHook("udp", syslogAddr, syslog.LOG_INFO, tag)
		if err != nil {
			logger.Error("Unable to connect to syslog daemon")
		} else {
			logging.AddHook(hook)
			sim.Logger.AddHook(hook)
		}
	}

	report, runErr := sim.Run()
	if report == nil {
		return runErr
	}

	if csvPath != "" {
		if err := writeCSV(csvPath, sim.FlowLog()); err != nil {
			logger.WithError(err).Error("Failed to write flow log")
		}
	}

	if jsonReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	} else {
		err = report.Print(os.Stdout)
	}
	if err != nil {
		return err
	}
	return runErr
}

func loadConfig(cmd *cobra.Command, args []string) (simulation.Config, error) {
	conf := simulation.DefaultConfig()
	path, err := pathutil.FindConfigPath(args, 0, configEnv, pathutil.SimDefaults())
	switch errors.Cause(err) {
	case nil:
		if conf, err = simulation.Load(path); err != nil {
			return conf, err
		}
	case pathutil.ErrConfigNotFound:
		logging.MustGetLogger(tag).Info("No config file found, using defaults")
	default:
		return conf, err
	}

	conf.Seed = env.Int64(seedEnv, conf.Seed)
	conf.Duration = xpass.Duration(env.Duration(durationEnv, conf.Duration.Duration()))
	conf.LogLevel = env.String(logLevelEnv, conf.LogLevel)

	if cmd.Flags().Changed("seed") {
		conf.Seed = seed
	}
	if cmd.Flags().Changed("duration") {
		conf.Duration = xpass.Duration(duration)
	}
	if cmd.Flags().Changed("log-level") {
		conf.LogLevel = logLevel
	}
	return conf, conf.Validate()
}

func writeCSV(path string, store flowlog.Store) error {
	path, err := pathutil.Expand(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := flowlog.WriteCSV(f, store); err != nil {
		f.Close() // nolint: errcheck
		return err
	}
	return f.Close()
}
