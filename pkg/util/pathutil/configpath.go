package pathutil

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("pathutil")

// ErrConfigNotFound is returned by FindConfigPath when no candidate path exists.
var ErrConfigNotFound = errors.New("config not found")

// ConfigLocationType describes a config path's location type.
type ConfigLocationType string

const (
	// WorkingDirLoc represents the default working directory location for a configuration file.
	WorkingDirLoc = ConfigLocationType("WD")

	// HomeLoc represents the default home folder location for a configuration file.
	HomeLoc = ConfigLocationType("HOME")

	// LocalLoc represents the default /usr/local location for a configuration file.
	LocalLoc = ConfigLocationType("LOCAL")
)

// String implements fmt.Stringer for ConfigLocationType.
func (t ConfigLocationType) String() string {
	return string(t)
}

// AllConfigLocationTypes returns all valid config location types in search order.
func AllConfigLocationTypes() []ConfigLocationType {
	return []ConfigLocationType{
		WorkingDirLoc,
		HomeLoc,
		LocalLoc,
	}
}

// ConfigPaths contains a map of configuration paths, based on ConfigLocationTypes.
type ConfigPaths map[ConfigLocationType]string

// String implements fmt.Stringer for ConfigPaths.
func (dp ConfigPaths) String() string {
	raw, err := json.MarshalIndent(dp, "", "\t")
	if err != nil {
		return err.Error()
	}
	return string(raw)
}

// SimDefaults returns the default config paths for xpass-sim.
func SimDefaults() ConfigPaths {
	paths := make(ConfigPaths)
	if wd, err := os.Getwd(); err == nil {
		paths[WorkingDirLoc] = filepath.Join(wd, "xpass-sim.json")
	}
	paths[HomeLoc] = filepath.Join(HomeDir(), ".xpass-sim", "xpass-sim.json")
	paths[LocalLoc] = "/usr/local/xpass-sim/xpass-sim.json"
	return paths
}

// FindConfigPath finds a config file path in the following order:
// - From CLI argument.
// - From ENV.
// - From a list of default paths.
// If argsIndex < 0, searching from CLI arguments does not take place.
func FindConfigPath(args []string, argsIndex int, env string, defaults ConfigPaths) (string, error) {
	if argsIndex >= 0 && len(args) > argsIndex {
		path := args[argsIndex]
		log.Infof("using args[%d] as config path: %s", argsIndex, path)
		return path, nil
	}
	if env != "" {
		if path, ok := os.LookupEnv(env); ok {
			log.Infof("using $%s as config path: %s", env, path)
			return path, nil
		}
	}
	log.Debugf("config path is not explicitly specified, trying default paths...")
	for i, cpType := range AllConfigLocationTypes() {
		path, ok := defaults[cpType]
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Debugf("- [%d/%d] '%s' cannot be accessed: %s", i+1, len(defaults), path, err.Error())
		} else {
			log.Debugf("- [%d/%d] '%s' is found", i+1, len(defaults), path)
			log.Infof("using fallback config path: %s", path)
			return path, nil
		}
	}
	return "", errors.Wrapf(ErrConfigNotFound, "tried %s", defaults.String())
}

// WriteJSONConfig is used by config file generators.
// 'output' specifies the path to save generated config files.
// 'replace' is true if replacing files is allowed.
func WriteJSONConfig(conf interface{}, output string, replace bool) error {
	raw, err := json.MarshalIndent(conf, "", "\t")
	if err != nil {
		return err
	}
	return WriteConfig(raw, output, replace)
}

// WriteConfig writes an encoded config to output, creating its directory.
func WriteConfig(raw []byte, output string, replace bool) error {
	if _, err := os.Stat(output); !replace && err == nil {
		return errors.Errorf("file %s already exists, stopping as 'replace,r' flag is not set", output)
	}
	if _, err := EnsureDir(filepath.Dir(output)); err != nil {
		return err
	}
	if err := ioutil.WriteFile(output, raw, 0644); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	log.Infof("Wrote %d bytes to %s", len(raw), output)
	return nil
}
