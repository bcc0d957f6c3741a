package simulation

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/flowlog"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/workload"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

// ErrInvalidConfig is the cause of every error returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid simulation config")

// LinkConfig describes the host links.
type LinkConfig struct {
	Bandwidth float64        `json:"bandwidth" toml:"bandwidth"` // Bits per second.
	Delay     xpass.Duration `json:"delay" toml:"delay"`
}

// HostsConfig describes the hosts. Hosts are addressed 0..Count-1 and the
// first Servers of them answer requests. With Servers zero every host is both
// client and server.
type HostsConfig struct {
	Count   int `json:"count" toml:"count"`
	Servers int `json:"servers" toml:"servers"`
}

// IncastConfig describes periodic synchronized requests to one server.
type IncastConfig struct {
	Size        int            `json:"size" toml:"size"`
	RequestSize int            `json:"request_size" toml:"request_size"`
	ReplySize   int            `json:"reply_size" toml:"reply_size"`
	Period      xpass.Duration `json:"period" toml:"period"`
}

// WorkloadConfig describes the traffic of a run.
type WorkloadConfig struct {
	RequestSize workload.DistConfig  `json:"request_size" toml:"request_size"`
	ReplySize   *workload.DistConfig `json:"reply_size,omitempty" toml:"reply_size,omitempty"`
	Load        float64              `json:"load" toml:"load"` // Offered load per client, fraction of the link.
	Incast      *IncastConfig        `json:"incast,omitempty" toml:"incast,omitempty"`
}

// Config defines a simulation run.
type Config struct {
	Version  string              `json:"version" toml:"version"`
	Seed     int64               `json:"seed" toml:"seed"`
	Duration xpass.Duration      `json:"duration" toml:"duration"` // Time during which requests are generated.
	Drain    xpass.Duration      `json:"drain" toml:"drain"`       // Extra time for in-flight flows.
	MaxConns int                 `json:"max_conns" toml:"max_conns"`
	XPass    xpass.Config        `json:"xpass" toml:"xpass"`
	Link     LinkConfig          `json:"link" toml:"link"`
	Hosts    HostsConfig         `json:"hosts" toml:"hosts"`
	Workload WorkloadConfig      `json:"workload" toml:"workload"`
	FlowLog  flowlog.StoreConfig `json:"flow_log" toml:"flow_log"`
	LogLevel string              `json:"log_level" toml:"log_level"`
}

// DefaultConfig returns a small request/reply run on 10Gbps links.
func DefaultConfig() Config {
	return Config{
		Version:  "1.0",
		Seed:     1,
		Duration: xpass.Duration(10 * time.Millisecond),
		Drain:    xpass.Duration(20 * time.Millisecond),
		XPass:    xpass.DefaultConfig(),
		Link: LinkConfig{
			Bandwidth: 10e9,
			Delay:     xpass.Duration(time.Microsecond),
		},
		Hosts: HostsConfig{Count: 8, Servers: 2},
		Workload: WorkloadConfig{
			RequestSize: workload.DistConfig{Type: workload.DistExponential, Mean: 10000},
			ReplySize:   &workload.DistConfig{Type: workload.DistFixed, Value: 1000},
			Load:        0.3,
		},
		FlowLog:  flowlog.StoreConfig{Type: flowlog.StoreMemory},
		LogLevel: "warn",
	}
}

// Validate reports configurations a run cannot start with.
func (c Config) Validate() error {
	if err := c.XPass.Validate(); err != nil {
		return err
	}
	switch {
	case c.Duration <= 0:
		return errors.Wrap(ErrInvalidConfig, "duration must be positive")
	case c.Drain < 0:
		return errors.Wrap(ErrInvalidConfig, "drain must not be negative")
	case c.MaxConns < 0:
		return errors.Wrap(ErrInvalidConfig, "max_conns must not be negative")
	case c.Link.Bandwidth <= 0:
		return errors.Wrap(ErrInvalidConfig, "link bandwidth must be positive")
	case c.Link.Delay < 0:
		return errors.Wrap(ErrInvalidConfig, "link delay must not be negative")
	case c.Hosts.Count < 2:
		return errors.Wrapf(ErrInvalidConfig, "need at least two hosts, got %d", c.Hosts.Count)
	case c.Hosts.Servers < 0 || c.Hosts.Servers >= c.Hosts.Count:
		return errors.Wrapf(ErrInvalidConfig, "servers %d must leave at least one client of %d hosts",
			c.Hosts.Servers, c.Hosts.Count)
	case c.Workload.Load < 0 || c.Workload.Load > 1:
		return errors.Wrapf(ErrInvalidConfig, "load %v must be in [0, 1]", c.Workload.Load)
	}

	if c.Workload.Load > 0 {
		if _, err := c.Workload.RequestSize.Build(); err != nil {
			return errors.Wrap(err, "request_size")
		}
	}
	if c.Workload.ReplySize != nil {
		if _, err := c.Workload.ReplySize.Build(); err != nil {
			return errors.Wrap(err, "reply_size")
		}
	}
	if ic := c.Workload.Incast; ic != nil {
		if ic.Size <= 0 || ic.RequestSize <= 0 || ic.ReplySize < 0 || ic.Period <= 0 {
			return errors.Wrap(ErrInvalidConfig, "incast needs positive size, request_size and period")
		}
	}
	if c.Workload.Load == 0 && c.Workload.Incast == nil {
		return errors.Wrap(ErrInvalidConfig, "workload generates no traffic")
	}
	return nil
}

// Servers returns the addresses answering requests.
func (c Config) Servers() []xpass.Addr {
	n := c.Hosts.Servers
	if n == 0 {
		n = c.Hosts.Count
	}
	return addrRange(0, n)
}

// Clients returns the addresses generating requests.
func (c Config) Clients() []xpass.Addr {
	if c.Hosts.Servers == 0 {
		return addrRange(0, c.Hosts.Count)
	}
	return addrRange(c.Hosts.Servers, c.Hosts.Count)
}

func addrRange(from, to int) []xpass.Addr {
	out := make([]xpass.Addr, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, xpass.Addr(i))
	}
	return out
}

// Load reads a config file on top of DefaultConfig. Files ending in .toml are
// decoded as TOML, anything else as JSON.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config parse failed (%s)", path)
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "config load failed (%s)", path)
		}
		defer f.Close() // nolint: errcheck
		if err := ReadJSON(f, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config parse failed (%s)", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadJSON decodes a JSON config from r into cfg.
func ReadJSON(r io.Reader, cfg *Config) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// WriteTOML encodes cfg as TOML.
func WriteTOML(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}
