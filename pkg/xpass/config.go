package xpass

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidConfig is the cause of every error returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid xpass config")

// Strategy selects how the issuer adapts its credit rate.
type Strategy string

const (
	// StrategyXPass runs the loss-driven feedback loop.
	StrategyXPass = Strategy("xpass")

	// StrategyFixedRate keeps the initial rate for the whole flow.
	StrategyFixedRate = Strategy("fixed")
)

// Recovery selects how a connection reacts to lost packets.
type Recovery string

const (
	// RecoveryNone assumes a lossless, non-reordering link. Any gap in the
	// credit or byte sequence aborts the run.
	RecoveryNone = Recovery("none")

	// RecoveryNack recovers lost data with go-back-N driven by NACKs.
	RecoveryNack = Recovery("nack")
)

// Config holds the protocol parameters of a connection.
type Config struct {
	MaxCreditRate            float64  `json:"max_credit_rate" toml:"max_credit_rate"` // Credit bytes per second.
	Alpha                    float64  `json:"alpha" toml:"alpha"`
	MinCreditSize            int      `json:"min_credit_size" toml:"min_credit_size"`
	MaxCreditSize            int      `json:"max_credit_size" toml:"max_credit_size"`
	MinEthernetSize          int      `json:"min_ethernet_size" toml:"min_ethernet_size"`
	MaxEthernetSize          int      `json:"max_ethernet_size" toml:"max_ethernet_size"`
	HeaderSize               int      `json:"header_size" toml:"header_size"`
	InterFrameGap            int      `json:"inter_frame_gap" toml:"inter_frame_gap"`
	TargetLossScaling        float64  `json:"target_loss_scaling" toml:"target_loss_scaling"`
	WInit                    float64  `json:"w_init" toml:"w_init"`
	MinW                     float64  `json:"min_w" toml:"min_w"`
	RetransmitTimeout        Duration `json:"retransmit_timeout" toml:"retransmit_timeout"`
	DefaultCreditStopTimeout Duration `json:"default_credit_stop_timeout" toml:"default_credit_stop_timeout"`
	MinJitter                float64  `json:"min_jitter" toml:"min_jitter"`
	MaxJitter                float64  `json:"max_jitter" toml:"max_jitter"`
	Strategy                 Strategy `json:"strategy" toml:"strategy"`
	Recovery                 Recovery `json:"recovery" toml:"recovery"`
}

// DefaultConfig returns the parameters used for 10Gbps links: credits are
// throttled to 84/(84+1538) of the link rate.
func DefaultConfig() Config {
	const linkRate = 10e9 / 8
	return Config{
		MaxCreditRate:            linkRate * 84 / (84 + 1538),
		Alpha:                    0.5,
		MinCreditSize:            84,
		MaxCreditSize:            84,
		MinEthernetSize:          84,
		MaxEthernetSize:          1538,
		HeaderSize:               78,
		TargetLossScaling:        0.125,
		WInit:                    0.0625,
		MinW:                     0.01,
		RetransmitTimeout:        Duration(10 * time.Millisecond),
		DefaultCreditStopTimeout: Duration(time.Millisecond),
		MinJitter:                -0.1,
		MaxJitter:                0.1,
		Strategy:                 StrategyXPass,
		Recovery:                 RecoveryNone,
	}
}

// Validate reports parameter combinations the protocol cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MaxCreditRate <= 0:
		return errors.Wrap(ErrInvalidConfig, "max_credit_rate must be positive")
	case c.Alpha <= 0 || c.Alpha > 1:
		return errors.Wrap(ErrInvalidConfig, "alpha must be in (0, 1]")
	case c.MinCreditSize <= 0:
		return errors.Wrap(ErrInvalidConfig, "min_credit_size must be positive")
	case c.MinCreditSize > c.MaxCreditSize:
		return errors.Wrapf(ErrInvalidConfig, "min_credit_size %d exceeds max_credit_size %d",
			c.MinCreditSize, c.MaxCreditSize)
	case c.HeaderSize <= 0:
		return errors.Wrap(ErrInvalidConfig, "header_size must be positive")
	case c.MinEthernetSize <= c.HeaderSize:
		return errors.Wrapf(ErrInvalidConfig, "min_ethernet_size %d must exceed header_size %d",
			c.MinEthernetSize, c.HeaderSize)
	case c.MaxEthernetSize < c.MinEthernetSize:
		return errors.Wrapf(ErrInvalidConfig, "max_ethernet_size %d is below min_ethernet_size %d",
			c.MaxEthernetSize, c.MinEthernetSize)
	case c.InterFrameGap < 0:
		return errors.Wrap(ErrInvalidConfig, "inter_frame_gap must not be negative")
	case c.TargetLossScaling < 0:
		return errors.Wrap(ErrInvalidConfig, "target_loss_scaling must not be negative")
	case c.MinW <= 0 || c.WInit < c.MinW:
		return errors.Wrapf(ErrInvalidConfig, "w_init %v and min_w %v must satisfy 0 < min_w <= w_init",
			c.WInit, c.MinW)
	case c.RetransmitTimeout <= 0 || c.DefaultCreditStopTimeout <= 0:
		return errors.Wrap(ErrInvalidConfig, "timeouts must be positive")
	case c.MaxJitter < c.MinJitter:
		return errors.Wrapf(ErrInvalidConfig, "max_jitter %v is below min_jitter %v", c.MaxJitter, c.MinJitter)
	case c.MinJitter <= -1:
		return errors.Wrap(ErrInvalidConfig, "min_jitter must be above -1")
	}

	switch c.Strategy {
	case StrategyXPass, StrategyFixedRate:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown strategy %q", c.Strategy)
	}

	switch c.Recovery {
	case RecoveryNone, RecoveryNack:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown recovery %q", c.Recovery)
	}
	return nil
}

// Duration wraps around time.Duration to allow parsing from and to JSON and
// TOML.
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		return d.UnmarshalText([]byte(value))
	default:
		return errors.New("invalid duration")
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	tmp, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(tmp)
	return nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
