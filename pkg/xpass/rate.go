package xpass

import (
	"fmt"
	"time"
)

// fullBufferHint is the backlog, in segments, at which a requester is
// granted the full alpha share of the credit rate.
const fullBufferHint = 40

// Controller computes the issuer's credit rate from the credit loss measured
// over one RTT.
type Controller struct {
	strategy          Strategy
	maxRate           float64
	avgCreditSize     float64
	targetLossScaling float64
	wInit             float64
	minW              float64

	cur         float64
	w           float64
	canIncrease bool
	total       int
	dropped     int
	lastUpdate  time.Duration
}

// NewController returns a controller for cfg. cfg must be valid.
func NewController(cfg Config) *Controller {
	return &Controller{
		strategy:          cfg.Strategy,
		maxRate:           cfg.MaxCreditRate,
		avgCreditSize:     cfg.AvgCreditSize(),
		targetLossScaling: cfg.TargetLossScaling,
		wInit:             cfg.WInit,
		minW:              cfg.MinW,
		w:                 cfg.WInit,
		canIncrease:       true,
	}
}

// Start sets the initial rate of a flow: alpha of the maximum rate, scaled
// down when the requester advertises a small backlog.
func (c *Controller) Start(now time.Duration, alpha float64, hint int) {
	c.w = c.wInit
	c.lastUpdate = now
	if hint < 1 {
		hint = 1
	}
	if hint < fullBufferHint {
		alpha = alpha * float64(hint) / fullBufferHint
	}
	c.cur = alpha * c.maxRate
}

// Observe accounts for one arriving data segment. distance is the number of
// credits skipped since the previous one.
func (c *Controller) Observe(distance int) {
	c.total += distance + 1
	c.dropped += distance
}

// MinRate returns the rate floor for rtt: one average credit per RTT, capped
// at the maximum rate.
func (c *Controller) MinRate(rtt time.Duration) float64 {
	floor := c.avgCreditSize / rtt.Seconds()
	if floor > c.maxRate {
		return c.maxRate
	}
	return floor
}

// Update runs one round of the feedback loop. It does nothing until rtt is
// known, at least rtt has elapsed since the last round, and credits have been
// accounted for. It reports whether a round ran.
func (c *Controller) Update(now, rtt time.Duration) bool {
	if rtt <= 0 {
		return false
	}
	elapsed := now - c.lastUpdate
	if elapsed < rtt {
		return false
	}
	if c.total == 0 {
		return false
	}

	switch c.strategy {
	case StrategyXPass:
		c.feedback(elapsed, rtt)
	case StrategyFixedRate:
	default:
		panic(fmt.Sprintf("xpass: unknown strategy %q", c.strategy))
	}

	c.total = 0
	c.dropped = 0
	c.lastUpdate = now
	return true
}

func (c *Controller) feedback(elapsed, rtt time.Duration) {
	old := c.cur
	loss := float64(c.dropped) / float64(c.total)
	target := (1 - c.cur/c.maxRate) * c.targetLossScaling
	minRate := c.MinRate(rtt)

	if loss > target {
		// Congestion.
		if loss >= 1 {
			c.cur = minRate
		} else {
			c.cur = c.avgCreditSize * float64(c.total-c.dropped) / elapsed.Seconds() * (1 + target)
		}
		if c.cur > old {
			c.cur = old
		}
		c.w = c.w / 2
		if c.w < c.minW {
			c.w = c.minW
		}
		c.canIncrease = false
	} else {
		if c.canIncrease {
			c.w += 0.05
			if c.w > 0.5 {
				c.w = 0.5
			}
		} else {
			c.canIncrease = true
		}
		if c.cur < c.maxRate {
			c.cur = c.w*c.maxRate + (1-c.w)*c.cur
		}
	}

	if c.cur > c.maxRate {
		c.cur = c.maxRate
	}
	if c.cur < minRate {
		c.cur = minRate
	}
}

// Rate returns the current credit rate in bytes per second.
func (c *Controller) Rate() float64 { return c.cur }

// W returns the current increase weight.
func (c *Controller) W() float64 { return c.w }

// Counters returns the credits accounted for and lost in the current round.
func (c *Controller) Counters() (total, dropped int) { return c.total, c.dropped }
