package xpass

import "time"

// RTTEstimator smooths round-trip samples with an exponentially weighted
// moving average. The zero value holds no estimate.
type RTTEstimator struct {
	rtt time.Duration
}

// Update folds sample into the estimate. The first positive sample is
// adopted verbatim.
func (e *RTTEstimator) Update(sample time.Duration) {
	if e.rtt > 0 {
		e.rtt = time.Duration(0.8*float64(e.rtt) + 0.2*float64(sample))
		return
	}
	e.rtt = sample
}

// Reset replaces the estimate with sample.
func (e *RTTEstimator) Reset(sample time.Duration) {
	e.rtt = sample
}

// Value returns the current estimate, zero if there is none.
func (e *RTTEstimator) Value() time.Duration {
	return e.rtt
}

// Valid reports whether an estimate exists.
func (e *RTTEstimator) Valid() bool {
	return e.rtt > 0
}

// Or returns the estimate scaled by factor, or fallback if there is none.
func (e *RTTEstimator) Or(factor float64, fallback time.Duration) time.Duration {
	if e.rtt > 0 {
		return time.Duration(factor * float64(e.rtt))
	}
	return fallback
}
