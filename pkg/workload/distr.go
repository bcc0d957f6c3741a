package workload

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// ErrInvalidDistribution is the cause of every error returned by
// DistConfig.Build.
var ErrInvalidDistribution = errors.New("invalid distribution")

// Distribution draws values from a random source.
type Distribution interface {
	Next(r *rand.Rand) float64
	Mean() float64
}

// Fixed always returns the same value.
type Fixed float64

// Next implements Distribution.
func (f Fixed) Next(*rand.Rand) float64 { return float64(f) }

// Mean implements Distribution.
func (f Fixed) Mean() float64 { return float64(f) }

// Uniform draws from [Min, Max].
type Uniform struct {
	Min, Max float64
}

// Next implements Distribution.
func (u Uniform) Next(r *rand.Rand) float64 { return u.Min + r.Float64()*(u.Max-u.Min) }

// Mean implements Distribution.
func (u Uniform) Mean() float64 { return (u.Min + u.Max) / 2 }

// Exponential draws exponentially distributed values with the given mean.
type Exponential float64

// Next implements Distribution.
func (e Exponential) Next(r *rand.Rand) float64 { return r.ExpFloat64() * float64(e) }

// Mean implements Distribution.
func (e Exponential) Mean() float64 { return float64(e) }

// Bimodal returns Large with probability PLarge and Small otherwise.
type Bimodal struct {
	Small, Large float64
	PLarge       float64
}

// Next implements Distribution.
func (b Bimodal) Next(r *rand.Rand) float64 {
	if r.Float64() < b.PLarge {
		return b.Large
	}
	return b.Small
}

// Mean implements Distribution.
func (b Bimodal) Mean() float64 { return b.PLarge*b.Large + (1-b.PLarge)*b.Small }

// CDFPoint is one step of an empirical distribution: P(X <= Value) = Prob.
type CDFPoint struct {
	Prob  float64 `json:"prob" toml:"prob"`
	Value float64 `json:"value" toml:"value"`
}

// Empirical samples a piecewise CDF, interpolating between points on a
// logarithmic value scale.
type Empirical struct {
	points []CDFPoint
	mean   float64
}

// NewEmpirical returns an empirical distribution over points. Probabilities
// must be increasing, end at 1 and values must be positive.
func NewEmpirical(points []CDFPoint) (*Empirical, error) {
	if len(points) < 2 {
		return nil, errors.Wrap(ErrInvalidDistribution, "empirical distribution needs at least two points")
	}
	pts := append([]CDFPoint(nil), points...)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Prob < pts[j].Prob })
	for i, p := range pts {
		if p.Value <= 0 {
			return nil, errors.Wrapf(ErrInvalidDistribution, "value %v must be positive", p.Value)
		}
		if i > 0 && p.Prob == pts[i-1].Prob {
			return nil, errors.Wrapf(ErrInvalidDistribution, "duplicate probability %v", p.Prob)
		}
	}
	if pts[0].Prob < 0 || pts[len(pts)-1].Prob != 1 {
		return nil, errors.Wrap(ErrInvalidDistribution, "probabilities must lie in [0, 1] and end at 1")
	}

	e := &Empirical{points: pts}
	// Mean of the interpolated distribution, by midpoint integration.
	const steps = 10000
	sum := 0.0
	for i := 0; i < steps; i++ {
		sum += e.quantile((float64(i) + 0.5) / steps)
	}
	e.mean = sum / steps
	return e, nil
}

// Next implements Distribution.
func (e *Empirical) Next(r *rand.Rand) float64 {
	return e.quantile(r.Float64())
}

// Mean implements Distribution.
func (e *Empirical) Mean() float64 { return e.mean }

func (e *Empirical) quantile(x float64) float64 {
	if x <= 0 {
		x = 1e-11
	}
	if x <= e.points[0].Prob {
		return e.points[0].Value
	}
	i := sort.Search(len(e.points), func(i int) bool { return e.points[i].Prob >= x })
	lo, hi := e.points[i-1], e.points[i]
	ly0, ly1 := math.Log10(lo.Value), math.Log10(hi.Value)
	return math.Pow(10, ly0+(x-lo.Prob)*(ly1-ly0)/(hi.Prob-lo.Prob))
}

// DistConfig describes a Distribution in a config file.
type DistConfig struct {
	Type   string     `json:"type" toml:"type"` // fixed, uniform, exponential, bimodal or empirical
	Value  float64    `json:"value,omitempty" toml:"value"`
	Min    float64    `json:"min,omitempty" toml:"min"`
	Max    float64    `json:"max,omitempty" toml:"max"`
	Mean   float64    `json:"mean,omitempty" toml:"mean"`
	Small  float64    `json:"small,omitempty" toml:"small"`
	Large  float64    `json:"large,omitempty" toml:"large"`
	PLarge float64    `json:"p_large,omitempty" toml:"p_large"`
	CDF    []CDFPoint `json:"cdf,omitempty" toml:"cdf"`
}

// Distribution types.
const (
	DistFixed       = "fixed"
	DistUniform     = "uniform"
	DistExponential = "exponential"
	DistBimodal     = "bimodal"
	DistEmpirical   = "empirical"
)

// Build returns the distribution c describes.
func (c DistConfig) Build() (Distribution, error) {
	switch c.Type {
	case DistFixed:
		if c.Value <= 0 {
			return nil, errors.Wrap(ErrInvalidDistribution, "fixed value must be positive")
		}
		return Fixed(c.Value), nil
	case DistUniform:
		if c.Min <= 0 || c.Max < c.Min {
			return nil, errors.Wrapf(ErrInvalidDistribution, "uniform range [%v, %v] is invalid", c.Min, c.Max)
		}
		return Uniform{Min: c.Min, Max: c.Max}, nil
	case DistExponential:
		if c.Mean <= 0 {
			return nil, errors.Wrap(ErrInvalidDistribution, "exponential mean must be positive")
		}
		return Exponential(c.Mean), nil
	case DistBimodal:
		if c.Small <= 0 || c.Large <= 0 || c.PLarge < 0 || c.PLarge > 1 {
			return nil, errors.Wrap(ErrInvalidDistribution, "bimodal needs positive sizes and p_large in [0, 1]")
		}
		return Bimodal{Small: c.Small, Large: c.Large, PLarge: c.PLarge}, nil
	case DistEmpirical:
		return NewEmpirical(c.CDF)
	default:
		return nil, errors.Wrapf(ErrInvalidDistribution, "unknown type %q", c.Type)
	}
}
