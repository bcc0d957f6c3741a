package workload

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

// Request is one message a client starts.
type Request struct {
	Target xpass.Addr
	Size   int
	Gap    time.Duration // Time since the previous request of the same client.
}

// Generator produces the request stream of one client: sizes from a
// distribution, uniformly chosen servers and exponential gaps sized so the
// client offers load of its link.
type Generator struct {
	self    xpass.Addr
	sizes   Distribution
	targets []xpass.Addr
	meanGap time.Duration
	rng     *rand.Rand
}

// NewGenerator returns the generator of client self. load is the fraction of
// linkBandwidth (bits per second) the client offers on average.
func NewGenerator(self xpass.Addr, sizes Distribution, targets []xpass.Addr, load, linkBandwidth float64, rng *rand.Rand) (*Generator, error) {
	if load <= 0 || linkBandwidth <= 0 {
		return nil, errors.Wrap(ErrInvalidDistribution, "load and bandwidth must be positive")
	}
	var peers []xpass.Addr
	for _, t := range targets {
		if t != self {
			peers = append(peers, t)
		}
	}
	if len(peers) == 0 {
		return nil, errors.Wrapf(ErrInvalidDistribution, "client %d has no server to send to", self)
	}
	gap := sizes.Mean() * 8 / (load * linkBandwidth)
	return &Generator{
		self:    self,
		sizes:   sizes,
		targets: peers,
		meanGap: time.Duration(gap * float64(time.Second)),
		rng:     rng,
	}, nil
}

// MeanGap returns the mean time between two requests.
func (g *Generator) MeanGap() time.Duration { return g.meanGap }

// Next draws the next request.
func (g *Generator) Next() Request {
	size := int(g.sizes.Next(g.rng) + 0.5)
	if size < 1 {
		size = 1
	}
	return Request{
		Target: g.targets[g.rng.Intn(len(g.targets))],
		Size:   size,
		Gap:    time.Duration(g.rng.ExpFloat64() * float64(g.meanGap)),
	}
}
