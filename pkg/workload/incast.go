package workload

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

// Burst tells a client whether it takes part in the current incast round.
type Burst struct {
	Send        bool
	Target      xpass.Addr
	RequestSize int
}

// Incast picks, once per round, one server and a set of clients that all
// send a request to it at the same time. A round starts with the first
// client query and ends when every client has asked.
type Incast struct {
	clients     []xpass.Addr
	servers     []xpass.Addr
	size        int
	requestSize int
	rng         *rand.Rand

	target  xpass.Addr
	members map[xpass.Addr]bool
	queries int
	rounds  int
}

// NewIncast returns an incast generator choosing size senders among clients.
func NewIncast(clients, servers []xpass.Addr, size, requestSize int, rng *rand.Rand) (*Incast, error) {
	if len(clients) == 0 || len(servers) == 0 {
		return nil, errors.Wrap(ErrInvalidDistribution, "incast needs clients and servers")
	}
	if size <= 0 || requestSize <= 0 {
		return nil, errors.Wrap(ErrInvalidDistribution, "incast size and request size must be positive")
	}
	// Every server must leave enough clients to pick from.
	for _, s := range servers {
		n := len(clients)
		for _, c := range clients {
			if c == s {
				n--
			}
		}
		if n < size {
			return nil, errors.Wrapf(ErrInvalidDistribution, "incast of %d senders needs more clients than %d", size, n)
		}
	}
	return &Incast{
		clients:     clients,
		servers:     servers,
		size:        size,
		requestSize: requestSize,
		rng:         rng,
		members:     make(map[xpass.Addr]bool),
	}, nil
}

func (g *Incast) newRound() {
	g.target = g.servers[g.rng.Intn(len(g.servers))]
	g.members = make(map[xpass.Addr]bool, g.size)
	for len(g.members) < g.size {
		c := g.clients[g.rng.Intn(len(g.clients))]
		if c == g.target {
			continue
		}
		g.members[c] = true
	}
	g.rounds++
	log.Debugf("incast round %d: %d senders to %d", g.rounds, g.size, g.target)
}

// ShouldSend reports whether client sends in the current round.
func (g *Incast) ShouldSend(client xpass.Addr) Burst {
	if g.queries == 0 {
		g.newRound()
	}
	g.queries++
	b := Burst{
		Send:        g.members[client],
		Target:      g.target,
		RequestSize: g.requestSize,
	}
	if g.queries == len(g.clients) {
		g.queries = 0
	}
	return b
}

// Rounds returns the number of rounds started.
func (g *Incast) Rounds() int { return g.rounds }
