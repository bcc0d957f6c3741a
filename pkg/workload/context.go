// Package workload generates the traffic a simulation runs: message sizes,
// arrival times, destinations and synchronized incast bursts. All randomness
// derives from the seed of one Context, so runs are reproducible.
package workload

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"

	"github.com/google/uuid"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

var log = logging.MustGetLogger("workload")

// namespace roots the message IDs of every run.
var namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("xpass-sim"))

// Context holds the state shared by every host of one run.
type Context struct {
	seed int64
}

// NewContext returns the context of a run seeded with seed.
func NewContext(seed int64) *Context {
	return &Context{seed: seed}
}

// Seed returns the seed of the run.
func (c *Context) Seed() int64 { return c.seed }

// Rand returns a random source owned by the (local, peer) pair. Sources of
// different pairs are independent and the same pair always gets the same
// sequence.
func (c *Context) Rand(local, peer xpass.Addr) *rand.Rand {
	return rand.New(rand.NewSource(c.derive("conn", int64(local), int64(peer))))
}

// HostRand returns a random source owned by a host and a purpose.
func (c *Context) HostRand(purpose string, host xpass.Addr) *rand.Rand {
	return rand.New(rand.NewSource(c.derive(purpose, int64(host))))
}

// MessageID returns the ID of the n-th message src sends to dst.
func (c *Context) MessageID(src, dst xpass.Addr, n uint64) uuid.UUID {
	var b [24]byte
	binary.BigEndian.PutUint64(b[0:], uint64(c.seed))
	binary.BigEndian.PutUint32(b[8:], uint32(src))
	binary.BigEndian.PutUint32(b[12:], uint32(dst))
	binary.BigEndian.PutUint64(b[16:], n)
	return uuid.NewSHA1(namespace, b[:])
}

func (c *Context) derive(purpose string, vals ...int64) int64 {
	h := fnv.New64a()
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(c.seed))
	h.Write(b[:])            // nolint: errcheck
	h.Write([]byte(purpose)) // nolint: errcheck
	for _, v := range vals {
		binary.BigEndian.PutUint64(b[:], uint64(v))
		h.Write(b[:]) // nolint: errcheck
	}
	return int64(h.Sum64())
}
