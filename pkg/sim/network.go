package sim

import (
	"time"

	"github.com/pkg/errors"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

var (
	// ErrNoRoute is returned for packets addressed to an unknown host.
	ErrNoRoute = errors.New("no route to host")

	// ErrHostExists is returned when attaching an address twice.
	ErrHostExists = errors.New("host already attached")
)

// Receiver accepts packets delivered by the network.
type Receiver interface {
	Receive(p *xpass.Packet)
}

// Filter decides whether a packet is carried. Returning false drops it.
type Filter func(p *xpass.Packet) bool

// LinkConfig describes every host link of the network.
type LinkConfig struct {
	Bandwidth float64       // Bits per second.
	Delay     time.Duration // One-way propagation delay per hop.
}

// NetworkStats counts packets handled by the network.
type NetworkStats struct {
	Sent       int
	Delivered  int
	Dropped    int
	Unroutable int // Dropped for lack of a route. Filter drops are not counted.
	Bytes      int64
	ByKind     map[xpass.Kind]int
}

type port struct {
	recv     Receiver
	upFree   time.Duration
	downFree time.Duration
}

// Network is a single switch with one full-duplex link per host. Each link
// serializes frames in FIFO order, so packets between a pair of hosts are
// never reordered, and buffers are unbounded, so nothing is dropped unless a
// Filter says so.
type Network struct {
	sched  *Scheduler
	params xpass.Config
	link   LinkConfig
	ports  map[xpass.Addr]*port
	filter Filter
	stats  NetworkStats
}

// NewNetwork returns an empty network. params provides the frame size limits
// used for on-wire accounting.
func NewNetwork(sched *Scheduler, params xpass.Config, link LinkConfig) (*Network, error) {
	if link.Bandwidth <= 0 {
		return nil, errors.New("link bandwidth must be positive")
	}
	if link.Delay < 0 {
		return nil, errors.New("link delay must not be negative")
	}
	return &Network{
		sched:  sched,
		params: params,
		link:   link,
		ports:  make(map[xpass.Addr]*port),
		stats:  NetworkStats{ByKind: make(map[xpass.Kind]int)},
	}, nil
}

// Attach connects a host to the switch.
func (n *Network) Attach(addr xpass.Addr, r Receiver) error {
	if _, ok := n.ports[addr]; ok {
		return errors.Wrapf(ErrHostExists, "addr %d", addr)
	}
	n.ports[addr] = &port{recv: r}
	return nil
}

// SetFilter installs f. A nil filter carries every packet.
func (n *Network) SetFilter(f Filter) { n.filter = f }

// Send implements xpass.PacketSink.
func (n *Network) Send(p *xpass.Packet) {
	if err := n.Transmit(p); err != nil {
		log.WithError(err).Warnf("dropping %s", p)
	}
}

// Transmit queues p on the uplink of its source.
func (n *Network) Transmit(p *xpass.Packet) error {
	src, ok := n.ports[p.Src]
	if !ok {
		n.stats.Dropped++
		n.stats.Unroutable++
		return errors.Wrapf(ErrNoRoute, "source %d", p.Src)
	}
	if _, ok := n.ports[p.Dst]; !ok {
		n.stats.Dropped++
		n.stats.Unroutable++
		return errors.Wrapf(ErrNoRoute, "destination %d", p.Dst)
	}

	wire := n.params.WireSize(p)
	n.stats.Sent++
	n.stats.Bytes += int64(wire)
	n.stats.ByKind[p.Kind]++

	tx := n.txTime(wire)
	start := maxDuration(n.sched.Now(), src.upFree)
	src.upFree = start + tx
	n.sched.After(src.upFree+n.link.Delay-n.sched.Now(), func() { n.forward(p, tx) })
	return nil
}

// forward queues p on the downlink of its destination.
func (n *Network) forward(p *xpass.Packet, tx time.Duration) {
	if n.filter != nil && !n.filter(p) {
		n.stats.Dropped++
		log.Debugf("filter dropped %s", p)
		return
	}
	dst := n.ports[p.Dst]
	start := maxDuration(n.sched.Now(), dst.downFree)
	dst.downFree = start + tx
	n.sched.After(dst.downFree+n.link.Delay-n.sched.Now(), func() {
		n.stats.Delivered++
		dst.recv.Receive(p)
	})
}

func (n *Network) txTime(wireBytes int) time.Duration {
	return time.Duration(float64(wireBytes) * 8 / n.link.Bandwidth * float64(time.Second))
}

// BaseRTT returns the unloaded round trip of a minimum frame and a maximum
// frame, the RTT a credit and the data segment it pays for see.
func (n *Network) BaseRTT() time.Duration {
	small := n.txTime(n.params.MinEthernetSize + n.params.InterFrameGap)
	large := n.txTime(n.params.MaxEthernetSize + n.params.InterFrameGap)
	return 2*small + 2*large + 4*n.link.Delay
}

// Stats returns a copy of the network counters.
func (n *Network) Stats() NetworkStats {
	out := n.stats
	out.ByKind = make(map[xpass.Kind]int, len(n.stats.ByKind))
	for k, v := range n.stats.ByKind {
		out.ByKind[k] = v
	}
	return out
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
