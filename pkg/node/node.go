// Package node implements a simulated host. A Node owns one xpass connection
// per peer and dispatches the packets the network delivers to it.
package node

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/workload"
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/pkg/xpass"
)

var log = logging.MustGetLogger("node")

var (
	// ErrNoConn represents lookup error for packets from a peer without a
	// connection.
	ErrNoConn = errors.New("no connection to peer")

	// ErrConnBusy is returned by Send while the previous message to the peer
	// is still in flight.
	ErrConnBusy = errors.New("connection busy")

	// ErrWrongHost is returned for packets addressed to another host.
	ErrWrongHost = errors.New("packet addressed to another host")
)

// Config defines the collaborators of a Node.
type Config struct {
	Addr     xpass.Addr
	Params   xpass.Config
	Sched    xpass.Scheduler
	Sink     xpass.PacketSink
	Arena    *Arena
	Context  *workload.Context
	App      xpass.Application
	Recorder xpass.FlowRecorder // optional
	Logger   *logging.Logger    // optional

	// Reclaim is called when the arena has no free slot and returns the
	// number of connection pairs it released. It may run inside an
	// application callback, so it must only release idle pairs. Optional.
	Reclaim func() int
}

// Node is a simulated host.
type Node struct {
	config Config
	conns  map[xpass.Addr]xpass.ConnID
	frees  map[xpass.ConnID]func()
	logger *logging.Logger

	unknown int
	// released sums the counters of connections dropped by Reap.
	released xpass.Stats
}

// NewNode constructs new Node.
func NewNode(config Config) (*Node, error) {
	if err := config.Params.Validate(); err != nil {
		return nil, err
	}
	if config.Sched == nil || config.Sink == nil || config.Arena == nil || config.Context == nil || config.App == nil {
		return nil, errors.Errorf("node %d: scheduler, sink, arena, context and app are required", config.Addr)
	}
	logger := config.Logger
	if logger == nil {
		logger = log
	}
	return &Node{
		config: config,
		conns:  make(map[xpass.Addr]xpass.ConnID),
		frees:  make(map[xpass.ConnID]func()),
		logger: logger,
	}, nil
}

// Addr returns the address of the node.
func (node *Node) Addr() xpass.Addr { return node.config.Addr }

// Conn returns the connection to peer.
func (node *Node) Conn(peer xpass.Addr) (*xpass.Conn, bool) {
	id, ok := node.conns[peer]
	if !ok {
		return nil, false
	}
	return node.config.Arena.Get(id)
}

// Dial returns the connection to peer, creating it if needed.
func (node *Node) Dial(peer xpass.Addr) (*xpass.Conn, error) {
	if c, ok := node.Conn(peer); ok {
		return c, nil
	}
	if peer == node.config.Addr {
		return nil, errors.Errorf("node %d cannot connect to itself", peer)
	}

	id, free, err := node.reserve()
	if err != nil {
		return nil, errors.Wrapf(err, "dial %d->%d", node.config.Addr, peer)
	}
	c, err := xpass.NewConn(xpass.ConnConfig{
		ID:       id,
		Local:    node.config.Addr,
		Peer:     peer,
		Params:   node.config.Params,
		Sched:    node.config.Sched,
		Sink:     node.config.Sink,
		App:      node.config.App,
		Recorder: node.config.Recorder,
		Rand:     node.config.Context.Rand(node.config.Addr, peer),
		Logger:   node.logger,
	})
	if err != nil {
		free()
		return nil, err
	}
	if err := node.config.Arena.Set(id, c); err != nil {
		free()
		return nil, err
	}

	node.conns[peer] = id
	node.frees[id] = free
	node.logger.Debugf("conn %d opened: %d->%d", id, node.config.Addr, peer)
	return c, nil
}

func (node *Node) reserve() (xpass.ConnID, func(), error) {
	id, free, err := node.config.Arena.Reserve()
	if errors.Cause(err) == ErrNoConnSlot && node.config.Reclaim != nil {
		if n := node.config.Reclaim(); n > 0 {
			node.logger.Debugf("reclaimed %d idle connections", n)
			return node.config.Arena.Reserve()
		}
	}
	return id, free, err
}

// Send arms the connection to peer with an outbound message of bytes bytes.
// It fails with ErrConnBusy unless the previous message was retired.
func (node *Node) Send(peer xpass.Addr, bytes int, msg *xpass.Message) error {
	c, err := node.Dial(peer)
	if err != nil {
		return err
	}
	if c.ConsumerState() != xpass.ConsumerClosed {
		return errors.Wrapf(ErrConnBusy, "%d->%d is %s", node.config.Addr, peer, c.ConsumerState())
	}
	c.Advance(bytes, msg)
	return nil
}

// Receive implements sim.Receiver.
func (node *Node) Receive(p *xpass.Packet) {
	if err := node.Deliver(p); err != nil {
		node.unknown++
		node.logger.WithError(err).Warnf("dropping %s", p)
	}
}

// Deliver hands p to the connection it belongs to. A credit request from a
// new peer opens a connection, any other packet needs one.
func (node *Node) Deliver(p *xpass.Packet) error {
	if p.Dst != node.config.Addr {
		return errors.Wrapf(ErrWrongHost, "node %d got packet for %d", node.config.Addr, p.Dst)
	}

	c, ok := node.Conn(p.Src)
	if !ok {
		if p.Kind != xpass.KindCreditRequest {
			return errors.Wrapf(ErrNoConn, "%s from %d", p.Kind, p.Src)
		}
		var err error
		if c, err = node.Dial(p.Src); err != nil {
			return err
		}
	}

	c.Receive(p)
	return nil
}

// Conns returns the connections of the node ordered by peer.
func (node *Node) Conns() []*xpass.Conn {
	peers := make([]xpass.Addr, 0, len(node.conns))
	for peer := range node.conns {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	out := make([]*xpass.Conn, 0, len(peers))
	for _, peer := range peers {
		if c, ok := node.Conn(peer); ok {
			out = append(out, c)
		}
	}
	return out
}

// Reap drops the connections between node and peer when both ends are idle.
// Both ends go together, so the next flow of the pair starts from fresh
// sequence state. It reports whether anything was released.
func (node *Node) Reap(peer *Node) bool {
	local, lok := node.Conn(peer.Addr())
	remote, rok := peer.Conn(node.Addr())
	if !lok && !rok {
		return false
	}
	if (lok && !local.Idle()) || (rok && !remote.Idle()) {
		return false
	}
	node.drop(peer.Addr())
	peer.drop(node.Addr())
	return true
}

func (node *Node) drop(peer xpass.Addr) {
	id, ok := node.conns[peer]
	if !ok {
		return
	}
	if c, ok := node.config.Arena.Get(id); ok {
		addStats(&node.released, c.Stats())
	}
	if free, ok := node.frees[id]; ok {
		free()
	}
	delete(node.conns, peer)
	delete(node.frees, id)
	node.logger.Debugf("conn %d released: %d->%d", id, node.config.Addr, peer)
}

// Close releases every slot of the node, idle or not.
func (node *Node) Close() error {
	for peer := range node.conns {
		node.drop(peer)
	}
	return nil
}

// Unknown returns the number of packets the node could not deliver.
func (node *Node) Unknown() int { return node.unknown }

// Stats sums the counters of every connection the node has had.
func (node *Node) Stats() xpass.Stats {
	s := node.released
	for _, c := range node.Conns() {
		addStats(&s, c.Stats())
	}
	return s
}

func addStats(s *xpass.Stats, cs xpass.Stats) {
	s.BytesAdvanced += cs.BytesAdvanced
	s.BytesSent += cs.BytesSent
	s.BytesReceived += cs.BytesReceived
	s.PacketsSent += cs.PacketsSent
	s.CreditsIssued += cs.CreditsIssued
	s.CreditsReceived += cs.CreditsReceived
	s.CreditsWasted += cs.CreditsWasted
	s.FlowsCompleted += cs.FlowsCompleted
}
