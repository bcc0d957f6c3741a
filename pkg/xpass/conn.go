package xpass

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/skycoin/skycoin/src/util/logging"
)

// ConnConfig wires a connection to its collaborators.
type ConnConfig struct {
	ID       ConnID
	Local    Addr
	Peer     Addr
	Params   Config
	Sched    Scheduler
	Sink     PacketSink
	App      Application
	Recorder FlowRecorder    // optional
	Rand     *rand.Rand      // per-connection source for jitter and credit sizes
	Logger   *logging.Logger // optional
}

// Conn is one endpoint of a flow between two hosts. It owns the credit issuer
// that grants credits to the peer and the credit consumer that spends the
// peer's credits on the outbound message.
type Conn struct {
	id    ConnID
	local Addr
	peer  Addr
	cfg   Config

	sched    Scheduler
	sink     PacketSink
	app      Application
	recorder FlowRecorder
	rng      *rand.Rand
	log      logrus.FieldLogger

	rtt     RTTEstimator
	rate    *Controller
	pending [numTimerKinds]bool

	iss  issuer
	cons consumer

	// Byte sequence state. curSeq counts bytes handed to Advance, tSeqno
	// bytes sent and recvNext the next byte expected from the peer.
	curSeq   int64
	tSeqno   int64
	recvNext int64

	// cSeqno is the next credit to issue, cRecvNext the next credit expected
	// back in a data segment.
	cSeqno    uint32
	cRecvNext uint32

	waitRetransmission bool
	inbound            inboundMessage

	bytesReceived int64
	packetsSent   int
}

type inboundMessage struct {
	msg  *Message
	got  int
	done bool
}

// NewConn returns a Conn with both roles Closed.
func NewConn(cc ConnConfig) (*Conn, error) {
	if err := cc.Params.Validate(); err != nil {
		return nil, err
	}
	if cc.Sched == nil || cc.Sink == nil || cc.App == nil {
		return nil, errors.New("xpass: scheduler, sink and application are required")
	}
	if cc.Rand == nil {
		return nil, errors.New("xpass: per-connection random source is required")
	}
	logger := cc.Logger
	if logger == nil {
		logger = log
	}
	return &Conn{
		id:        cc.ID,
		local:     cc.Local,
		peer:      cc.Peer,
		cfg:       cc.Params,
		sched:     cc.Sched,
		sink:      cc.Sink,
		app:       cc.App,
		recorder:  cc.Recorder,
		rng:       cc.Rand,
		log:       logger.WithFields(logrus.Fields{"conn": cc.ID, "local": cc.Local, "peer": cc.Peer}),
		rate:      NewController(cc.Params),
		cSeqno:    1,
		cRecvNext: 1,
	}, nil
}

// ID returns the arena index of the connection.
func (c *Conn) ID() ConnID { return c.id }

// Local returns the address of the host owning the connection.
func (c *Conn) Local() Addr { return c.local }

// Peer returns the address of the remote host.
func (c *Conn) Peer() Addr { return c.peer }

// Receive dispatches an arriving packet to the role it is addressed to.
func (c *Conn) Receive(p *Packet) {
	c.log.Debugf("recv %s", p)
	switch p.Kind {
	case KindCreditRequest:
		c.onCreditRequest(p)
	case KindCredit:
		c.onCredit(p)
	case KindCreditStop:
		c.onCreditStop(p)
	case KindData:
		c.onData(p)
	case KindNack:
		c.onNack(p)
	default:
		c.violation("receive", "unknown packet kind %s", p.Kind)
	}
}

// Idle reports whether both roles are Closed and no timer is pending.
func (c *Conn) Idle() bool {
	return c.iss.state == IssuerClosed && c.cons.state == ConsumerClosed && !c.anyPending()
}

func (c *Conn) now() time.Duration {
	return c.sched.Now()
}

func (c *Conn) newPacket(kind Kind) *Packet {
	return &Packet{
		Kind:      kind,
		Src:       c.local,
		Dst:       c.peer,
		Seq:       c.tSeqno,
		Ack:       c.recvNext,
		HeaderLen: c.cfg.HeaderSize,
	}
}

func (c *Conn) send(p *Packet) {
	c.log.Debugf("send %s", p)
	c.packetsSent++
	c.sink.Send(p)
}

func (c *Conn) record(rec FlowRecord) {
	if c.recorder == nil {
		return
	}
	rec.Local = c.local
	rec.Peer = c.peer
	c.recorder.RecordFlow(rec)
}

// onData handles a data segment from the peer, which spends a credit issued
// by this side.
func (c *Conn) onData(p *Packet) {
	distance := creditDistance(p.CreditSeq, c.cRecvNext)
	if distance < 0 {
		c.violation("data", "credit sequence reverted: got %d, expected %d", p.CreditSeq, c.cRecvNext)
	}
	c.rate.Observe(distance)
	c.cRecvNext = nextCreditSeq(p.CreditSeq)

	msgBytes := 0
	if p.Msg != nil {
		msgBytes = p.Msg.Bytes()
	}
	payload := c.cfg.PayloadLen(p.Size, p.HeaderLen, msgBytes)
	if payload < 0 {
		c.violation("data", "negative payload length %d", payload)
	}
	accepted := c.processAck(p, payload)
	c.rtt.Update(c.now() - p.CreditSentAt)

	if accepted {
		c.deliver(p.Msg, payload)
	}
}

// processAck checks byte continuity and reports whether the segment is the
// next one expected.
func (c *Conn) processAck(p *Packet, payload int) bool {
	switch {
	case p.Seq > c.recvNext:
		if c.cfg.Recovery == RecoveryNone {
			c.violation("data", "data loss: expected seq %d, received %d", c.recvNext, p.Seq)
		}
		c.log.Debugf("data loss: expected seq %d, received %d", c.recvNext, p.Seq)
		if !c.waitRetransmission {
			c.waitRetransmission = true
			c.send(c.nack(c.recvNext))
			c.reschedule(TimerReceiverRetransmit, c.cfg.RetransmitTimeout.Duration())
		}
		return false
	case p.Seq == c.recvNext:
		if c.waitRetransmission {
			c.waitRetransmission = false
			c.cancel(TimerReceiverRetransmit)
		}
		c.recvNext += int64(payload)
		c.bytesReceived += int64(payload)
		return true
	default:
		return false
	}
}

func (c *Conn) deliver(msg *Message, payload int) {
	if msg == nil {
		return
	}
	if c.inbound.msg == nil || c.inbound.msg.ID != msg.ID {
		c.inbound = inboundMessage{msg: msg}
	}
	if c.inbound.done {
		return
	}
	c.inbound.got += payload
	c.iss.lastMsg = msg
	if c.inbound.got >= msg.Bytes() {
		c.inbound.done = true
		c.app.OnMessageReceived(c.inbound.got, msg)
	}
}

func (c *Conn) nack(ack int64) *Packet {
	p := c.newPacket(KindNack)
	p.Seq = 0
	p.Ack = ack
	p.Size = c.cfg.MinEthernetSize
	return p
}

func (c *Conn) onReceiverRetransmit() {
	if !c.waitRetransmission {
		return
	}
	c.send(c.nack(c.recvNext))
	c.schedule(TimerReceiverRetransmit, c.cfg.RetransmitTimeout.Duration())
}

// Stats is a snapshot of a connection's counters.
type Stats struct {
	Issuer          IssuerState
	Consumer        ConsumerState
	Rate            float64
	W               float64
	RTT             time.Duration
	BytesAdvanced   int64
	BytesSent       int64
	BytesReceived   int64
	PacketsSent     int
	CreditsIssued   int
	CreditsReceived int
	CreditsWasted   int
	FlowsCompleted  int
	LastFCT         time.Duration
}

// Stats returns a snapshot of the connection's counters.
func (c *Conn) Stats() Stats {
	return Stats{
		Issuer:          c.iss.state,
		Consumer:        c.cons.state,
		Rate:            c.rate.Rate(),
		W:               c.rate.W(),
		RTT:             c.rtt.Value(),
		BytesAdvanced:   c.curSeq,
		BytesSent:       c.tSeqno,
		BytesReceived:   c.bytesReceived,
		PacketsSent:     c.packetsSent,
		CreditsIssued:   c.iss.creditsIssued,
		CreditsReceived: c.cons.creditsReceived,
		CreditsWasted:   c.cons.wastedTotal,
		FlowsCompleted:  c.iss.flowsCompleted,
		LastFCT:         c.iss.lastFCT,
	}
}
